/**
 * @description
 * This package provides a client for the wallet ledger JSON-RPC service. It
 * encapsulates the logic for making requests to the wallet's endpoints,
 * handling request body construction, and parsing responses.
 *
 * The app layer consumes this client through the `app.Ledger` interface; the
 * client itself stays a thin transport wrapper with no business rules.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, strconv, time: Standard Go libraries.
 */
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Transaction output statuses reported by the ledger.
const (
	TxStatusLanded  = "txo_landed"
	TxStatusPending = "txo_pending"
	TxStatusFailed  = "txo_failed"
)

// Receipt statuses reported by the ledger.
const (
	ReceiptStatusPending = "TransactionPending"
	ReceiptStatusSuccess = "TransactionSuccess"
	ReceiptStatusFailure = "TransactionFailure"
)

// Client is a client for the wallet ledger JSON-RPC API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	account string
	reqID   atomic.Uint64
}

// NewClient creates a new ledger client bound to one wallet account.
func NewClient(baseURL, accountID string) *Client {
	return &Client{
		BaseURL: baseURL,
		account: accountID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		Method:  method,
		Params:  params,
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger rpc %s: status %d: %s", method, resp.StatusCode, raw)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("ledger rpc %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("ledger rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

// SubmittedTransaction is the outcome of a build-and-submit call: the output
// id to poll for landing, and the proposal needed to mint a receiver receipt.
type SubmittedTransaction struct {
	TxoID    string
	Proposal json.RawMessage
}

// BuildAndSubmitTransaction builds and submits a transfer of amount picocoins
// to the given address.
func (c *Client) BuildAndSubmitTransaction(ctx context.Context, amount int64, toAddress string) (*SubmittedTransaction, error) {
	params := map[string]interface{}{
		"account_id":        c.account,
		"recipient_address": toAddress,
		"value":             strconv.FormatInt(amount, 10),
	}
	var result struct {
		Transaction struct {
			OutputTxoIDs []string `json:"output_txo_ids"`
		} `json:"transaction_log"`
		Proposal json.RawMessage `json:"tx_proposal"`
	}
	if err := c.call(ctx, "build_and_submit_transaction", params, &result); err != nil {
		return nil, err
	}
	if len(result.Transaction.OutputTxoIDs) == 0 {
		return nil, fmt.Errorf("ledger rpc build_and_submit_transaction: no output txo ids")
	}
	return &SubmittedTransaction{
		TxoID:    result.Transaction.OutputTxoIDs[0],
		Proposal: result.Proposal,
	}, nil
}

// GetTransactionStatus reports whether a submitted transaction output has landed.
func (c *Client) GetTransactionStatus(ctx context.Context, txoID string) (string, error) {
	params := map[string]interface{}{
		"account_id": c.account,
		"txo_id":     txoID,
	}
	var result struct {
		Txo struct {
			Status string `json:"status"`
		} `json:"txo"`
	}
	if err := c.call(ctx, "get_txo", params, &result); err != nil {
		return "", err
	}
	return result.Txo.Status, nil
}

// CreateReceiverReceipt turns a transaction proposal into the receipt sent to
// the customer over the chat transport.
func (c *Client) CreateReceiverReceipt(ctx context.Context, proposal json.RawMessage) (string, error) {
	params := map[string]interface{}{
		"tx_proposal": proposal,
	}
	var result struct {
		Receipts []json.RawMessage `json:"receiver_receipts"`
	}
	if err := c.call(ctx, "create_receiver_receipts", params, &result); err != nil {
		return "", err
	}
	if len(result.Receipts) == 0 {
		return "", fmt.Errorf("ledger rpc create_receiver_receipts: no receipts returned")
	}
	return string(result.Receipts[0]), nil
}

// ReceiptStatus is the confirmation state of an inbound transfer, with the
// amount the ledger saw once the transfer succeeded.
type ReceiptStatus struct {
	Status string
	Amount int64
}

// CheckReceiptStatus asks the ledger whether the transfer behind a receipt has
// confirmed, and for how much.
func (c *Client) CheckReceiptStatus(ctx context.Context, address, receipt string) (*ReceiptStatus, error) {
	params := map[string]interface{}{
		"address":          address,
		"receiver_receipt": json.RawMessage(receipt),
	}
	var result struct {
		ReceiptTransactionStatus string `json:"receipt_transaction_status"`
		Txo                      struct {
			Value string `json:"value_pmob"`
		} `json:"txo"`
	}
	if err := c.call(ctx, "check_receiver_receipt_status", params, &result); err != nil {
		return nil, err
	}
	status := &ReceiptStatus{Status: result.ReceiptTransactionStatus}
	if result.Txo.Value != "" {
		amount, err := strconv.ParseInt(result.Txo.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ledger rpc check_receiver_receipt_status: parse amount: %w", err)
		}
		status.Amount = amount
	}
	return status, nil
}

// GetUnspentBalance returns the wallet's spendable balance in picocoins.
func (c *Client) GetUnspentBalance(ctx context.Context) (int64, error) {
	params := map[string]interface{}{
		"account_id": c.account,
	}
	var result struct {
		Balance struct {
			Unspent string `json:"unspent_pmob"`
		} `json:"balance"`
	}
	if err := c.call(ctx, "get_balance_for_account", params, &result); err != nil {
		return 0, err
	}
	if result.Balance.Unspent == "" {
		return 0, nil
	}
	return strconv.ParseInt(result.Balance.Unspent, 10, 64)
}
