/**
 * @description
 * Payment reconciliation. Inbound transfers are confirmed against the ledger
 * before any money is promised back; confirmed amounts are classified against
 * the expected price; refunds, bonuses, and apologies are issued exactly once
 * per triggering event. Every outbound transfer is logged as a Payment row
 * tagged with a memo describing its reason — that memo log is the audit trail.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/pkg/chatclient"
	"github.com/coindrop/drop-service/pkg/ledgerclient"
	"github.com/coindrop/drop-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// PaymentOutcome classifies a confirmed paid amount against an expected price.
type PaymentOutcome int

const (
	OutcomeExactOrBonus PaymentOutcome = iota
	OutcomeUnderpaid
	OutcomeOverpaid
	OutcomeUnsolicited
)

func (o PaymentOutcome) String() string {
	switch o {
	case OutcomeExactOrBonus:
		return "exact_or_bonus"
	case OutcomeUnderpaid:
		return "underpaid"
	case OutcomeOverpaid:
		return "overpaid"
	case OutcomeUnsolicited:
		return "unsolicited"
	}
	return "unknown"
}

// ClassifyPayment is total and exclusive over {Underpaid, Overpaid,
// ExactOrBonus}: an amount within [expected, expected+fee] counts as exact,
// since the overage would be eaten by the refund's own network fee.
func ClassifyPayment(paid, expected, fee int64) PaymentOutcome {
	if paid < expected {
		return OutcomeUnderpaid
	}
	if paid > expected+fee {
		return OutcomeOverpaid
	}
	return OutcomeExactOrBonus
}

// handlePayment is the router's payment handler: every payment-bearing
// message lands here, with or without an active session.
func (s *Service) handlePayment(ctx context.Context, cc *ChatContext) error {
	amount, err := s.confirmInboundPayment(ctx, cc.Message.PaymentReceipt)
	if err != nil {
		var txErr *TransactionFailedError
		if errors.As(err, &txErr) {
			// The inbound transfer failed on the ledger: tell the customer,
			// change no state.
			return s.reply(ctx, cc, copyTransactionFailed)
		}
		return fmt.Errorf("confirm inbound payment: %w", err)
	}

	awaiting := cc.Session != nil &&
		cc.Session.State == domain.SessionStateWaitingForPayment &&
		!cc.Session.ManualOverride

	inbound := &domain.Payment{
		ID:         uuid.New(),
		CustomerID: cc.Customer.ID,
		Amount:     amount,
		Direction:  domain.PaymentDirectionFromCustomer,
		Status:     domain.PaymentStatusCompleted,
		Memo:       domain.MemoCustomerPayment,
	}
	if cc.Session != nil {
		inbound.SessionID = &cc.Session.ID
	}
	if awaiting && cc.Drop.Type == domain.DropTypeItem {
		inbound.Memo = domain.MemoItemPayment
	}
	if err := s.repo.CreatePayment(ctx, inbound); err != nil {
		return fmt.Errorf("record inbound payment: %w", err)
	}

	if !awaiting {
		return s.handleUnsolicitedPayment(ctx, cc, amount)
	}

	switch cc.Drop.Type {
	case domain.DropTypeAirdrop:
		return s.airdropHandlePayment(ctx, cc, amount)
	case domain.DropTypeItem:
		return s.itemHandlePayment(ctx, cc, amount)
	default:
		return fmt.Errorf("payment for unknown drop type %q", cc.Drop.Type)
	}
}

// handleUnsolicitedPayment refunds money nobody asked for, minus the network
// fee — unless the amount is fee-sized dust that is not worth a transaction.
func (s *Service) handleUnsolicitedPayment(ctx context.Context, cc *ChatContext, amount int64) error {
	if amount <= s.cfg.MinimumFee {
		return s.reply(ctx, cc, copyUnsolicitedDust)
	}
	if err := s.sendCoins(ctx, cc, nil, amount-s.cfg.MinimumFee, domain.MemoRefundUnsolicited, false); err != nil {
		return fmt.Errorf("unsolicited refund: %w", err)
	}
	return s.reply(ctx, cc, copyUnsolicitedRefunded)
}

// confirmInboundPayment polls the ledger for confirmation of an inbound
// transfer. Money is never promised against an unconfirmed receipt.
func (s *Service) confirmInboundPayment(ctx context.Context, receipt string) (int64, error) {
	for attempt := 0; attempt < s.cfg.ReceiptPollAttempts; attempt++ {
		status, err := s.ledger.CheckReceiptStatus(ctx, s.cfg.PaymentAddress, receipt)
		if err != nil {
			return 0, fmt.Errorf("check receipt status: %w", err)
		}
		switch status.Status {
		case ledgerclient.ReceiptStatusSuccess:
			return status.Amount, nil
		case ledgerclient.ReceiptStatusPending:
			select {
			case <-time.After(s.cfg.ReceiptPollInterval):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		default:
			return 0, &TransactionFailedError{Status: status.Status}
		}
	}
	return 0, fmt.Errorf("receipt still pending after %d polls", s.cfg.ReceiptPollAttempts)
}

// refundSessionPayment refunds paid coins for a session. When the drop's
// fee-coverage budget has room the bot absorbs the network fee and refunds the
// full amount; otherwise the fee comes out of the refund. Fee-sized dust is
// kept with an explanation rather than burned on a transaction.
func (s *Service) refundSessionPayment(ctx context.Context, cc *ChatContext, amount int64, memo string) error {
	coverFee := false
	if cc.Drop.MaxFeeCoveredRefunds > 0 {
		covered, err := s.repo.CountFeeCoveredRefunds(ctx, cc.Drop.ID)
		if err != nil {
			return fmt.Errorf("count fee-covered refunds: %w", err)
		}
		coverFee = covered < cc.Drop.MaxFeeCoveredRefunds
	}

	refund := amount
	if !coverFee {
		refund = amount - s.cfg.MinimumFee
	}
	if refund <= 0 {
		return s.reply(ctx, cc, copyRefundNotPossible)
	}
	if err := s.sendCoins(ctx, cc, &cc.Session.ID, refund, memo, coverFee); err != nil {
		return err
	}
	s.publishEvent(ctx, rabbitmq.RoutingKeyRefundIssued, rabbitmq.PaymentEvent{
		CustomerID: cc.Customer.ID,
		Amount:     refund,
		Memo:       memo,
		Timestamp:  s.now(),
	})
	return nil
}

// sendCoins moves money to the customer: the Payment row is created before the
// ledger call is attempted, the submitted transaction is polled until it
// lands, and the receiver receipt is delivered over the chat transport.
func (s *Service) sendCoins(ctx context.Context, cc *ChatContext, sessionID *uuid.UUID, amount int64, memo string, feeCovered bool) error {
	address, err := s.chat.GetPaymentAddress(ctx, cc.Customer.PhoneNumber)
	if err != nil {
		if errors.Is(err, chatclient.ErrNoPaymentAddress) {
			if replyErr := s.reply(ctx, cc, copyEnablePayments); replyErr != nil {
				return replyErr
			}
		}
		return fmt.Errorf("payment address for %s: %w", cc.Customer.ID, err)
	}

	payment := &domain.Payment{
		ID:         uuid.New(),
		CustomerID: cc.Customer.ID,
		SessionID:  sessionID,
		Amount:     amount,
		Direction:  domain.PaymentDirectionToCustomer,
		Status:     domain.PaymentStatusPending,
		Memo:       memo,
		FeeCovered: feeCovered,
	}
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return fmt.Errorf("create payment row: %w", err)
	}

	var submitted *ledgerclient.SubmittedTransaction
	err = Retry(ctx, s.cfg.ClaimBackoff, transientLedgerError, func() error {
		var submitErr error
		submitted, submitErr = s.ledger.BuildAndSubmitTransaction(ctx, amount, address)
		return submitErr
	})
	if err != nil {
		s.markPaymentFailed(ctx, payment.ID, nil)
		return fmt.Errorf("build and submit: %w", err)
	}
	if err := s.repo.UpdatePaymentResult(ctx, payment.ID, domain.PaymentStatusSubmitted, &submitted.TxoID); err != nil {
		log.Printf("level=error component=reconciler msg=\"payment status update failed\" payment=%s err=%v", payment.ID, err)
	}

	if err := s.awaitTransactionLanded(ctx, submitted.TxoID); err != nil {
		s.markPaymentFailed(ctx, payment.ID, &submitted.TxoID)
		return err
	}

	receipt, err := s.ledger.CreateReceiverReceipt(ctx, submitted.Proposal)
	if err != nil {
		return fmt.Errorf("create receiver receipt: %w", err)
	}
	if err := s.chat.SendPaymentReceipt(ctx, cc.Customer.PhoneNumber, receipt, memo); err != nil {
		return fmt.Errorf("send payment receipt: %w", err)
	}

	if err := s.repo.UpdatePaymentResult(ctx, payment.ID, domain.PaymentStatusCompleted, &submitted.TxoID); err != nil {
		log.Printf("level=error component=reconciler msg=\"payment status update failed\" payment=%s err=%v", payment.ID, err)
	}
	s.publishEvent(ctx, rabbitmq.RoutingKeyPaymentSent, rabbitmq.PaymentEvent{
		PaymentID:  payment.ID,
		CustomerID: cc.Customer.ID,
		Amount:     amount,
		Memo:       memo,
		Timestamp:  s.now(),
	})
	return nil
}

func (s *Service) awaitTransactionLanded(ctx context.Context, txoID string) error {
	for attempt := 0; attempt < s.cfg.TxPollAttempts; attempt++ {
		status, err := s.ledger.GetTransactionStatus(ctx, txoID)
		if err != nil {
			return fmt.Errorf("poll transaction %s: %w", txoID, err)
		}
		switch status {
		case ledgerclient.TxStatusLanded:
			return nil
		case ledgerclient.TxStatusPending:
			select {
			case <-time.After(s.cfg.TxPollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return &TransactionFailedError{TxoID: txoID, Status: status}
		}
	}
	return fmt.Errorf("transaction %s still pending after %d polls", txoID, s.cfg.TxPollAttempts)
}

func (s *Service) markPaymentFailed(ctx context.Context, paymentID uuid.UUID, txoID *string) {
	if err := s.repo.UpdatePaymentResult(ctx, paymentID, domain.PaymentStatusFailed, txoID); err != nil {
		log.Printf("level=error component=reconciler msg=\"payment failure update failed\" payment=%s err=%v", paymentID, err)
	}
}

// transientLedgerError treats everything except an explicit ledger failure as
// retryable; RPC-level flakiness should not abort a disbursement outright.
func transientLedgerError(err error) bool {
	var txErr *TransactionFailedError
	return !errors.As(err, &txErr)
}
