/**
 * @description
 * This package provides a client for the chat transport daemon, which speaks a
 * line-delimited JSON protocol over a local TCP socket. The client subscribes
 * to the bot's account, surfaces inbound text/payment events on a channel, and
 * sends outbound messages, payment receipts, and payment-address lookups.
 *
 * Request/response exchanges (e.g. payment-address lookups) are correlated by
 * a client-generated id; unsolicited inbound envelopes go to the events channel.
 *
 * @dependencies
 * - bufio, context, encoding/json, net, sync: Standard Go libraries.
 * - github.com/google/uuid: Correlation ids.
 */
package chatclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoPaymentAddress is returned when the recipient has no payment address on
// file with the transport (payments not enabled in their chat app).
var ErrNoPaymentAddress = errors.New("recipient has no payment address")

// Event is one inbound chat event keyed by sender. Either Text or
// PaymentReceipt (or both) is set.
type Event struct {
	Sender         string
	Text           string
	PaymentReceipt string
}

// Client is a client for the chat transport socket.
type Client struct {
	account string
	conn    net.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	events chan Event
	done   chan struct{}
}

type envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Account   string          `json:"account,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Source    string          `json:"source,omitempty"`
	Text      string          `json:"text,omitempty"`
	Receipt   json.RawMessage `json:"receipt,omitempty"`
	Memo      string          `json:"memo,omitempty"`
	Address   string          `json:"address,omitempty"`
	Error     string          `json:"error,omitempty"`

	Attachments []string `json:"attachments,omitempty"`
}

// Dial connects to the transport socket and subscribes to the bot account.
func Dial(addr, account string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("chat transport dial: %w", err)
	}

	c := &Client{
		account: account,
		conn:    conn,
		pending: make(map[string]chan envelope),
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
	}
	if err := c.write(envelope{Type: "subscribe", Account: account}); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// Events returns the stream of inbound text/payment events. The channel is
// closed when the transport connection drops.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Send delivers a text message (with optional attachments) to a recipient.
func (c *Client) Send(ctx context.Context, recipient, text string, attachments []string) error {
	return c.write(envelope{
		Type:        "send",
		Account:     c.account,
		Recipient:   recipient,
		Text:        text,
		Attachments: attachments,
	})
}

// SendPaymentReceipt delivers a ledger receipt to a recipient so their chat
// app can claim the attached transfer.
func (c *Client) SendPaymentReceipt(ctx context.Context, recipient, receipt, memo string) error {
	return c.write(envelope{
		Type:      "send_payment_receipt",
		Account:   c.account,
		Recipient: recipient,
		Receipt:   json.RawMessage(receipt),
		Memo:      memo,
	})
}

// GetPaymentAddress asks the transport for a recipient's payment address.
func (c *Client) GetPaymentAddress(ctx context.Context, recipient string) (string, error) {
	id := uuid.NewString()
	ch := make(chan envelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	err := c.write(envelope{
		Type:      "get_payment_address",
		ID:        id,
		Account:   c.account,
		Recipient: recipient,
	})
	if err != nil {
		return "", err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return "", fmt.Errorf("chat transport get_payment_address: %s", resp.Error)
		}
		if resp.Address == "" {
			return "", ErrNoPaymentAddress
		}
		return resp.Address, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", errors.New("chat transport connection closed")
	}
}

// Close tears down the transport connection.
func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) write(env envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	body = append(body, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(body)
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.done)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var env envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			log.Printf("level=warn component=chatclient msg=\"malformed envelope\" err=%v", err)
			continue
		}

		if env.ID != "" {
			c.pendingMu.Lock()
			ch, ok := c.pending[env.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- env
			}
			continue
		}

		if env.Type != "message" || env.Source == "" {
			continue
		}
		c.events <- Event{
			Sender:         env.Source,
			Text:           env.Text,
			PaymentReceipt: string(env.Receipt),
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("level=error component=chatclient msg=\"transport read failed\" err=%v", err)
	}
}
