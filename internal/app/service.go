/**
 * @description
 * This file contains the core orchestration for the drop-service. The `Service`
 * struct coordinates the chat router, the drop-session state machines, the
 * resource allocator, and the payment reconciler, communicating with the chat
 * transport and the wallet ledger through narrow interfaces.
 *
 * Key features:
 * - Every handler receives the triggering message/customer/session explicitly
 *   through a ChatContext; there is no ambient per-chat state.
 * - Outbound replies are recorded in the messages table before being sent, so
 *   the conversation log is complete even when the transport send fails.
 * - A session with manual_override set is never advanced here; a human
 *   operator is assumed to be responding.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/chatclient, pkg/ledgerclient, pkg/geoclient, pkg/rabbitmq: Collaborator clients.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/coindrop/drop-service/pkg/chatclient"
	"github.com/coindrop/drop-service/pkg/geoclient"
	"github.com/coindrop/drop-service/pkg/ledgerclient"
	"github.com/coindrop/drop-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// ChatSender is the outbound half of the chat transport.
type ChatSender interface {
	Send(ctx context.Context, recipient, text string, attachments []string) error
	SendPaymentReceipt(ctx context.Context, recipient, receipt, memo string) error
	GetPaymentAddress(ctx context.Context, recipient string) (string, error)
}

// Ledger is the wallet service the bot moves money through.
type Ledger interface {
	BuildAndSubmitTransaction(ctx context.Context, amount int64, toAddress string) (*ledgerclient.SubmittedTransaction, error)
	GetTransactionStatus(ctx context.Context, txoID string) (string, error)
	CreateReceiverReceipt(ctx context.Context, proposal json.RawMessage) (string, error)
	CheckReceiptStatus(ctx context.Context, address, receipt string) (*ledgerclient.ReceiptStatus, error)
	GetUnspentBalance(ctx context.Context) (int64, error)
}

// Geocoder resolves free-text shipping addresses.
type Geocoder interface {
	Geocode(ctx context.Context, freeText, countryHint string) (*geoclient.Address, error)
}

// RateLimiter caps inbound message throughput per customer.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// TransactionFailedError reports that the ledger rejected or failed a transfer.
type TransactionFailedError struct {
	TxoID  string
	Status string
}

func (e *TransactionFailedError) Error() string {
	return fmt.Sprintf("ledger transaction failed: txo=%s status=%s", e.TxoID, e.Status)
}

// Config carries the tunables of the conversational engine.
type Config struct {
	// MinimumFee is the network fee in picocoins, charged by the ledger per transfer.
	MinimumFee int64

	// Receipt confirmation polling (inbound transfers): fixed interval, bounded attempts.
	ReceiptPollInterval time.Duration
	ReceiptPollAttempts int

	// Submitted transaction polling (outbound transfers).
	TxPollInterval time.Duration
	TxPollAttempts int

	// Allocator and ledger retry policy.
	ClaimBackoff BackoffPolicy

	// PaymentAddress is the bot's own receiving address, used when checking
	// inbound receipt status.
	PaymentAddress string

	// Per-customer inbound rate limit; zero disables it.
	MessagesPerMinute int
}

// ChatContext is the explicit per-message context handed to every handler:
// the triggering message, its customer, and the customer's session/drop if any.
type ChatContext struct {
	Customer *domain.Customer
	Message  *domain.Message
	Session  *domain.DropSession
	Drop     *domain.Drop
}

// Service provides the conversational business logic of the drop bot.
type Service struct {
	repo     store.Repository
	chat     ChatSender
	ledger   Ledger
	geocoder Geocoder
	producer rabbitmq.Publisher
	limiter  RateLimiter

	cfg       Config
	router    *Router
	allocator *Allocator

	now func() time.Time
}

// NewService creates a new drop bot service instance and builds its handler table.
func NewService(
	repo store.Repository,
	chat ChatSender,
	ledger Ledger,
	geocoder Geocoder,
	producer rabbitmq.Publisher,
	cfg Config,
) *Service {
	if cfg.ReceiptPollInterval <= 0 {
		cfg.ReceiptPollInterval = 4 * time.Second
	}
	if cfg.ReceiptPollAttempts <= 0 {
		cfg.ReceiptPollAttempts = 15
	}
	if cfg.TxPollInterval <= 0 {
		cfg.TxPollInterval = 2 * time.Second
	}
	if cfg.TxPollAttempts <= 0 {
		cfg.TxPollAttempts = 30
	}
	if cfg.ClaimBackoff.MaxAttempts <= 0 {
		cfg.ClaimBackoff = DefaultBackoff()
	}

	s := &Service{
		repo:     repo,
		chat:     chat,
		ledger:   ledger,
		geocoder: geocoder,
		producer: producer,
		cfg:      cfg,
		now:      time.Now,
	}
	s.allocator = NewAllocator(repo, cfg.ClaimBackoff)
	s.router = s.buildRouter()
	return s
}

// SetRateLimiter installs the optional per-customer inbound rate limiter.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// EnqueueEvent persists one inbound transport event into the mailbox. This is
// the only write path into the queue; mailbox persistence failure is fatal to
// the event (the transport redelivers nothing, so the error is surfaced).
func (s *Service) EnqueueEvent(ctx context.Context, ev chatclient.Event) error {
	customer, err := s.repo.FindOrCreateCustomerByPhone(ctx, ev.Sender)
	if err != nil {
		return fmt.Errorf("enqueue: resolve customer: %w", err)
	}

	if s.limiter != nil && s.cfg.MessagesPerMinute > 0 && ev.PaymentReceipt == "" {
		count, retryAfter, limitErr := s.limiter.ConsumeRateLimit(
			ctx, "inbound_messages", customer.PhoneNumber, s.cfg.MessagesPerMinute, time.Minute)
		if limitErr != nil {
			log.Printf("level=warn component=mailbox msg=\"rate limiter unavailable; allowing\" err=%v", limitErr)
		} else if count > s.cfg.MessagesPerMinute {
			log.Printf("level=info component=mailbox msg=\"rate limited\" customer=%s retry_after=%d", customer.ID, retryAfter)
			return nil
		}
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		CustomerID:     customer.ID,
		Direction:      domain.MessageDirectionReceived,
		Text:           ev.Text,
		PaymentReceipt: ev.PaymentReceipt,
		Status:         domain.MessageStatusNotProcessed,
	}
	if err := s.repo.EnqueueMessage(ctx, msg); err != nil {
		return fmt.Errorf("enqueue: persist message: %w", err)
	}
	return nil
}

// ProcessMessage runs one claimed mailbox message through the router and the
// state machines. It is called by exactly one worker per message.
func (s *Service) ProcessMessage(ctx context.Context, msg *domain.Message) error {
	customer, err := s.repo.FindCustomerByID(ctx, msg.CustomerID)
	if err != nil {
		return fmt.Errorf("process: load customer: %w", err)
	}

	cc := &ChatContext{Customer: customer, Message: msg}
	if err := s.attachSessionAndDrop(ctx, cc); err != nil {
		return err
	}

	if cc.Session != nil && cc.Session.ManualOverride {
		// Operator takeover: the bot stays silent and changes nothing.
		return nil
	}

	handler := s.router.Route(cc)
	return handler(ctx, cc)
}

func (s *Service) attachSessionAndDrop(ctx context.Context, cc *ChatContext) error {
	session, err := s.repo.FindActiveSessionByCustomer(ctx, cc.Customer.ID)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("process: load session: %w", err)
	}
	cc.Session = session

	if session != nil {
		drop, err := s.repo.FindDropByID(ctx, session.DropID)
		if err != nil {
			return fmt.Errorf("process: load session drop: %w", err)
		}
		cc.Drop = drop
		return nil
	}

	drop, err := s.repo.FindActiveDrop(ctx, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNoActiveDrop) {
			return nil
		}
		return fmt.Errorf("process: load active drop: %w", err)
	}
	cc.Drop = drop
	return nil
}

// SendFallbackError sends the generic apology after an unexpected handler
// failure. Best effort: the message is already being marked ERROR.
func (s *Service) SendFallbackError(ctx context.Context, customerID uuid.UUID) {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		log.Printf("level=error component=service msg=\"fallback reply lookup failed\" customer=%s err=%v", customerID, err)
		return
	}
	cc := &ChatContext{Customer: customer}
	if err := s.reply(ctx, cc, copyGenericError); err != nil {
		log.Printf("level=error component=service msg=\"fallback reply send failed\" customer=%s err=%v", customerID, err)
	}
}

// reply records an outbound message and sends it over the transport.
func (s *Service) reply(ctx context.Context, cc *ChatContext, text string) error {
	return s.replyWithAttachment(ctx, cc, text, "")
}

func (s *Service) replyWithAttachment(ctx context.Context, cc *ChatContext, text, attachment string) error {
	out := &domain.Message{
		ID:         uuid.New(),
		CustomerID: cc.Customer.ID,
		Direction:  domain.MessageDirectionSent,
		Text:       text,
		Status:     domain.MessageStatusProcessed,
	}
	if err := s.repo.RecordSentMessage(ctx, out); err != nil {
		log.Printf("level=error component=service msg=\"record outbound failed\" customer=%s err=%v", cc.Customer.ID, err)
	}
	var attachments []string
	if attachment != "" {
		attachments = []string{attachment}
	}
	return s.chat.Send(ctx, cc.Customer.PhoneNumber, text, attachments)
}

func (s *Service) setSessionState(ctx context.Context, cc *ChatContext, state domain.SessionState) error {
	if err := s.repo.UpdateSessionState(ctx, cc.Session.ID, state); err != nil {
		return fmt.Errorf("advance session %s to %d: %w", cc.Session.ID, state, err)
	}
	cc.Session.State = state
	return nil
}

func (s *Service) publishEvent(ctx context.Context, routingKey string, body interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, "drop.events", routingKey, body); err != nil {
		log.Printf("level=warn component=service msg=\"audit event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
