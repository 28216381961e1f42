package app

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/coindrop/drop-service/pkg/geoclient"
	"github.com/coindrop/drop-service/pkg/ledgerclient"
)

// fakeChat records outbound traffic and serves a fixed payment address.
type fakeChat struct {
	sent           []string
	receipts       []string
	paymentAddress string
	addressErr     error
}

func (c *fakeChat) Send(ctx context.Context, recipient, text string, attachments []string) error {
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChat) SendPaymentReceipt(ctx context.Context, recipient, receipt, memo string) error {
	c.receipts = append(c.receipts, memo)
	return nil
}

func (c *fakeChat) GetPaymentAddress(ctx context.Context, recipient string) (string, error) {
	if c.addressErr != nil {
		return "", c.addressErr
	}
	if c.paymentAddress == "" {
		return "addr-test", nil
	}
	return c.paymentAddress, nil
}

func (c *fakeChat) lastSent() string {
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

// fakeLedger scripts transaction and receipt outcomes.
type fakeLedger struct {
	balance         int64
	submitErr       error
	txStatus        string
	receiptStatuses []*ledgerclient.ReceiptStatus

	submittedAmounts []int64
	receiptPolls     int
}

func (l *fakeLedger) BuildAndSubmitTransaction(ctx context.Context, amount int64, toAddress string) (*ledgerclient.SubmittedTransaction, error) {
	if l.submitErr != nil {
		return nil, l.submitErr
	}
	l.submittedAmounts = append(l.submittedAmounts, amount)
	return &ledgerclient.SubmittedTransaction{
		TxoID:    fmt.Sprintf("txo-%d", len(l.submittedAmounts)),
		Proposal: json.RawMessage(`{}`),
	}, nil
}

func (l *fakeLedger) GetTransactionStatus(ctx context.Context, txoID string) (string, error) {
	if l.txStatus == "" {
		return ledgerclient.TxStatusLanded, nil
	}
	return l.txStatus, nil
}

func (l *fakeLedger) CreateReceiverReceipt(ctx context.Context, proposal json.RawMessage) (string, error) {
	return "receipt-out", nil
}

func (l *fakeLedger) CheckReceiptStatus(ctx context.Context, address, receipt string) (*ledgerclient.ReceiptStatus, error) {
	if len(l.receiptStatuses) == 0 {
		return &ledgerclient.ReceiptStatus{Status: ledgerclient.ReceiptStatusSuccess}, nil
	}
	status := l.receiptStatuses[0]
	if len(l.receiptStatuses) > 1 {
		l.receiptStatuses = l.receiptStatuses[1:]
	}
	l.receiptPolls++
	return status, nil
}

func (l *fakeLedger) GetUnspentBalance(ctx context.Context) (int64, error) {
	if l.balance == 0 {
		return 1 << 50, nil
	}
	return l.balance, nil
}

// fakeGeo resolves every address to a fixed result.
type fakeGeo struct {
	address *geoclient.Address
	err     error
}

func (g *fakeGeo) Geocode(ctx context.Context, freeText, countryHint string) (*geoclient.Address, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.address != nil {
		return g.address, nil
	}
	return &geoclient.Address{Formatted: "1 Test Street, Testville", CountryCode: "GB"}, nil
}

const testFee = int64(400_000_000)

func newTestService(repo store.Repository) (*Service, *fakeChat, *fakeLedger) {
	chat := &fakeChat{}
	ledger := &fakeLedger{}
	svc := NewService(repo, chat, ledger, &fakeGeo{}, nil, Config{
		MinimumFee:          testFee,
		ReceiptPollInterval: time.Millisecond,
		ReceiptPollAttempts: 3,
		TxPollInterval:      time.Millisecond,
		TxPollAttempts:      3,
		ClaimBackoff:        BackoffPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		PaymentAddress:      "bot-address",
	})
	return svc, chat, ledger
}

func textMessage(customerID uuid.UUID, text string) *domain.Message {
	return &domain.Message{
		ID:         uuid.New(),
		CustomerID: customerID,
		Direction:  domain.MessageDirectionReceived,
		Text:       text,
		Status:     domain.MessageStatusProcessing,
	}
}

func paymentMessage(customerID uuid.UUID) *domain.Message {
	msg := textMessage(customerID, "")
	msg.PaymentReceipt = "receipt-in"
	return msg
}

// overrideRepoStub serves a customer with an active session under manual override.
type overrideRepoStub struct {
	store.Repository

	customer *domain.Customer
	session  *domain.DropSession
	drop     *domain.Drop

	stateUpdates []domain.SessionState
	sentRecorded int
}

func (s *overrideRepoStub) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	return s.customer, nil
}

func (s *overrideRepoStub) FindActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*domain.DropSession, error) {
	if s.session == nil {
		return nil, store.ErrSessionNotFound
	}
	return s.session, nil
}

func (s *overrideRepoStub) FindDropByID(ctx context.Context, dropID uuid.UUID) (*domain.Drop, error) {
	return s.drop, nil
}

func (s *overrideRepoStub) UpdateSessionState(ctx context.Context, sessionID uuid.UUID, state domain.SessionState) error {
	s.stateUpdates = append(s.stateUpdates, state)
	return nil
}

func (s *overrideRepoStub) RecordSentMessage(ctx context.Context, message *domain.Message) error {
	s.sentRecorded++
	return nil
}

func TestProcessMessage_ManualOverrideSilencesBot(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900001"}
	drop := activeAirdrop()
	repo := &overrideRepoStub{
		customer: customer,
		drop:     drop,
		session: &domain.DropSession{
			ID:             uuid.New(),
			CustomerID:     customer.ID,
			DropID:         drop.ID,
			State:          domain.SessionStateWaitingForPayment,
			ManualOverride: true,
		},
	}
	svc, chat, _ := newTestService(repo)

	if err := svc.ProcessMessage(context.Background(), textMessage(customer.ID, "hello?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chat.sent) != 0 {
		t.Fatalf("expected no outbound messages under manual override, got %v", chat.sent)
	}
	if len(repo.stateUpdates) != 0 {
		t.Fatalf("expected no state changes under manual override, got %v", repo.stateUpdates)
	}
}

func activeAirdrop() *domain.Drop {
	return &domain.Drop{
		ID:                uuid.New(),
		Type:              domain.DropTypeAirdrop,
		Name:              "launch airdrop",
		StartTime:         time.Now().Add(-time.Hour),
		EndTime:           time.Now().Add(time.Hour),
		InitialCoinAmount: 1_000_000_000_000,
		InitialCoinLimit:  100,
	}
}

func activeItemDrop(itemID uuid.UUID) *domain.Drop {
	return &domain.Drop{
		ID:              uuid.New(),
		Type:            domain.DropTypeItem,
		Name:            "hoodie drop",
		StartTime:       time.Now().Add(-time.Hour),
		EndTime:         time.Now().Add(time.Hour),
		CountryCodeHint: "GB",
		ItemID:          &itemID,
	}
}
