package app

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
)

// airdropRepoStub backs one customer moving through an airdrop.
type airdropRepoStub struct {
	store.Repository

	customer *domain.Customer
	session  *domain.DropSession
	drop     *domain.Drop

	coins        []domain.BonusCoin
	disbursed    int
	feeCovered   int
	giftMarked   bool
	contactSet   *bool
	created      []*domain.DropSession
	payments     []*domain.Payment
	sessionCoins map[uuid.UUID]uuid.UUID
}

func newAirdropRepo(customer *domain.Customer, drop *domain.Drop) *airdropRepoStub {
	return &airdropRepoStub{
		customer:     customer,
		drop:         drop,
		sessionCoins: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *airdropRepoStub) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	return s.customer, nil
}

func (s *airdropRepoStub) FindDropByID(ctx context.Context, dropID uuid.UUID) (*domain.Drop, error) {
	return s.drop, nil
}

func (s *airdropRepoStub) CountInitialDisbursements(ctx context.Context, dropID uuid.UUID) (int, error) {
	return s.disbursed, nil
}

func (s *airdropRepoStub) CountFeeCoveredRefunds(ctx context.Context, dropID uuid.UUID) (int, error) {
	return s.feeCovered, nil
}

func (s *airdropRepoStub) SetCustomerReceivedGift(ctx context.Context, customerID uuid.UUID) error {
	s.giftMarked = true
	return nil
}

func (s *airdropRepoStub) SetCustomerAllowContact(ctx context.Context, customerID uuid.UUID, allow bool) error {
	s.contactSet = &allow
	return nil
}

func (s *airdropRepoStub) CreateDropSession(ctx context.Context, session *domain.DropSession) error {
	s.created = append(s.created, session)
	s.session = session
	return nil
}

func (s *airdropRepoStub) FindSessionByCustomerAndDrop(ctx context.Context, customerID, dropID uuid.UUID) (*domain.DropSession, error) {
	if s.session == nil {
		return nil, store.ErrSessionNotFound
	}
	return s.session, nil
}

func (s *airdropRepoStub) UpdateSessionState(ctx context.Context, sessionID uuid.UUID, state domain.SessionState) error {
	if s.session != nil && s.session.ID == sessionID {
		s.session.State = state
	}
	return nil
}

func (s *airdropRepoStub) ListAvailableBonusCoins(ctx context.Context, dropID uuid.UUID) ([]domain.BonusCoin, error) {
	out := make([]domain.BonusCoin, 0, len(s.coins))
	for _, c := range s.coins {
		if c.Remaining() > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *airdropRepoStub) ClaimBonusCoin(ctx context.Context, bonusCoinID uuid.UUID, expectedClaimed int) error {
	for i := range s.coins {
		if s.coins[i].ID == bonusCoinID && s.coins[i].NumberClaimed == expectedClaimed {
			s.coins[i].NumberClaimed++
			return nil
		}
	}
	return store.ErrConcurrentModification
}

func (s *airdropRepoStub) SetSessionBonusCoin(ctx context.Context, sessionID, bonusCoinID uuid.UUID) error {
	s.sessionCoins[sessionID] = bonusCoinID
	return nil
}

func (s *airdropRepoStub) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	s.payments = append(s.payments, payment)
	return nil
}

func (s *airdropRepoStub) UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus, txoID *string) error {
	for _, p := range s.payments {
		if p.ID == paymentID {
			p.Status = status
		}
	}
	return nil
}

func (s *airdropRepoStub) RecordSentMessage(ctx context.Context, message *domain.Message) error {
	return nil
}

func airdropContext(repo *airdropRepoStub, text string) *ChatContext {
	return &ChatContext{
		Customer: repo.customer,
		Message:  textMessage(repo.customer.ID, text),
		Session:  repo.session,
		Drop:     repo.drop,
	}
}

func TestAirdropStart_GreetsAndOpensReadySession(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900010"}
	repo := newAirdropRepo(customer, activeAirdrop())
	svc, chat, _ := newTestService(repo)

	cc := airdropContext(repo, "hi")
	cc.Session = nil
	if err := svc.airdropStart(context.Background(), cc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one session, got %d", len(repo.created))
	}
	if repo.created[0].State != domain.SessionStateReady {
		t.Fatalf("expected READY session, got %d", repo.created[0].State)
	}
	if chat.lastSent() != copyAirdropGreeting(repo.drop.InitialCoinAmount) {
		t.Fatalf("unexpected greeting: %q", chat.lastSent())
	}
}

func TestAirdropAccept_DisbursesGiftAndAdvances(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900011"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateReady,
	}
	svc, chat, ledger := newTestService(repo)

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "yes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.submittedAmounts) != 1 || ledger.submittedAmounts[0] != repo.drop.InitialCoinAmount {
		t.Fatalf("expected gift transfer of %d, got %v", repo.drop.InitialCoinAmount, ledger.submittedAmounts)
	}
	if !repo.giftMarked {
		t.Fatal("expected the customer to be marked as gifted")
	}
	if repo.session.State != domain.SessionStateWaitingForPayment {
		t.Fatalf("expected WAITING_FOR_PAYMENT, got %d", repo.session.State)
	}
	if len(repo.payments) != 1 || repo.payments[0].Memo != domain.MemoInitialCoins {
		t.Fatalf("expected an %q payment row, got %+v", domain.MemoInitialCoins, repo.payments)
	}
	if chat.lastSent() != copyAirdropInitialSent(repo.drop.InitialCoinAmount) {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropAccept_RepeatCustomerSkipsGift(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900012", ReceivedGift: true}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateReady,
	}
	svc, _, ledger := newTestService(repo)

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "yes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.submittedAmounts) != 0 {
		t.Fatalf("expected no second gift, got transfers %v", ledger.submittedAmounts)
	}
	if repo.session.State != domain.SessionStateWaitingForPayment {
		t.Fatalf("expected WAITING_FOR_PAYMENT, got %d", repo.session.State)
	}
}

func TestAirdropAccept_QuotaExhaustedClosesSession(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900013"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.drop.InitialCoinLimit = 5
	repo.disbursed = 5
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateReady,
	}
	svc, chat, ledger := newTestService(repo)

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "yes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.submittedAmounts) != 0 {
		t.Fatal("expected no transfer past the quota")
	}
	if repo.session.State != domain.SessionStateOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %d", repo.session.State)
	}
	if chat.lastSent() != copyAirdropExhausted {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropAccept_LowWalletBalanceClosesSession(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900023"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateReady,
	}
	svc, chat, ledger := newTestService(repo)
	ledger.balance = repo.drop.InitialCoinAmount // short of amount+fee

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "yes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.submittedAmounts) != 0 {
		t.Fatal("expected no transfer on an underfunded wallet")
	}
	if repo.session.State != domain.SessionStateOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %d", repo.session.State)
	}
	if chat.lastSent() != copyAirdropExhausted {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropDecline_CancelsSession(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900014"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateReady,
	}
	svc, chat, _ := newTestService(repo)

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "no")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.session.State != domain.SessionStateCancelled {
		t.Fatalf("expected CANCELLED, got %d", repo.session.State)
	}
	if chat.lastSent() != copySessionCancelled {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropPayment_PaysBackWithBonusAndFee(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900015"}
	repo := newAirdropRepo(customer, activeAirdrop())
	bonus := int64(2_000_000_000_000)
	repo.coins = []domain.BonusCoin{{
		ID: uuid.New(), DropID: repo.drop.ID, Amount: bonus, NumberAvailableAtStart: 3,
	}}
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateWaitingForPayment,
	}
	svc, chat, ledger := newTestService(repo)

	paid := int64(500_000_000_000)
	if err := svc.airdropHandlePayment(context.Background(), airdropContext(repo, ""), paid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.submittedAmounts) != 1 {
		t.Fatalf("expected one payout, got %d", len(ledger.submittedAmounts))
	}
	if got, want := ledger.submittedAmounts[0], paid+bonus+testFee; got != want {
		t.Fatalf("expected payout %d, got %d", want, got)
	}
	if repo.coins[0].NumberClaimed != 1 {
		t.Fatalf("expected one claimed bonus unit, got %d", repo.coins[0].NumberClaimed)
	}
	if repo.session.State != domain.SessionStateAllowContactRequested {
		t.Fatalf("expected ALLOW_CONTACT_REQUESTED, got %d", repo.session.State)
	}
	if chat.lastSent() != copyAllowContact {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropPayment_SoldOutRefundsAndCloses(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900016"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateWaitingForPayment,
	}
	svc, chat, ledger := newTestService(repo)

	paid := int64(500_000_000_000)
	if err := svc.airdropHandlePayment(context.Background(), airdropContext(repo, ""), paid); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ledger.submittedAmounts) != 1 {
		t.Fatalf("expected one refund, got %d", len(ledger.submittedAmounts))
	}
	if got, want := ledger.submittedAmounts[0], paid-testFee; got != want {
		t.Fatalf("expected refund %d, got %d", want, got)
	}
	if repo.session.State != domain.SessionStateOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %d", repo.session.State)
	}
	if chat.lastSent() != copyAirdropSoldOut {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
	if len(repo.payments) != 1 || repo.payments[0].Memo != domain.MemoRefundSoldOut {
		t.Fatalf("expected a %q payment row, got %+v", domain.MemoRefundSoldOut, repo.payments)
	}
}

func TestContactAnswer_StoresPreferenceAndCompletes(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantAllow bool
		wantCopy  string
	}{
		{name: "yes stores opt-in", text: "yes", wantAllow: true, wantCopy: copyContactYes},
		{name: "no stores opt-out", text: "Nope", wantAllow: false, wantCopy: copyContactNo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900017"}
			repo := newAirdropRepo(customer, activeAirdrop())
			repo.session = &domain.DropSession{
				ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
				State: domain.SessionStateAllowContactRequested,
			}
			svc, chat, _ := newTestService(repo)

			if err := svc.handleContactAnswer(context.Background(), airdropContext(repo, tt.text)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if repo.contactSet == nil || *repo.contactSet != tt.wantAllow {
				t.Fatalf("expected allow_contact=%t stored, got %v", tt.wantAllow, repo.contactSet)
			}
			if repo.session.State != domain.SessionStateCompleted {
				t.Fatalf("expected COMPLETED, got %d", repo.session.State)
			}
			if chat.lastSent() != tt.wantCopy {
				t.Fatalf("unexpected reply: %q", chat.lastSent())
			}
		})
	}
}

func TestContactAnswer_CancelCompletesWithoutPreference(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900024"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateAllowContactRequested,
	}
	svc, chat, _ := newTestService(repo)

	if err := svc.handleContactAnswer(context.Background(), airdropContext(repo, "cancel")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.contactSet != nil {
		t.Fatalf("expected no preference stored, got %v", *repo.contactSet)
	}
	if repo.session.State != domain.SessionStateCompleted {
		t.Fatalf("expected COMPLETED, got %d", repo.session.State)
	}
	if chat.lastSent() != copyContactNo {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}

func TestAirdropIdle_AnyMessageResumes(t *testing.T) {
	customer := &domain.Customer{ID: uuid.New(), PhoneNumber: "+447700900018"}
	repo := newAirdropRepo(customer, activeAirdrop())
	repo.session = &domain.DropSession{
		ID: uuid.New(), CustomerID: customer.ID, DropID: repo.drop.ID,
		State: domain.SessionStateIdle,
	}
	svc, chat, _ := newTestService(repo)

	if err := svc.airdropDispatch(context.Background(), airdropContext(repo, "still there?")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.session.State != domain.SessionStateWaitingForPayment {
		t.Fatalf("expected WAITING_FOR_PAYMENT after resume, got %d", repo.session.State)
	}
	if chat.lastSent() != copyHelpPayment {
		t.Fatalf("unexpected reply: %q", chat.lastSent())
	}
}
