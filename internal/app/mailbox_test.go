package app

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
)

// mailboxRepo is a functional in-memory mailbox with the same eligibility and
// claim semantics as the Postgres repository: oldest queued message per
// customer, no customer with a message in flight, claims won by conditional
// transition.
type mailboxRepo struct {
	store.Repository

	mu       sync.Mutex
	messages []*domain.Message
	seq      int

	completed map[uuid.UUID]domain.MessageStatus
}

func newMailboxRepo() *mailboxRepo {
	return &mailboxRepo{completed: make(map[uuid.UUID]domain.MessageStatus)}
}

func (r *mailboxRepo) add(customerID uuid.UUID, text string) *domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := &domain.Message{
		ID:         uuid.New(),
		CustomerID: customerID,
		Direction:  domain.MessageDirectionReceived,
		Text:       text,
		Status:     domain.MessageStatusNotProcessed,
		CreatedAt:  time.Unix(int64(r.seq), 0),
	}
	r.messages = append(r.messages, msg)
	return msg
}

func (r *mailboxRepo) NextEligibleMessage(ctx context.Context) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	busy := make(map[uuid.UUID]bool)
	for _, m := range r.messages {
		if m.Status == domain.MessageStatusProcessing {
			busy[m.CustomerID] = true
		}
	}

	candidates := make([]*domain.Message, 0)
	for _, m := range r.messages {
		if m.Status == domain.MessageStatusNotProcessed && !busy[m.CustomerID] {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, store.ErrNoEligibleMessage
	}
	// The globally oldest candidate is also the oldest queued message of its
	// customer, so per-customer ordering holds.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	copied := *candidates[0]
	return &copied, nil
}

func (r *mailboxRepo) FindActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*domain.DropSession, error) {
	return nil, store.ErrSessionNotFound
}

func (r *mailboxRepo) FindActiveDrop(ctx context.Context, now time.Time) (*domain.Drop, error) {
	return nil, store.ErrNoActiveDrop
}

func (r *mailboxRepo) ClaimMessage(ctx context.Context, messageID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == messageID {
			if m.Status != domain.MessageStatusNotProcessed {
				return false, nil
			}
			m.Status = domain.MessageStatusProcessing
			return true, nil
		}
	}
	return false, nil
}

func (r *mailboxRepo) CompleteMessage(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, processingError *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == messageID {
			m.Status = status
			r.completed[messageID] = status
		}
	}
	return nil
}

func (r *mailboxRepo) RecordSentMessage(ctx context.Context, message *domain.Message) error {
	return nil
}

func (r *mailboxRepo) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	return &domain.Customer{ID: customerID, PhoneNumber: "+447700900040"}, nil
}

func (r *mailboxRepo) drained() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.Status == domain.MessageStatusNotProcessed || m.Status == domain.MessageStatusProcessing {
			return false
		}
	}
	return true
}

// countingService processes messages directly, recording which worker saw what.
type countingService struct {
	mu        sync.Mutex
	processed map[uuid.UUID]int
	perCust   map[uuid.UUID][]string
	failText  string
}

func (s *countingService) process(msg *domain.Message) error {
	s.mu.Lock()
	s.processed[msg.ID]++
	s.perCust[msg.CustomerID] = append(s.perCust[msg.CustomerID], msg.Text)
	s.mu.Unlock()
	if msg.Text == s.failText && s.failText != "" {
		panic("boom")
	}
	return nil
}

func poolForTest(repo *mailboxRepo, svc *Service, workers int) *WorkerPool {
	return NewWorkerPool(svc, repo, workers, 5*time.Millisecond)
}

func waitDrained(t *testing.T, repo *mailboxRepo) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if repo.drained() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("mailbox did not drain in time")
}

func TestWorkerPool_ProcessesEveryMessageExactlyOnce(t *testing.T) {
	repo := newMailboxRepo()
	counting := &countingService{processed: make(map[uuid.UUID]int), perCust: make(map[uuid.UUID][]string)}

	// Route every message to the default handler, which records it.
	svc, _, _ := newTestService(repo)
	svc.router = NewRouter()
	svc.router.RegisterDefault(func(ctx context.Context, cc *ChatContext) error {
		return counting.process(cc.Message)
	})

	customers := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	total := 0
	for i := 0; i < 10; i++ {
		for _, c := range customers {
			repo.add(c, "msg")
			total++
		}
	}

	pool := poolForTest(repo, svc, 8)
	pool.Start(context.Background())
	waitDrained(t, repo)
	pool.Shutdown(time.Second)

	counting.mu.Lock()
	defer counting.mu.Unlock()
	if len(counting.processed) != total {
		t.Fatalf("expected %d distinct messages processed, got %d", total, len(counting.processed))
	}
	for id, n := range counting.processed {
		if n != 1 {
			t.Fatalf("message %s processed %d times", id, n)
		}
	}
}

func TestWorkerPool_SerializesPerCustomerInOrder(t *testing.T) {
	repo := newMailboxRepo()
	counting := &countingService{processed: make(map[uuid.UUID]int), perCust: make(map[uuid.UUID][]string)}

	svc, _, _ := newTestService(repo)
	svc.router = NewRouter()
	svc.router.RegisterDefault(func(ctx context.Context, cc *ChatContext) error {
		// Slow handler so out-of-order claims would show up.
		time.Sleep(time.Millisecond)
		return counting.process(cc.Message)
	})

	customer := uuid.New()
	want := []string{"first", "second", "third", "fourth"}
	for _, text := range want {
		repo.add(customer, text)
	}

	pool := poolForTest(repo, svc, 6)
	pool.Start(context.Background())
	waitDrained(t, repo)
	pool.Shutdown(time.Second)

	counting.mu.Lock()
	defer counting.mu.Unlock()
	got := counting.perCust[customer]
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken at %d: got %v, want %v", i, got, want)
		}
	}
}

func TestWorkerPool_PanicMarksErrorAndApologizes(t *testing.T) {
	repo := newMailboxRepo()
	counting := &countingService{
		processed: make(map[uuid.UUID]int),
		perCust:   make(map[uuid.UUID][]string),
		failText:  "explode",
	}

	svc, chat, _ := newTestService(repo)
	svc.router = NewRouter()
	svc.router.RegisterDefault(func(ctx context.Context, cc *ChatContext) error {
		return counting.process(cc.Message)
	})

	msg := repo.add(uuid.New(), "explode")

	pool := poolForTest(repo, svc, 2)
	pool.Start(context.Background())
	waitDrained(t, repo)
	pool.Shutdown(time.Second)

	if repo.completed[msg.ID] != domain.MessageStatusError {
		t.Fatalf("expected ERROR status, got %d", repo.completed[msg.ID])
	}
	if chat.lastSent() != copyGenericError {
		t.Fatalf("expected the fallback apology, got %q", chat.lastSent())
	}
}

func TestWorkerPool_LostClaimGoesToNextCandidate(t *testing.T) {
	repo := newMailboxRepo()
	msg := repo.add(uuid.New(), "already taken")
	// Another worker won this message between the read and the claim.
	repo.mu.Lock()
	repo.messages[0].Status = domain.MessageStatusProcessing
	repo.mu.Unlock()
	other := repo.add(uuid.New(), "free")

	svc, _, _ := newTestService(repo)
	pool := poolForTest(repo, svc, 1)

	claimed, err := pool.claimNext(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil {
		t.Fatal("expected a claim")
	}
	if claimed.ID == msg.ID {
		t.Fatal("claimed a message already being processed")
	}
	if claimed.ID != other.ID {
		t.Fatalf("expected the free message, got %s", claimed.ID)
	}
}
