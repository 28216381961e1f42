/**
 * @description
 * Mailbox worker pool. Workers compete for eligible messages but the
 * conditional claim in the store guarantees exactly one worker processes each
 * message; a worker that loses the race simply asks for the next candidate.
 * Processing failures mark the message ERROR and send a best-effort apology;
 * an ERROR message is never retried automatically.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
)

// WorkerPool drains the durable mailbox through a fixed set of workers.
type WorkerPool struct {
	service *Service
	repo    store.Repository

	workers   int
	idleDelay time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool sizes the pool; idleDelay is how long a worker sleeps when the
// mailbox has no eligible message.
func NewWorkerPool(service *Service, repo store.Repository, workers int, idleDelay time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	if idleDelay <= 0 {
		idleDelay = 250 * time.Millisecond
	}
	return &WorkerPool{
		service:   service,
		repo:      repo,
		workers:   workers,
		idleDelay: idleDelay,
	}
}

// Start launches the workers. It returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	log.Printf("level=info component=mailbox msg=\"worker pool started\" workers=%d", p.workers)
}

// Shutdown stops claiming new messages and waits for in-flight work, up to the
// given grace period.
func (p *WorkerPool) Shutdown(grace time.Duration) {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("level=info component=mailbox msg=\"worker pool drained\"")
	case <-time.After(grace):
		log.Printf("level=warn component=mailbox msg=\"worker pool shutdown timed out\" grace=%s", grace)
	}
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		claimed, err := p.claimNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Printf("level=error component=mailbox msg=\"claim failed\" worker=%d err=%v", id, err)
			p.sleep(ctx)
			continue
		}
		if claimed == nil {
			p.sleep(ctx)
			continue
		}

		p.process(ctx, id, claimed)
	}
}

// claimNext walks eligible candidates until one claim wins or the queue is
// empty. Losing a claim race means another worker took the message, so the
// next call sees a fresh candidate set.
func (p *WorkerPool) claimNext(ctx context.Context) (*domain.Message, error) {
	for {
		msg, err := p.repo.NextEligibleMessage(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNoEligibleMessage) {
				return nil, nil
			}
			return nil, fmt.Errorf("next eligible: %w", err)
		}
		won, err := p.repo.ClaimMessage(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("claim %s: %w", msg.ID, err)
		}
		if won {
			return msg, nil
		}
	}
}

// process runs one message end to end. Uses a detached context for the final
// status write so a shutdown mid-message cannot strand it in PROCESSING.
func (p *WorkerPool) process(ctx context.Context, id int, msg *domain.Message) {
	err := p.safeProcess(ctx, msg)

	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if completeErr := p.repo.CompleteMessage(finishCtx, msg.ID, domain.MessageStatusProcessed, nil); completeErr != nil {
			log.Printf("level=error component=mailbox msg=\"complete failed\" worker=%d message=%s err=%v", id, msg.ID, completeErr)
		}
		return
	}

	log.Printf("level=error component=mailbox msg=\"processing failed\" worker=%d message=%s customer=%s err=%v",
		id, msg.ID, msg.CustomerID, err)
	reason := err.Error()
	if completeErr := p.repo.CompleteMessage(finishCtx, msg.ID, domain.MessageStatusError, &reason); completeErr != nil {
		log.Printf("level=error component=mailbox msg=\"error-complete failed\" worker=%d message=%s err=%v", id, msg.ID, completeErr)
	}
	p.service.SendFallbackError(finishCtx, msg.CustomerID)
}

func (p *WorkerPool) safeProcess(ctx context.Context, msg *domain.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.service.ProcessMessage(ctx, msg)
}

func (p *WorkerPool) sleep(ctx context.Context) {
	select {
	case <-time.After(p.idleDelay):
	case <-ctx.Done():
	}
}
