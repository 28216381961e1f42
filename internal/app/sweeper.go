/**
 * @description
 * Cron-driven session sweeper. Two jobs keep the session table honest: stale
 * sessions that stopped replying are parked as IDLE (or IDLE_AND_REFUNDABLE
 * when the customer's money is already in), and READY sessions whose drop
 * window closed before they opted in are cancelled.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
)

// SweeperConfig carries the cron schedules and the staleness threshold.
type SweeperConfig struct {
	StaleSessionSchedule string
	ExpiredDropSchedule  string
	IdleAfter            time.Duration
}

// Sweeper runs the periodic session maintenance jobs.
type Sweeper struct {
	cron *cron.Cron
	repo store.Repository
	cfg  SweeperConfig
	now  func() time.Time
}

func NewSweeper(repo store.Repository, cfg SweeperConfig) *Sweeper {
	if cfg.StaleSessionSchedule == "" {
		cfg.StaleSessionSchedule = "*/5 * * * *"
	}
	if cfg.ExpiredDropSchedule == "" {
		cfg.ExpiredDropSchedule = "*/10 * * * *"
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = time.Hour
	}
	return &Sweeper{
		cron: cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default())))),
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Sweeper) Start() {
	if _, err := s.cron.AddFunc(s.cfg.StaleSessionSchedule, s.SweepStaleSessions); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule stale session job\" err=%v", err)
	} else {
		log.Printf("level=info component=sweeper msg=\"scheduled stale session job\" schedule=%q", s.cfg.StaleSessionSchedule)
	}

	if _, err := s.cron.AddFunc(s.cfg.ExpiredDropSchedule, s.SweepExpiredDrops); err != nil {
		log.Printf("level=error component=sweeper msg=\"failed to schedule expired drop job\" err=%v", err)
	} else {
		log.Printf("level=info component=sweeper msg=\"scheduled expired drop job\" schedule=%q", s.cfg.ExpiredDropSchedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// SweepStaleSessions parks sessions that stopped replying. A session still
// waiting on payment holds no customer money and goes to IDLE; a session
// anywhere in the paid shipping dialogue goes to IDLE_AND_REFUNDABLE so the
// customer can still reclaim their coins.
func (s *Sweeper) SweepStaleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := s.repo.FindStaleWaitingSessions(ctx, s.now().Add(-s.cfg.IdleAfter))
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"stale session query failed\" err=%v", err)
		return
	}

	for _, session := range sessions {
		target := domain.SessionStateIdle
		if session.State.AwaitingShippingInfo() {
			target = domain.SessionStateIdleAndRefundable
		}
		if err := s.repo.UpdateSessionState(ctx, session.ID, target); err != nil {
			log.Printf("level=error component=sweeper msg=\"stale session update failed\" session=%s err=%v", session.ID, err)
			continue
		}
		log.Printf("level=info component=sweeper msg=\"session parked\" session=%s from=%d to=%d", session.ID, session.State, target)
	}
}

// SweepExpiredDrops cancels READY sessions whose drop window has closed; the
// customer never opted in and holds no money.
func (s *Sweeper) SweepExpiredDrops() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := s.repo.FindReadySessionsForExpiredDrops(ctx, s.now())
	if err != nil {
		log.Printf("level=error component=sweeper msg=\"expired drop query failed\" err=%v", err)
		return
	}

	for _, session := range sessions {
		if err := s.repo.UpdateSessionState(ctx, session.ID, domain.SessionStateCancelled); err != nil {
			log.Printf("level=error component=sweeper msg=\"expired session cancel failed\" session=%s err=%v", session.ID, err)
			continue
		}
		log.Printf("level=info component=sweeper msg=\"expired session cancelled\" session=%s drop=%s", session.ID, session.DropID)
	}
}
