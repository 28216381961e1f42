/**
 * @description
 * The scarce-resource allocator. Bonus coins and SKU units are handed out
 * under concurrent claims without over-allocation, using the same shape for
 * both resources:
 *
 *   1. read the rows with remaining capacity;
 *   2. pick a candidate (weighted random for bonus coins, the requested SKU
 *      for item sizes);
 *   3. attempt a conditional update that only fires while the claimed count
 *      still matches the value read in step 1;
 *   4. a zero-row update means another claimant won the race — retry from
 *      step 1 with randomized exponential backoff, bounded;
 *   5. on success, persist the resource reference on the session/order.
 *
 * No lock is held across the read-decide-write cycle, so throughput under
 * contention stays high while claimed ≤ capacity holds at all times.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/google/uuid"
)

// Allocator claims bonus coins and SKU units for sessions.
type Allocator struct {
	repo    store.Repository
	backoff BackoffPolicy
}

// NewAllocator creates an allocator with the given contention retry policy.
func NewAllocator(repo store.Repository, backoff BackoffPolicy) *Allocator {
	return &Allocator{repo: repo, backoff: backoff}
}

func retryableContention(err error) bool {
	return errors.Is(err, store.ErrConcurrentModification)
}

// ClaimBonusCoin claims one unit of a bonus coin tier for an airdrop session.
// The tier is picked uniformly at random weighted by remaining count. Returns
// store.ErrOutOfStock when every tier is exhausted.
func (a *Allocator) ClaimBonusCoin(ctx context.Context, session *domain.DropSession) (*domain.BonusCoin, error) {
	var claimed *domain.BonusCoin

	err := Retry(ctx, a.backoff, retryableContention, func() error {
		coins, err := a.repo.ListAvailableBonusCoins(ctx, session.DropID)
		if err != nil {
			return err
		}
		if len(coins) == 0 {
			return store.ErrOutOfStock
		}

		candidate := pickWeighted(coins)
		if err := a.repo.ClaimBonusCoin(ctx, candidate.ID, candidate.NumberClaimed); err != nil {
			return err
		}
		candidate.NumberClaimed++
		claimed = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			// Exhausted the attempt budget while losing every race; capacity
			// may remain but this claim gives up rather than block a worker.
			return nil, fmt.Errorf("bonus coin claim contention: %w", store.ErrOutOfStock)
		}
		return nil, err
	}

	if err := a.repo.SetSessionBonusCoin(ctx, session.ID, claimed.ID); err != nil {
		// The claimed unit must not leak when it cannot be tied to a session.
		if releaseErr := a.repo.ReleaseBonusCoin(ctx, claimed.ID); releaseErr != nil {
			return nil, fmt.Errorf("record bonus coin on session: %v (release failed: %w)", err, releaseErr)
		}
		return nil, fmt.Errorf("record bonus coin on session: %w", err)
	}
	session.BonusCoinID = &claimed.ID
	return claimed, nil
}

// pickWeighted picks a tier uniformly at random weighted by remaining count.
func pickWeighted(coins []domain.BonusCoin) *domain.BonusCoin {
	total := 0
	for i := range coins {
		total += coins[i].Remaining()
	}
	if total <= 0 {
		return &coins[0]
	}
	n := rand.Intn(total)
	for i := range coins {
		n -= coins[i].Remaining()
		if n < 0 {
			return &coins[i]
		}
	}
	return &coins[len(coins)-1]
}

// ClaimSkuUnit claims one unit of the requested SKU and creates the session's
// order against it. Returns store.ErrOutOfStock when no units remain.
func (a *Allocator) ClaimSkuUnit(ctx context.Context, session *domain.DropSession, itemID uuid.UUID, identifier string) (*domain.Order, error) {
	var sku *domain.Sku

	err := Retry(ctx, a.backoff, retryableContention, func() error {
		candidate, err := a.repo.FindSkuByIdentifier(ctx, itemID, identifier)
		if err != nil {
			return err
		}
		if candidate.Remaining() <= 0 {
			return store.ErrOutOfStock
		}
		if err := a.repo.ClaimSkuUnit(ctx, candidate.ID, candidate.NumberOrdered); err != nil {
			return err
		}
		candidate.NumberOrdered++
		sku = candidate
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConcurrentModification) {
			return nil, fmt.Errorf("sku claim contention: %w", store.ErrOutOfStock)
		}
		return nil, err
	}

	order := &domain.Order{
		ID:         uuid.New(),
		SessionID:  session.ID,
		CustomerID: session.CustomerID,
		SkuID:      sku.ID,
		Status:     domain.OrderStatusStarted,
	}
	if err := a.repo.CreateOrder(ctx, order); err != nil {
		// The claimed unit must not leak when the order insert fails.
		if releaseErr := a.repo.ReleaseSkuUnit(ctx, sku.ID); releaseErr != nil {
			return nil, fmt.Errorf("create order: %v (release failed: %w)", err, releaseErr)
		}
		return nil, fmt.Errorf("create order: %w", err)
	}
	return order, nil
}

// CancelOrder cancels an order and returns its SKU unit to the pool.
func (a *Allocator) CancelOrder(ctx context.Context, order *domain.Order) error {
	if order.Status == domain.OrderStatusCancelled {
		return nil
	}
	if err := a.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCancelled); err != nil {
		return err
	}
	order.Status = domain.OrderStatusCancelled
	return a.repo.ReleaseSkuUnit(ctx, order.SkuID)
}
