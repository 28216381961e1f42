/**
 * @description
 * Operator-facing service methods backing the internal HTTP API: requeueing a
 * failed mailbox message, taking over or handing back a session, and reading
 * live stock levels for a drop.
 */

package app

import (
	"context"
	"fmt"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/google/uuid"
)

// DropStock is a point-in-time stock report for one drop.
type DropStock struct {
	Drop       *domain.Drop       `json:"drop"`
	BonusCoins []domain.BonusCoin `json:"bonus_coins,omitempty"`
	Skus       []domain.Sku       `json:"skus,omitempty"`
}

// RequeueMessage puts an ERROR message back in line for processing. Only an
// operator triggers retries; the workers never do.
func (s *Service) RequeueMessage(ctx context.Context, messageID uuid.UUID) error {
	return s.repo.RequeueErrorMessage(ctx, messageID)
}

// SetSessionOverride flips a session's manual-override flag. With the flag on
// the bot ignores the customer entirely and an operator talks instead.
func (s *Service) SetSessionOverride(ctx context.Context, sessionID uuid.UUID, override bool) error {
	if _, err := s.repo.FindSessionByID(ctx, sessionID); err != nil {
		return err
	}
	if err := s.repo.SetSessionManualOverride(ctx, sessionID, override); err != nil {
		return fmt.Errorf("set override on %s: %w", sessionID, err)
	}
	return nil
}

// GetDropStock reads the current allocation state of a drop's scarce pools.
func (s *Service) GetDropStock(ctx context.Context, dropID uuid.UUID) (*DropStock, error) {
	drop, err := s.repo.FindDropByID(ctx, dropID)
	if err != nil {
		return nil, err
	}

	stock := &DropStock{Drop: drop}
	switch drop.Type {
	case domain.DropTypeAirdrop:
		coins, err := s.repo.ListBonusCoins(ctx, drop.ID)
		if err != nil {
			return nil, fmt.Errorf("list bonus coins: %w", err)
		}
		stock.BonusCoins = coins
	case domain.DropTypeItem:
		if drop.ItemID != nil {
			skus, err := s.repo.ListSkus(ctx, *drop.ItemID)
			if err != nil {
				return nil, fmt.Errorf("list skus: %w", err)
			}
			stock.Skus = skus
		}
	}
	return stock, nil
}
