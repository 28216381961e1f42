/**
 * @description
 * The Airdrop state machine: the bot offers initial coins, the customer opts
 * in, receives the gift, sends any amount back, and receives it again with a
 * bonus on top. Bonus amounts come from finite weighted pools claimed through
 * the allocator, so a sold-out pool refunds the qualifying payment instead.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/coindrop/drop-service/pkg/chatclient"
	"github.com/coindrop/drop-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// airdropStart opens a session for a customer greeting an active airdrop.
// Customers without payments enabled get setup instructions and no session,
// since nothing past the greeting works without a payment address.
func (s *Service) airdropStart(ctx context.Context, cc *ChatContext) error {
	if _, err := s.chat.GetPaymentAddress(ctx, cc.Customer.PhoneNumber); err != nil {
		if errors.Is(err, chatclient.ErrNoPaymentAddress) {
			return s.reply(ctx, cc, copyEnablePayments)
		}
		return fmt.Errorf("airdrop start: payment address: %w", err)
	}

	session := &domain.DropSession{
		ID:         uuid.New(),
		CustomerID: cc.Customer.ID,
		DropID:     cc.Drop.ID,
		State:      domain.SessionStateReady,
	}
	if err := s.repo.CreateDropSession(ctx, session); err != nil {
		return fmt.Errorf("airdrop start: create session: %w", err)
	}
	cc.Session = session
	return s.reply(ctx, cc, copyAirdropGreeting(cc.Drop.InitialCoinAmount))
}

// airdropDispatch handles a plain text message for an active airdrop session.
func (s *Service) airdropDispatch(ctx context.Context, cc *ChatContext) error {
	text := cc.Message.Text

	switch cc.Session.State {
	case domain.SessionStateReady:
		switch {
		case isYes(text):
			return s.airdropAcceptOffer(ctx, cc)
		case isNo(text), isCancel(text):
			if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
				return err
			}
			return s.reply(ctx, cc, copySessionCancelled)
		default:
			return s.reply(ctx, cc, copyNotUnderstood)
		}

	case domain.SessionStateWaitingForPayment:
		if isCancel(text) {
			if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
				return err
			}
			return s.reply(ctx, cc, copySessionCancelled)
		}
		return s.reply(ctx, cc, copyHelpPayment)

	case domain.SessionStateIdle:
		if isCancel(text) {
			if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
				return err
			}
			return s.reply(ctx, cc, copySessionCancelled)
		}
		// Any other message resumes the paused session.
		if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForPayment); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyHelpPayment)

	default:
		return s.reply(ctx, cc, copyNotUnderstood)
	}
}

// airdropAcceptOffer disburses the initial gift if the drop still has quota
// and the wallet still has funds. Gifting is once per customer across all
// drops; repeat customers skip straight to the bonus stage.
func (s *Service) airdropAcceptOffer(ctx context.Context, cc *ChatContext) error {
	if cc.Customer.ReceivedGift {
		if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForPayment); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyHelpPayment)
	}

	disbursed, err := s.repo.CountInitialDisbursements(ctx, cc.Drop.ID)
	if err != nil {
		return fmt.Errorf("airdrop accept: count disbursements: %w", err)
	}
	if cc.Drop.InitialCoinLimit > 0 && disbursed >= cc.Drop.InitialCoinLimit {
		if err := s.setSessionState(ctx, cc, domain.SessionStateOutOfStock); err != nil {
			return err
		}
		s.publishEvent(ctx, rabbitmq.RoutingKeySoldOut, rabbitmq.SoldOutEvent{
			DropID: cc.Drop.ID, Resource: "initial_coins", Timestamp: s.now(),
		})
		return s.reply(ctx, cc, copyAirdropExhausted)
	}

	balance, err := s.ledger.GetUnspentBalance(ctx)
	if err != nil {
		return fmt.Errorf("airdrop accept: balance: %w", err)
	}
	if balance < cc.Drop.InitialCoinAmount+s.cfg.MinimumFee {
		log.Printf("level=error component=airdrop msg=\"wallet balance too low for gift\" drop=%s balance=%d", cc.Drop.ID, balance)
		if err := s.setSessionState(ctx, cc, domain.SessionStateOutOfStock); err != nil {
			return err
		}
		s.publishEvent(ctx, rabbitmq.RoutingKeySoldOut, rabbitmq.SoldOutEvent{
			DropID: cc.Drop.ID, Resource: "wallet_balance", Timestamp: s.now(),
		})
		return s.reply(ctx, cc, copyAirdropExhausted)
	}

	if err := s.sendCoins(ctx, cc, &cc.Session.ID, cc.Drop.InitialCoinAmount, domain.MemoInitialCoins, false); err != nil {
		return fmt.Errorf("airdrop accept: disburse gift: %w", err)
	}
	if err := s.repo.SetCustomerReceivedGift(ctx, cc.Customer.ID); err != nil {
		return fmt.Errorf("airdrop accept: mark gifted: %w", err)
	}
	cc.Customer.ReceivedGift = true
	if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForPayment); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyAirdropInitialSent(cc.Drop.InitialCoinAmount))
}

// airdropHandlePayment settles the bonus stage: a confirmed qualifying payment
// claims a bonus unit and is returned with the bonus on top, the network fee
// absorbed by the bot. A dry pool refunds the payment and closes the session.
func (s *Service) airdropHandlePayment(ctx context.Context, cc *ChatContext, paid int64) error {
	coin, err := s.allocator.ClaimBonusCoin(ctx, cc.Session)
	if err != nil {
		if errors.Is(err, store.ErrOutOfStock) {
			if refundErr := s.refundSessionPayment(ctx, cc, paid, domain.MemoRefundSoldOut); refundErr != nil {
				return fmt.Errorf("airdrop sold-out refund: %w", refundErr)
			}
			if stateErr := s.setSessionState(ctx, cc, domain.SessionStateOutOfStock); stateErr != nil {
				return stateErr
			}
			s.publishEvent(ctx, rabbitmq.RoutingKeySoldOut, rabbitmq.SoldOutEvent{
				DropID: cc.Drop.ID, Resource: "bonus_coins", Timestamp: s.now(),
			})
			return s.reply(ctx, cc, copyAirdropSoldOut)
		}
		return fmt.Errorf("airdrop payment: claim bonus: %w", err)
	}

	// Payout covers the returned payment, the bonus, and the network fee the
	// transfer itself will cost, so the customer nets paid+bonus.
	payout := paid + coin.Amount + s.cfg.MinimumFee
	if err := s.sendCoins(ctx, cc, &cc.Session.ID, payout, domain.MemoBonus, false); err != nil {
		return fmt.Errorf("airdrop payment: bonus payout: %w", err)
	}
	if err := s.reply(ctx, cc, copyAirdropBonusSent(paid, coin.Amount)); err != nil {
		return err
	}
	return s.askContactOrComplete(ctx, cc)
}

// askContactOrComplete ends a successful drop flow: customers who already
// answered the contact question in a past session complete immediately.
func (s *Service) askContactOrComplete(ctx context.Context, cc *ChatContext) error {
	if cc.Customer.HasContactPreference() {
		return s.setSessionState(ctx, cc, domain.SessionStateCompleted)
	}
	if err := s.setSessionState(ctx, cc, domain.SessionStateAllowContactRequested); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyAllowContact)
}

// handleContactAnswer resolves the ALLOW_CONTACT_REQUESTED state shared by
// both drop types.
func (s *Service) handleContactAnswer(ctx context.Context, cc *ChatContext) error {
	text := cc.Message.Text
	switch {
	case isYes(text):
		if err := s.repo.SetCustomerAllowContact(ctx, cc.Customer.ID, true); err != nil {
			return fmt.Errorf("contact answer: %w", err)
		}
		if err := s.setSessionState(ctx, cc, domain.SessionStateCompleted); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyContactYes)
	case isNo(text):
		if err := s.repo.SetCustomerAllowContact(ctx, cc.Customer.ID, false); err != nil {
			return fmt.Errorf("contact answer: %w", err)
		}
		if err := s.setSessionState(ctx, cc, domain.SessionStateCompleted); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyContactNo)
	case isCancel(text):
		// The drop itself already settled; cancelling here only skips the
		// question, leaving the preference unset.
		if err := s.setSessionState(ctx, cc, domain.SessionStateCompleted); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyContactNo)
	default:
		return s.reply(ctx, cc, copyHelpContact)
	}
}
