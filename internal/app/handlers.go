/**
 * @description
 * Routing table and shared intent matchers. Payments always take the payment
 * lane; help and privacy answer from any state without touching the session;
 * everything else goes to the active session's state machine or, with no
 * session, to the greeting handler for the active drop.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
)

var (
	reYes    = regexp.MustCompile(`(?i)^\s*(yes|yeah|yep|sure|ok|okay|y)\s*[.!]*\s*$`)
	reNo     = regexp.MustCompile(`(?i)^\s*(no|nope|nah|n)\s*[.!]*\s*$`)
	reCancel = regexp.MustCompile(`(?i)^\s*(cancel|stop|quit|unsubscribe)\s*[.!]*\s*$`)
	reRefund = regexp.MustCompile(`(?i)^\s*refund\s*[.!]*\s*$`)
)

func isYes(text string) bool    { return reYes.MatchString(text) }
func isNo(text string) bool     { return reNo.MatchString(text) }
func isCancel(text string) bool { return reCancel.MatchString(text) }
func isRefund(text string) bool { return reRefund.MatchString(text) }

func (s *Service) buildRouter() *Router {
	r := NewRouter()

	r.RegisterPayment(s.handlePayment)

	r.Register(`(?i)^\s*(help|\?)\s*$`, 10, s.handleHelp)
	r.Register(`(?i)^\s*privacy\s*$`, 20, s.handlePrivacy)

	r.RegisterWithPredicate(`.*`, 30, func(cc *ChatContext) bool {
		return cc.Session != nil
	}, s.handleConversation)

	r.RegisterWithPredicate(`.*`, 40, func(cc *ChatContext) bool {
		return cc.Drop != nil
	}, s.handleGreeting)

	r.RegisterDefault(s.handleStoreClosed)
	return r
}

// handleHelp answers from any state and never mutates the session.
func (s *Service) handleHelp(ctx context.Context, cc *ChatContext) error {
	if cc.Session == nil {
		return s.reply(ctx, cc, copyHelpGeneric)
	}
	switch cc.Session.State {
	case domain.SessionStateWaitingForPayment:
		return s.reply(ctx, cc, copyHelpPayment)
	case domain.SessionStateWaitingForSize:
		return s.reply(ctx, cc, copyHelpSize)
	case domain.SessionStateWaitingForName:
		return s.reply(ctx, cc, copyHelpName)
	case domain.SessionStateWaitingForAddress:
		return s.reply(ctx, cc, copyHelpAddress)
	case domain.SessionStateShippingConfirmation:
		return s.reply(ctx, cc, copyHelpConfirm)
	case domain.SessionStateAllowContactRequested:
		return s.reply(ctx, cc, copyHelpContact)
	case domain.SessionStateIdle, domain.SessionStateIdleAndRefundable:
		return s.reply(ctx, cc, copyHelpIdle)
	case domain.SessionStateCompleted:
		return s.reply(ctx, cc, copyHelpComplete)
	default:
		return s.reply(ctx, cc, copyHelpGeneric)
	}
}

func (s *Service) handlePrivacy(ctx context.Context, cc *ChatContext) error {
	return s.reply(ctx, cc, copyPrivacy)
}

// handleConversation dispatches a plain message into the session's state
// machine. A closed drop window cancels sessions that have not yet paid;
// sessions that hold money keep running to their natural end.
func (s *Service) handleConversation(ctx context.Context, cc *ChatContext) error {
	if cc.Session.State == domain.SessionStateAllowContactRequested {
		return s.handleContactAnswer(ctx, cc)
	}

	preMoney := cc.Session.State == domain.SessionStateReady ||
		cc.Session.State == domain.SessionStateWaitingForPayment ||
		cc.Session.State == domain.SessionStateIdle
	if preMoney && !cc.Drop.IsActiveAt(s.now()) {
		if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyStoreClosed)
	}

	switch cc.Drop.Type {
	case domain.DropTypeAirdrop:
		return s.airdropDispatch(ctx, cc)
	case domain.DropTypeItem:
		return s.itemDispatch(ctx, cc)
	default:
		return fmt.Errorf("session %s on unknown drop type %q", cc.Session.ID, cc.Drop.Type)
	}
}

// handleGreeting runs restriction checks against the active drop and opens a
// session. One session per (customer, drop), ever: a closed session is not
// a ticket back in.
func (s *Service) handleGreeting(ctx context.Context, cc *ChatContext) error {
	if !cc.Drop.IsActiveAt(s.now()) {
		return s.handleStoreClosed(ctx, cc)
	}
	if !cc.Drop.AllowsNumber(cc.Customer.PhoneNumber) {
		return s.reply(ctx, cc, copyRegionNotSupported)
	}

	prior, err := s.repo.FindSessionByCustomerAndDrop(ctx, cc.Customer.ID, cc.Drop.ID)
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return fmt.Errorf("greeting: prior session lookup: %w", err)
	}
	if prior != nil {
		return s.reply(ctx, cc, copyAlreadyJoined)
	}

	switch cc.Drop.Type {
	case domain.DropTypeAirdrop:
		return s.airdropStart(ctx, cc)
	case domain.DropTypeItem:
		return s.itemStart(ctx, cc)
	default:
		return fmt.Errorf("greeting for unknown drop type %q", cc.Drop.Type)
	}
}

func (s *Service) handleStoreClosed(ctx context.Context, cc *ChatContext) error {
	if strings.TrimSpace(cc.Message.Text) == "" {
		return nil
	}
	return s.reply(ctx, cc, copyStoreClosed)
}
