/**
 * @description
 * The Item-drop state machine: payment first, then the shipping dialogue.
 * A confirmed payment of the item price opens the size question; picking a
 * size claims one SKU unit through the allocator and creates the order; name,
 * address, and a confirmation step complete it. A refund is available at every
 * step between payment and confirmation, and cancelling releases the claimed
 * unit back to the pool.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/coindrop/drop-service/internal/store"
	"github.com/coindrop/drop-service/pkg/chatclient"
	"github.com/coindrop/drop-service/pkg/geoclient"
	"github.com/coindrop/drop-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// itemStart opens a session for a customer greeting an active item drop. The
// catalog and price go out immediately; the session waits on payment.
func (s *Service) itemStart(ctx context.Context, cc *ChatContext) error {
	if _, err := s.chat.GetPaymentAddress(ctx, cc.Customer.PhoneNumber); err != nil {
		if errors.Is(err, chatclient.ErrNoPaymentAddress) {
			return s.reply(ctx, cc, copyEnablePayments)
		}
		return fmt.Errorf("item start: payment address: %w", err)
	}

	item, err := s.itemForDrop(ctx, cc.Drop)
	if err != nil {
		return err
	}

	session := &domain.DropSession{
		ID:         uuid.New(),
		CustomerID: cc.Customer.ID,
		DropID:     cc.Drop.ID,
		State:      domain.SessionStateReady,
	}
	if err := s.repo.CreateDropSession(ctx, session); err != nil {
		return fmt.Errorf("item start: create session: %w", err)
	}
	cc.Session = session
	// The greeting names the price, so the session moves straight to waiting.
	if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForPayment); err != nil {
		return err
	}

	if item.ImageLink != "" {
		return s.replyWithAttachment(ctx, cc, copyItemGreeting(item.Name, item.Price), item.ImageLink)
	}
	return s.reply(ctx, cc, copyItemGreeting(item.Name, item.Price))
}

// itemHandlePayment settles a confirmed payment against the item price.
// Underpayments are refunded in full and the session keeps waiting; overages
// beyond the network fee are returned before the order proceeds.
func (s *Service) itemHandlePayment(ctx context.Context, cc *ChatContext, paid int64) error {
	item, err := s.itemForDrop(ctx, cc.Drop)
	if err != nil {
		return err
	}

	switch ClassifyPayment(paid, item.Price, s.cfg.MinimumFee) {
	case OutcomeUnderpaid:
		if err := s.refundSessionPayment(ctx, cc, paid, domain.MemoRefundUnderpaid); err != nil {
			return fmt.Errorf("item payment: underpaid refund: %w", err)
		}
		return s.reply(ctx, cc, copyUnderpaid(paid, item.Price))

	case OutcomeOverpaid:
		overage := paid - item.Price - s.cfg.MinimumFee
		if err := s.sendCoins(ctx, cc, &cc.Session.ID, overage, domain.MemoRefundOverpaid, false); err != nil {
			return fmt.Errorf("item payment: overpaid refund: %w", err)
		}
		if err := s.reply(ctx, cc, copyOverpaid(overage)); err != nil {
			return err
		}
	}

	skus, err := s.repo.ListAvailableSkus(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("item payment: list skus: %w", err)
	}
	if len(skus) == 0 {
		if err := s.refundSessionPayment(ctx, cc, item.Price, domain.MemoRefundSoldOut); err != nil {
			return fmt.Errorf("item payment: sold-out refund: %w", err)
		}
		if err := s.setSessionState(ctx, cc, domain.SessionStateOutOfStock); err != nil {
			return err
		}
		s.publishEvent(ctx, rabbitmq.RoutingKeySoldOut, rabbitmq.SoldOutEvent{
			DropID: cc.Drop.ID, Resource: "skus", Timestamp: s.now(),
		})
		return s.reply(ctx, cc, copyAirdropSoldOut)
	}

	if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForSize); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyItemPaymentReceived(skuIdentifiers(skus)))
}

// itemDispatch handles a plain text message for an active item-drop session.
func (s *Service) itemDispatch(ctx context.Context, cc *ChatContext) error {
	text := cc.Message.Text

	switch cc.Session.State {
	case domain.SessionStateWaitingForPayment:
		if isCancel(text) {
			if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
				return err
			}
			return s.reply(ctx, cc, copySessionCancelled)
		}
		return s.reply(ctx, cc, copyHelpPayment)

	case domain.SessionStateWaitingForSize:
		if isCancel(text) || isRefund(text) {
			return s.refundAndClose(ctx, cc)
		}
		return s.itemHandleSize(ctx, cc, text)

	case domain.SessionStateWaitingForName:
		if isCancel(text) || isRefund(text) {
			return s.refundAndClose(ctx, cc)
		}
		return s.itemHandleName(ctx, cc, text)

	case domain.SessionStateWaitingForAddress:
		if isCancel(text) || isRefund(text) {
			return s.refundAndClose(ctx, cc)
		}
		return s.itemHandleAddress(ctx, cc, text)

	case domain.SessionStateShippingConfirmation:
		switch {
		case isCancel(text), isRefund(text):
			return s.refundAndClose(ctx, cc)
		case isYes(text):
			return s.itemConfirmOrder(ctx, cc)
		case isNo(text):
			if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForName); err != nil {
				return err
			}
			return s.reply(ctx, cc, copyAskName())
		default:
			return s.reply(ctx, cc, copyHelpConfirm)
		}

	case domain.SessionStateIdle:
		if isCancel(text) {
			if err := s.setSessionState(ctx, cc, domain.SessionStateCancelled); err != nil {
				return err
			}
			return s.reply(ctx, cc, copySessionCancelled)
		}
		if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForPayment); err != nil {
			return err
		}
		return s.reply(ctx, cc, copyHelpPayment)

	case domain.SessionStateIdleAndRefundable:
		if isCancel(text) || isRefund(text) {
			return s.refundAndClose(ctx, cc)
		}
		return s.itemResumeRefundable(ctx, cc)

	default:
		return s.reply(ctx, cc, copyNotUnderstood)
	}
}

func (s *Service) itemHandleSize(ctx context.Context, cc *ChatContext, text string) error {
	item, err := s.itemForDrop(ctx, cc.Drop)
	if err != nil {
		return err
	}

	_, err = s.allocator.ClaimSkuUnit(ctx, cc.Session, item.ID, strings.TrimSpace(text))
	if err != nil {
		if errors.Is(err, store.ErrSkuNotFound) || errors.Is(err, store.ErrOutOfStock) {
			skus, listErr := s.repo.ListAvailableSkus(ctx, item.ID)
			if listErr != nil {
				return fmt.Errorf("item size: list skus: %w", listErr)
			}
			if len(skus) == 0 && errors.Is(err, store.ErrOutOfStock) {
				s.publishEvent(ctx, rabbitmq.RoutingKeySoldOut, rabbitmq.SoldOutEvent{
					DropID: cc.Drop.ID, Resource: "skus", Timestamp: s.now(),
				})
			}
			return s.reply(ctx, cc, copySizeUnavailable(skuIdentifiers(skus)))
		}
		return fmt.Errorf("item size: claim unit: %w", err)
	}

	if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForName); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyAskName())
}

func (s *Service) itemHandleName(ctx context.Context, cc *ChatContext, text string) error {
	order, err := s.repo.FindOrderBySession(ctx, cc.Session.ID)
	if err != nil {
		return fmt.Errorf("item name: load order: %w", err)
	}
	name := strings.TrimSpace(text)
	if name == "" {
		return s.reply(ctx, cc, copyHelpName)
	}
	if err := s.repo.UpdateOrderShippingName(ctx, order.ID, name); err != nil {
		return fmt.Errorf("item name: update order: %w", err)
	}
	if err := s.setSessionState(ctx, cc, domain.SessionStateWaitingForAddress); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyAskAddress(name))
}

func (s *Service) itemHandleAddress(ctx context.Context, cc *ChatContext, text string) error {
	address, err := s.geocoder.Geocode(ctx, text, cc.Drop.CountryCodeHint)
	if err != nil {
		if errors.Is(err, geoclient.ErrAddressNotFound) {
			return s.reply(ctx, cc, copyAddressNotFound())
		}
		return fmt.Errorf("item address: geocode: %w", err)
	}
	if cc.Drop.CountryCodeHint != "" && !strings.EqualFold(address.CountryCode, cc.Drop.CountryCodeHint) {
		return s.reply(ctx, cc, copyAddressWrongCountry())
	}

	order, err := s.repo.FindOrderBySession(ctx, cc.Session.ID)
	if err != nil {
		return fmt.Errorf("item address: load order: %w", err)
	}
	if err := s.repo.UpdateOrderShippingAddress(ctx, order.ID, address.Formatted, address.CountryCode); err != nil {
		return fmt.Errorf("item address: update order: %w", err)
	}
	if err := s.setSessionState(ctx, cc, domain.SessionStateShippingConfirmation); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyConfirmShipping(order.ShippingName, address.Formatted))
}

func (s *Service) itemConfirmOrder(ctx context.Context, cc *ChatContext) error {
	order, err := s.repo.FindOrderBySession(ctx, cc.Session.ID)
	if err != nil {
		return fmt.Errorf("item confirm: load order: %w", err)
	}
	if err := s.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusConfirmed); err != nil {
		return fmt.Errorf("item confirm: update order: %w", err)
	}
	if err := s.reply(ctx, cc, copyOrderConfirmed()); err != nil {
		return err
	}
	return s.askContactOrComplete(ctx, cc)
}

// itemResumeRefundable resumes a paused paid session at whichever shipping
// step it had reached: with an order the size is already claimed, so the name
// question restarts; without one the size question restarts.
func (s *Service) itemResumeRefundable(ctx context.Context, cc *ChatContext) error {
	_, err := s.repo.FindOrderBySession(ctx, cc.Session.ID)
	switch {
	case err == nil:
		if stateErr := s.setSessionState(ctx, cc, domain.SessionStateWaitingForName); stateErr != nil {
			return stateErr
		}
		return s.reply(ctx, cc, copyAskName())
	case errors.Is(err, store.ErrOrderNotFound):
		item, itemErr := s.itemForDrop(ctx, cc.Drop)
		if itemErr != nil {
			return itemErr
		}
		skus, listErr := s.repo.ListAvailableSkus(ctx, item.ID)
		if listErr != nil {
			return fmt.Errorf("item resume: list skus: %w", listErr)
		}
		if stateErr := s.setSessionState(ctx, cc, domain.SessionStateWaitingForSize); stateErr != nil {
			return stateErr
		}
		return s.reply(ctx, cc, copyItemPaymentReceived(skuIdentifiers(skus)))
	default:
		return fmt.Errorf("item resume: load order: %w", err)
	}
}

// refundAndClose refunds the item price, releases any claimed SKU unit, and
// closes the session. Used from every paid-but-unconfirmed step.
func (s *Service) refundAndClose(ctx context.Context, cc *ChatContext) error {
	item, err := s.itemForDrop(ctx, cc.Drop)
	if err != nil {
		return err
	}
	if err := s.refundSessionPayment(ctx, cc, item.Price, domain.MemoRefundCancelled); err != nil {
		return fmt.Errorf("refund and close: %w", err)
	}

	order, err := s.repo.FindOrderBySession(ctx, cc.Session.ID)
	if err == nil {
		if cancelErr := s.allocator.CancelOrder(ctx, order); cancelErr != nil {
			return fmt.Errorf("refund and close: cancel order: %w", cancelErr)
		}
	} else if !errors.Is(err, store.ErrOrderNotFound) {
		return fmt.Errorf("refund and close: load order: %w", err)
	}

	if err := s.setSessionState(ctx, cc, domain.SessionStateRefunded); err != nil {
		return err
	}
	return s.reply(ctx, cc, copyRefundIssued)
}

func (s *Service) itemForDrop(ctx context.Context, drop *domain.Drop) (*domain.Item, error) {
	if drop.ItemID == nil {
		return nil, fmt.Errorf("drop %s has no item configured", drop.ID)
	}
	item, err := s.repo.FindItemByID(ctx, *drop.ItemID)
	if err != nil {
		return nil, fmt.Errorf("load item for drop %s: %w", drop.ID, err)
	}
	return item, nil
}

func skuIdentifiers(skus []domain.Sku) []string {
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		out = append(out, sku.Identifier)
	}
	return out
}
