/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the drop-service. By defining an interface,
 * we decouple the conversational business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * The mailbox claim and the bonus-coin / SKU counters rely on the store's
 * row-level conditional-update semantics; any storage engine substituted for
 * PostgreSQL must support an equivalent atomic conditional update.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation and handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Customer methods
	FindOrCreateCustomerByPhone(ctx context.Context, phoneNumber string) (*domain.Customer, error)
	FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error)
	SetCustomerReceivedGift(ctx context.Context, customerID uuid.UUID) error
	SetCustomerAllowContact(ctx context.Context, customerID uuid.UUID, allow bool) error

	// Drop and item methods
	FindActiveDrop(ctx context.Context, now time.Time) (*domain.Drop, error)
	FindDropByID(ctx context.Context, dropID uuid.UUID) (*domain.Drop, error)
	FindItemByID(ctx context.Context, itemID uuid.UUID) (*domain.Item, error)
	CountInitialDisbursements(ctx context.Context, dropID uuid.UUID) (int, error)

	// Bonus coin methods. ClaimBonusCoin performs the conditional increment
	// `number_claimed = expectedClaimed + 1` only while the row still carries
	// expectedClaimed; a lost race yields ErrConcurrentModification.
	ListAvailableBonusCoins(ctx context.Context, dropID uuid.UUID) ([]domain.BonusCoin, error)
	ClaimBonusCoin(ctx context.Context, bonusCoinID uuid.UUID, expectedClaimed int) error
	ReleaseBonusCoin(ctx context.Context, bonusCoinID uuid.UUID) error
	ListBonusCoins(ctx context.Context, dropID uuid.UUID) ([]domain.BonusCoin, error)

	// Sku methods. ClaimSkuUnit follows the same compare-and-swap shape as
	// ClaimBonusCoin; ReleaseSkuUnit returns a unit on order cancellation.
	ListAvailableSkus(ctx context.Context, itemID uuid.UUID) ([]domain.Sku, error)
	ListSkus(ctx context.Context, itemID uuid.UUID) ([]domain.Sku, error)
	FindSkuByIdentifier(ctx context.Context, itemID uuid.UUID, identifier string) (*domain.Sku, error)
	ClaimSkuUnit(ctx context.Context, skuID uuid.UUID, expectedOrdered int) error
	ReleaseSkuUnit(ctx context.Context, skuID uuid.UUID) error

	// Session methods
	CreateDropSession(ctx context.Context, session *domain.DropSession) error
	FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.DropSession, error)
	FindSessionByCustomerAndDrop(ctx context.Context, customerID, dropID uuid.UUID) (*domain.DropSession, error)
	FindActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*domain.DropSession, error)
	UpdateSessionState(ctx context.Context, sessionID uuid.UUID, state domain.SessionState) error
	SetSessionBonusCoin(ctx context.Context, sessionID, bonusCoinID uuid.UUID) error
	SetSessionManualOverride(ctx context.Context, sessionID uuid.UUID, override bool) error
	FindStaleWaitingSessions(ctx context.Context, olderThan time.Time) ([]domain.DropSession, error)
	FindReadySessionsForExpiredDrops(ctx context.Context, now time.Time) ([]domain.DropSession, error)

	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderBySession(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error)
	UpdateOrderShippingName(ctx context.Context, orderID uuid.UUID, name string) error
	UpdateOrderShippingAddress(ctx context.Context, orderID uuid.UUID, address, country string) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error

	// Mailbox methods. ClaimMessage performs the conditional transition
	// NOT_PROCESSED → PROCESSING and reports whether this caller won the row.
	EnqueueMessage(ctx context.Context, message *domain.Message) error
	NextEligibleMessage(ctx context.Context) (*domain.Message, error)
	ClaimMessage(ctx context.Context, messageID uuid.UUID) (bool, error)
	CompleteMessage(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, processingError *string) error
	RequeueErrorMessage(ctx context.Context, messageID uuid.UUID) error
	RecordSentMessage(ctx context.Context, message *domain.Message) error

	// Payment methods
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus, txoID *string) error
	CountFeeCoveredRefunds(ctx context.Context, dropID uuid.UUID) (int, error)
}
