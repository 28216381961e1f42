/**
 * @description
 * This file defines the core domain models for the drop-service. These structs
 * represent the entities persisted in the database and passed between the chat
 * router, the drop-session state machines, the resource allocator, and the
 * payment reconciler.
 *
 * @notes
 * - Coin amounts are stored as `int64` picocoins (the smallest ledger unit),
 *   which avoids floating-point inaccuracies with financial data. Display
 *   conversion to whole coins happens only when rendering chat copy.
 * - Session, message, and payment rows are never deleted; they are the audit
 *   trail an operator uses to reconstruct why every transfer happened.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DropType distinguishes the two campaign variants.
type DropType string

const (
	DropTypeAirdrop DropType = "airdrop"
	DropTypeItem    DropType = "item"
)

// SessionState is the state of one customer's progress through one drop.
// The happy path only ever moves forward; the side states are reached through
// explicit cancel, refund, idle, or out-of-stock branches.
type SessionState int

const (
	SessionStateCancelled               SessionState = -1
	SessionStateReady                   SessionState = 0
	SessionStateWaitingForPayment       SessionState = 1
	SessionStateWaitingForSize          SessionState = 2
	SessionStateWaitingForName          SessionState = 3
	SessionStateWaitingForAddress       SessionState = 4
	SessionStateShippingConfirmation    SessionState = 5
	SessionStateAllowContactRequested   SessionState = 6
	SessionStateCompleted               SessionState = 7
	SessionStateRefunded                SessionState = 8
	SessionStateOutOfStock              SessionState = 9
	SessionStateRestrictionsNotMet      SessionState = 10
	SessionStateIdle                    SessionState = 11
	SessionStateIdleAndRefundable       SessionState = 12
)

// IsTerminal reports whether no automated handler may mutate the session further.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionStateCompleted, SessionStateCancelled, SessionStateRefunded,
		SessionStateOutOfStock, SessionStateRestrictionsNotMet:
		return true
	}
	return false
}

// AwaitingShippingInfo reports whether the session sits somewhere in the
// size → name → address → confirmation chain of an item drop.
func (s SessionState) AwaitingShippingInfo() bool {
	return s >= SessionStateWaitingForSize && s <= SessionStateShippingConfirmation
}

// OrderStatus tracks a customer's claim on one SKU unit.
type OrderStatus string

const (
	OrderStatusStarted   OrderStatus = "started"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// MessageStatus is the mailbox lifecycle of one inbound chat event.
// A message transitions NOT_PROCESSED → PROCESSING → {PROCESSED, ERROR}
// exactly once; the transitions are enforced by conditional updates in the store.
type MessageStatus int

const (
	MessageStatusNotProcessed MessageStatus = 0
	MessageStatusProcessing   MessageStatus = 1
	MessageStatusProcessed    MessageStatus = 2
	MessageStatusError        MessageStatus = 3
)

// MessageDirection marks whether a message was received from or sent to a customer.
type MessageDirection string

const (
	MessageDirectionReceived MessageDirection = "received"
	MessageDirectionSent     MessageDirection = "sent"
)

// PaymentStatus is the lifecycle of one ledger transfer.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSubmitted PaymentStatus = "submitted"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentDirection marks whether coins moved to or from the customer.
type PaymentDirection string

const (
	PaymentDirectionToCustomer   PaymentDirection = "to_customer"
	PaymentDirectionFromCustomer PaymentDirection = "from_customer"
)

// Customer is a chat participant, identified by phone number.
type Customer struct {
	ID           uuid.UUID `json:"id" db:"id"`
	PhoneNumber  string    `json:"phone_number" db:"phone_number"`
	ReceivedGift bool      `json:"received_gift" db:"received_gift"`
	// AllowContact is nil until the customer has answered the contact question;
	// a stored answer lets later sessions skip ALLOW_CONTACT_REQUESTED.
	AllowContact *bool     `json:"allow_contact,omitempty" db:"allow_contact"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasContactPreference reports whether the customer already answered the
// contact question in a previous session.
func (c *Customer) HasContactPreference() bool {
	return c.AllowContact != nil
}

// Drop is a time-boxed promotional campaign window.
type Drop struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Type      DropType  `json:"type" db:"type"`
	Name      string    `json:"name" db:"name"`
	StartTime time.Time `json:"start_time" db:"start_time"`
	EndTime   time.Time `json:"end_time" db:"end_time"`
	// NumberRestriction is a phone-number prefix (e.g. "+44"); empty means the
	// drop is open to any number.
	NumberRestriction string `json:"number_restriction" db:"number_restriction"`
	CountryCodeHint   string `json:"country_code_hint" db:"country_code_hint"`

	// Airdrop parameters.
	InitialCoinAmount int64 `json:"initial_coin_amount" db:"initial_coin_amount"` // picocoins
	InitialCoinLimit  int   `json:"initial_coin_limit" db:"initial_coin_limit"`

	// Item drop parameters.
	ItemID *uuid.UUID `json:"item_id,omitempty" db:"item_id"`

	// MaxFeeCoveredRefunds caps how many refunds per drop the bot absorbs the
	// network fee for; past the cap refunds are issued minus the fee.
	MaxFeeCoveredRefunds int `json:"max_fee_covered_refunds" db:"max_fee_covered_refunds"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsActiveAt reports whether the drop window is open at the given instant.
func (d *Drop) IsActiveAt(now time.Time) bool {
	return !now.Before(d.StartTime) && now.Before(d.EndTime)
}

// AllowsNumber checks the drop's phone-number prefix restriction.
func (d *Drop) AllowsNumber(phoneNumber string) bool {
	if d.NumberRestriction == "" {
		return true
	}
	return len(phoneNumber) >= len(d.NumberRestriction) &&
		phoneNumber[:len(d.NumberRestriction)] == d.NumberRestriction
}

// BonusCoin is a limited-supply payout tier attached to an airdrop. The
// invariant number_claimed <= number_available_at_start holds at all times,
// even under concurrent claims; it is enforced by a conditional update.
type BonusCoin struct {
	ID                     uuid.UUID `json:"id" db:"id"`
	DropID                 uuid.UUID `json:"drop_id" db:"drop_id"`
	Amount                 int64     `json:"amount" db:"amount"` // picocoins
	NumberAvailableAtStart int       `json:"number_available_at_start" db:"number_available_at_start"`
	NumberClaimed          int       `json:"number_claimed" db:"number_claimed"`
}

// Remaining is the number of unclaimed units at the moment the row was read.
func (b *BonusCoin) Remaining() int {
	return b.NumberAvailableAtStart - b.NumberClaimed
}

// Item is the purchasable good of an item drop.
type Item struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Price       int64     `json:"price" db:"price"` // picocoins
	Description string    `json:"description" db:"description"`
	ImageLink   string    `json:"image_link" db:"image_link"`
}

// Sku is a purchasable variant (e.g. a size) of an item with finite quantity.
// NumberOrdered counts live orders and is only ever mutated through the
// allocator's conditional update, so it can never exceed Quantity.
type Sku struct {
	ID            uuid.UUID `json:"id" db:"id"`
	ItemID        uuid.UUID `json:"item_id" db:"item_id"`
	Identifier    string    `json:"identifier" db:"identifier"`
	Quantity      int       `json:"quantity" db:"quantity"`
	NumberOrdered int       `json:"number_ordered" db:"number_ordered"`
	SortOrder     int       `json:"sort_order" db:"sort_order"`
}

// Remaining is the number of unsold units at the moment the row was read.
func (s *Sku) Remaining() int {
	return s.Quantity - s.NumberOrdered
}

// DropSession is one customer's stateful progress through one drop. There is
// exactly one active session per (customer, drop).
type DropSession struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	CustomerID uuid.UUID    `json:"customer_id" db:"customer_id"`
	DropID     uuid.UUID    `json:"drop_id" db:"drop_id"`
	State      SessionState `json:"state" db:"state"`
	// ManualOverride suppresses all automated handling; a human operator is
	// assumed to be responding to the customer.
	ManualOverride bool       `json:"manual_override" db:"manual_override"`
	BonusCoinID    *uuid.UUID `json:"bonus_coin_id,omitempty" db:"bonus_coin_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Order is a customer's claim on one SKU unit within one session (1:1 with the
// session). Cancelling an order releases the SKU unit back to the pool.
type Order struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	SessionID       uuid.UUID   `json:"session_id" db:"session_id"`
	CustomerID      uuid.UUID   `json:"customer_id" db:"customer_id"`
	SkuID           uuid.UUID   `json:"sku_id" db:"sku_id"`
	Status          OrderStatus `json:"status" db:"status"`
	ShippingName    string      `json:"shipping_name" db:"shipping_name"`
	ShippingAddress string      `json:"shipping_address" db:"shipping_address"`
	ShippingCountry string      `json:"shipping_country" db:"shipping_country"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// Message is one inbound or outbound chat event in the durable mailbox.
type Message struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	CustomerID uuid.UUID        `json:"customer_id" db:"customer_id"`
	Direction  MessageDirection `json:"direction" db:"direction"`
	Text       string           `json:"text" db:"text"`
	// PaymentReceipt is the opaque ledger receipt attached to a payment-bearing
	// message; empty for plain text messages.
	PaymentReceipt  string        `json:"payment_receipt" db:"payment_receipt"`
	Status          MessageStatus `json:"status" db:"status"`
	ProcessingError *string       `json:"processing_error,omitempty" db:"processing_error"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	ProcessedAt     *time.Time    `json:"processed_at,omitempty" db:"processed_at"`
}

// HasPayment reports whether the message carries a payment receipt.
func (m *Message) HasPayment() bool {
	return m.PaymentReceipt != ""
}

// Payment is one ledger transfer tied to a session. The row is created before
// the ledger call is attempted and its status updated on the result; rows are
// never deleted. The Memo describes why the transfer happened (e.g. "Initial
// coins", "Bonus", "Refund - Sold Out") and is the audit trail.
type Payment struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	CustomerID uuid.UUID        `json:"customer_id" db:"customer_id"`
	SessionID  *uuid.UUID       `json:"session_id,omitempty" db:"session_id"`
	Amount     int64            `json:"amount" db:"amount"` // picocoins
	Direction  PaymentDirection `json:"direction" db:"direction"`
	Status     PaymentStatus    `json:"status" db:"status"`
	TxoID      *string          `json:"txo_id,omitempty" db:"txo_id"`
	Memo       string           `json:"memo" db:"memo"`
	// FeeCovered marks refunds where the bot absorbed the network fee; the
	// per-drop cap on fee-covered refunds is counted over this flag.
	FeeCovered bool      `json:"fee_covered" db:"fee_covered"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}
