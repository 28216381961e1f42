/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for customers, drops, bonus coins, SKUs, sessions, orders, the message mailbox,
 * and payments.
 *
 * The hot shared counters (`bonus_coins.number_claimed`, `skus.number_ordered`)
 * and the mailbox claim are implemented as conditional UPDATEs whose WHERE clause
 * re-checks the value observed by the caller. A zero-row update means another
 * claimant won the race; callers retry with backoff. No lock is held across the
 * read-decide-write cycle.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCustomerNotFound       = errors.New("customer not found")
	ErrDropNotFound           = errors.New("drop not found")
	ErrNoActiveDrop           = errors.New("no active drop")
	ErrItemNotFound           = errors.New("item not found")
	ErrBonusCoinNotFound      = errors.New("bonus coin not found")
	ErrSkuNotFound            = errors.New("sku not found")
	ErrSessionNotFound        = errors.New("session not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrMessageNotFound        = errors.New("message not found")
	ErrNoEligibleMessage      = errors.New("no eligible message")
	ErrOutOfStock             = errors.New("out of stock")
	ErrConcurrentModification = errors.New("concurrent modification")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// FindOrCreateCustomerByPhone upserts the one customer record per phone identity.
func (r *PostgresRepository) FindOrCreateCustomerByPhone(ctx context.Context, phoneNumber string) (*domain.Customer, error) {
	query := `
		INSERT INTO customers (id, phone_number, received_gift, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		ON CONFLICT (phone_number) DO UPDATE SET updated_at = NOW()
		RETURNING id, phone_number, received_gift, allow_contact, created_at, updated_at
	`
	var c domain.Customer
	err := r.db.QueryRow(ctx, query, uuid.New(), phoneNumber).Scan(
		&c.ID, &c.PhoneNumber, &c.ReceivedGift, &c.AllowContact, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindCustomerByID retrieves a customer by their internal id.
func (r *PostgresRepository) FindCustomerByID(ctx context.Context, customerID uuid.UUID) (*domain.Customer, error) {
	query := `
		SELECT id, phone_number, received_gift, allow_contact, created_at, updated_at
		FROM customers
		WHERE id = $1
	`
	var c domain.Customer
	err := r.db.QueryRow(ctx, query, customerID).Scan(
		&c.ID, &c.PhoneNumber, &c.ReceivedGift, &c.AllowContact, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// SetCustomerReceivedGift flags that the customer has received an airdrop gift.
func (r *PostgresRepository) SetCustomerReceivedGift(ctx context.Context, customerID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE customers SET received_gift = TRUE, updated_at = NOW() WHERE id = $1`, customerID)
	return err
}

// SetCustomerAllowContact stores the customer's contact preference.
func (r *PostgresRepository) SetCustomerAllowContact(ctx context.Context, customerID uuid.UUID, allow bool) error {
	_, err := r.db.Exec(ctx,
		`UPDATE customers SET allow_contact = $2, updated_at = NOW() WHERE id = $1`, customerID, allow)
	return err
}

// ---------------------------------------------------------------------------
// Drops and items
// ---------------------------------------------------------------------------

const dropColumns = `
	id, type, name, start_time, end_time, number_restriction, country_code_hint,
	initial_coin_amount, initial_coin_limit, item_id, max_fee_covered_refunds, created_at
`

func scanDrop(row pgx.Row) (*domain.Drop, error) {
	var d domain.Drop
	err := row.Scan(
		&d.ID, &d.Type, &d.Name, &d.StartTime, &d.EndTime, &d.NumberRestriction,
		&d.CountryCodeHint, &d.InitialCoinAmount, &d.InitialCoinLimit, &d.ItemID,
		&d.MaxFeeCoveredRefunds, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FindActiveDrop returns the drop whose window contains the given instant.
// At most one drop is expected to be active at a time; overlapping windows
// resolve to the most recently started drop.
func (r *PostgresRepository) FindActiveDrop(ctx context.Context, now time.Time) (*domain.Drop, error) {
	query := `
		SELECT ` + dropColumns + `
		FROM drops
		WHERE start_time <= $1 AND end_time > $1
		ORDER BY start_time DESC
		LIMIT 1
	`
	d, err := scanDrop(r.db.QueryRow(ctx, query, now))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoActiveDrop
		}
		return nil, err
	}
	return d, nil
}

// FindDropByID retrieves a drop by id.
func (r *PostgresRepository) FindDropByID(ctx context.Context, dropID uuid.UUID) (*domain.Drop, error) {
	query := `SELECT ` + dropColumns + ` FROM drops WHERE id = $1`
	d, err := scanDrop(r.db.QueryRow(ctx, query, dropID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDropNotFound
		}
		return nil, err
	}
	return d, nil
}

// FindItemByID retrieves an item drop's item.
func (r *PostgresRepository) FindItemByID(ctx context.Context, itemID uuid.UUID) (*domain.Item, error) {
	query := `SELECT id, name, price, description, image_link FROM items WHERE id = $1`
	var i domain.Item
	err := r.db.QueryRow(ctx, query, itemID).Scan(&i.ID, &i.Name, &i.Price, &i.Description, &i.ImageLink)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &i, nil
}

// CountInitialDisbursements counts airdrop initial payouts already made for a
// drop; it backs the per-drop initial coin quota check.
func (r *PostgresRepository) CountInitialDisbursements(ctx context.Context, dropID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM payments p
		JOIN drop_sessions s ON p.session_id = s.id
		WHERE s.drop_id = $1 AND p.memo = $2 AND p.status <> $3
	`
	var count int
	err := r.db.QueryRow(ctx, query, dropID, domain.MemoInitialCoins, domain.PaymentStatusFailed).Scan(&count)
	return count, err
}

// ---------------------------------------------------------------------------
// Bonus coins
// ---------------------------------------------------------------------------

const bonusCoinColumns = `id, drop_id, amount, number_available_at_start, number_claimed`

// ListAvailableBonusCoins returns the bonus coin tiers that still have
// remaining capacity, in stable order.
func (r *PostgresRepository) ListAvailableBonusCoins(ctx context.Context, dropID uuid.UUID) ([]domain.BonusCoin, error) {
	query := `
		SELECT ` + bonusCoinColumns + `
		FROM bonus_coins
		WHERE drop_id = $1 AND number_claimed < number_available_at_start
		ORDER BY amount
	`
	return r.queryBonusCoins(ctx, query, dropID)
}

// ListBonusCoins returns all bonus coin tiers for a drop, claimed or not.
func (r *PostgresRepository) ListBonusCoins(ctx context.Context, dropID uuid.UUID) ([]domain.BonusCoin, error) {
	query := `SELECT ` + bonusCoinColumns + ` FROM bonus_coins WHERE drop_id = $1 ORDER BY amount`
	return r.queryBonusCoins(ctx, query, dropID)
}

func (r *PostgresRepository) queryBonusCoins(ctx context.Context, query string, dropID uuid.UUID) ([]domain.BonusCoin, error) {
	rows, err := r.db.Query(ctx, query, dropID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coins []domain.BonusCoin
	for rows.Next() {
		var b domain.BonusCoin
		if err := rows.Scan(&b.ID, &b.DropID, &b.Amount, &b.NumberAvailableAtStart, &b.NumberClaimed); err != nil {
			return nil, err
		}
		coins = append(coins, b)
	}
	return coins, rows.Err()
}

// ClaimBonusCoin increments number_claimed only if the row still carries the
// count the caller observed and capacity remains. A zero-row update means a
// concurrent claimant won; the caller re-reads and retries.
func (r *PostgresRepository) ClaimBonusCoin(ctx context.Context, bonusCoinID uuid.UUID, expectedClaimed int) error {
	query := `
		UPDATE bonus_coins
		SET number_claimed = number_claimed + 1
		WHERE id = $1
		  AND number_claimed = $2
		  AND number_claimed < number_available_at_start
	`
	tag, err := r.db.Exec(ctx, query, bonusCoinID, expectedClaimed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReleaseBonusCoin returns a claimed unit to the pool when the claim cannot
// be recorded on its session.
func (r *PostgresRepository) ReleaseBonusCoin(ctx context.Context, bonusCoinID uuid.UUID) error {
	query := `
		UPDATE bonus_coins
		SET number_claimed = number_claimed - 1
		WHERE id = $1 AND number_claimed > 0
	`
	tag, err := r.db.Exec(ctx, query, bonusCoinID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBonusCoinNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Skus
// ---------------------------------------------------------------------------

const skuColumns = `id, item_id, identifier, quantity, number_ordered, sort_order`

// ListAvailableSkus returns the SKUs of an item that still have unsold units.
func (r *PostgresRepository) ListAvailableSkus(ctx context.Context, itemID uuid.UUID) ([]domain.Sku, error) {
	query := `
		SELECT ` + skuColumns + `
		FROM skus
		WHERE item_id = $1 AND number_ordered < quantity
		ORDER BY sort_order
	`
	return r.querySkus(ctx, query, itemID)
}

// ListSkus returns all SKUs of an item.
func (r *PostgresRepository) ListSkus(ctx context.Context, itemID uuid.UUID) ([]domain.Sku, error) {
	query := `SELECT ` + skuColumns + ` FROM skus WHERE item_id = $1 ORDER BY sort_order`
	return r.querySkus(ctx, query, itemID)
}

func (r *PostgresRepository) querySkus(ctx context.Context, query string, itemID uuid.UUID) ([]domain.Sku, error) {
	rows, err := r.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skus []domain.Sku
	for rows.Next() {
		var s domain.Sku
		if err := rows.Scan(&s.ID, &s.ItemID, &s.Identifier, &s.Quantity, &s.NumberOrdered, &s.SortOrder); err != nil {
			return nil, err
		}
		skus = append(skus, s)
	}
	return skus, rows.Err()
}

// FindSkuByIdentifier resolves a customer's size reply (case-insensitive) to a SKU.
func (r *PostgresRepository) FindSkuByIdentifier(ctx context.Context, itemID uuid.UUID, identifier string) (*domain.Sku, error) {
	query := `
		SELECT ` + skuColumns + `
		FROM skus
		WHERE item_id = $1 AND lower(btrim(identifier)) = lower(btrim($2))
	`
	var s domain.Sku
	err := r.db.QueryRow(ctx, query, itemID, identifier).Scan(
		&s.ID, &s.ItemID, &s.Identifier, &s.Quantity, &s.NumberOrdered, &s.SortOrder,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSkuNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ClaimSkuUnit increments number_ordered with the same compare-and-swap shape
// as ClaimBonusCoin, keeping units sold never above quantity.
func (r *PostgresRepository) ClaimSkuUnit(ctx context.Context, skuID uuid.UUID, expectedOrdered int) error {
	query := `
		UPDATE skus
		SET number_ordered = number_ordered + 1
		WHERE id = $1
		  AND number_ordered = $2
		  AND number_ordered < quantity
	`
	tag, err := r.db.Exec(ctx, query, skuID, expectedOrdered)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ReleaseSkuUnit returns one unit to the pool when an order is cancelled.
func (r *PostgresRepository) ReleaseSkuUnit(ctx context.Context, skuID uuid.UUID) error {
	query := `
		UPDATE skus
		SET number_ordered = number_ordered - 1
		WHERE id = $1 AND number_ordered > 0
	`
	tag, err := r.db.Exec(ctx, query, skuID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSkuNotFound
	}
	return nil
}
