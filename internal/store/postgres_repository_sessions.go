/**
 * @description
 * Session, order, and payment queries of the PostgreSQL repository. Sessions
 * are created once per (customer, drop) and advance through the drop-session
 * state machine; orders are 1:1 with sessions; payment rows are append-only.
 */

package store

import (
	"context"
	"time"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const sessionColumns = `id, customer_id, drop_id, state, manual_override, bonus_coin_id, created_at, updated_at`

func scanSession(row pgx.Row) (*domain.DropSession, error) {
	var s domain.DropSession
	err := row.Scan(
		&s.ID, &s.CustomerID, &s.DropID, &s.State, &s.ManualOverride,
		&s.BonusCoinID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateDropSession inserts a new session in READY state. The unique index on
// (customer_id, drop_id) enforces exactly one session per customer per drop.
func (r *PostgresRepository) CreateDropSession(ctx context.Context, session *domain.DropSession) error {
	query := `
		INSERT INTO drop_sessions (id, customer_id, drop_id, state, manual_override, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		session.ID, session.CustomerID, session.DropID, session.State, session.ManualOverride,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
}

// FindSessionByID retrieves a session by id.
func (r *PostgresRepository) FindSessionByID(ctx context.Context, sessionID uuid.UUID) (*domain.DropSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM drop_sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindSessionByCustomerAndDrop retrieves the (at most one) session a customer
// has for a drop, whatever its state.
func (r *PostgresRepository) FindSessionByCustomerAndDrop(ctx context.Context, customerID, dropID uuid.UUID) (*domain.DropSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM drop_sessions WHERE customer_id = $1 AND drop_id = $2`
	s, err := scanSession(r.db.QueryRow(ctx, query, customerID, dropID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// FindActiveSessionByCustomer returns the customer's non-terminal session, if
// any. Idle sessions count as active so a returning customer can resume.
func (r *PostgresRepository) FindActiveSessionByCustomer(ctx context.Context, customerID uuid.UUID) (*domain.DropSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM drop_sessions
		WHERE customer_id = $1
		  AND (state BETWEEN $2 AND $3 OR state IN ($4, $5))
		ORDER BY created_at DESC
		LIMIT 1
	`
	s, err := scanSession(r.db.QueryRow(ctx, query, customerID,
		domain.SessionStateReady, domain.SessionStateAllowContactRequested,
		domain.SessionStateIdle, domain.SessionStateIdleAndRefundable,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// UpdateSessionState advances a session. Terminal states are final: the WHERE
// clause refuses to move a session that already reached one.
func (r *PostgresRepository) UpdateSessionState(ctx context.Context, sessionID uuid.UUID, state domain.SessionState) error {
	query := `
		UPDATE drop_sessions
		SET state = $2, updated_at = NOW()
		WHERE id = $1
		  AND state NOT IN ($3, $4, $5, $6, $7)
	`
	tag, err := r.db.Exec(ctx, query, sessionID, state,
		domain.SessionStateCompleted, domain.SessionStateCancelled, domain.SessionStateRefunded,
		domain.SessionStateOutOfStock, domain.SessionStateRestrictionsNotMet,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetSessionBonusCoin persists the bonus coin claimed for an airdrop session.
func (r *PostgresRepository) SetSessionBonusCoin(ctx context.Context, sessionID, bonusCoinID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		`UPDATE drop_sessions SET bonus_coin_id = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, bonusCoinID)
	return err
}

// SetSessionManualOverride toggles operator takeover of a session.
func (r *PostgresRepository) SetSessionManualOverride(ctx context.Context, sessionID uuid.UUID, override bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE drop_sessions SET manual_override = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, override)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// FindStaleWaitingSessions returns sessions sitting in a waiting state with no
// activity since olderThan; the sweeper moves them to an idle state.
func (r *PostgresRepository) FindStaleWaitingSessions(ctx context.Context, olderThan time.Time) ([]domain.DropSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM drop_sessions
		WHERE state BETWEEN $1 AND $2
		  AND manual_override = FALSE
		  AND updated_at < $3
	`
	return r.querySessions(ctx, query,
		domain.SessionStateWaitingForPayment, domain.SessionStateShippingConfirmation, olderThan)
}

// FindReadySessionsForExpiredDrops returns READY sessions whose drop window has
// closed; the sweeper cancels them.
func (r *PostgresRepository) FindReadySessionsForExpiredDrops(ctx context.Context, now time.Time) ([]domain.DropSession, error) {
	query := `
		SELECT s.id, s.customer_id, s.drop_id, s.state, s.manual_override, s.bonus_coin_id, s.created_at, s.updated_at
		FROM drop_sessions s
		JOIN drops d ON s.drop_id = d.id
		WHERE s.state = $1 AND s.manual_override = FALSE AND d.end_time <= $2
	`
	return r.querySessions(ctx, query, domain.SessionStateReady, now)
}

func (r *PostgresRepository) querySessions(ctx context.Context, query string, args ...interface{}) ([]domain.DropSession, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.DropSession
	for rows.Next() {
		var s domain.DropSession
		if err := rows.Scan(&s.ID, &s.CustomerID, &s.DropID, &s.State, &s.ManualOverride,
			&s.BonusCoinID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// CreateOrder inserts the order backing a successful SKU claim. The unique
// index on session_id enforces the 1:1 session/order relationship.
func (r *PostgresRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, session_id, customer_id, sku_id, status, shipping_name, shipping_address, shipping_country, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		order.ID, order.SessionID, order.CustomerID, order.SkuID, order.Status,
		order.ShippingName, order.ShippingAddress, order.ShippingCountry,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

// FindOrderBySession retrieves the order attached to a session, if one exists.
func (r *PostgresRepository) FindOrderBySession(ctx context.Context, sessionID uuid.UUID) (*domain.Order, error) {
	query := `
		SELECT id, session_id, customer_id, sku_id, status, shipping_name, shipping_address, shipping_country, created_at, updated_at
		FROM orders
		WHERE session_id = $1
	`
	var o domain.Order
	err := r.db.QueryRow(ctx, query, sessionID).Scan(
		&o.ID, &o.SessionID, &o.CustomerID, &o.SkuID, &o.Status,
		&o.ShippingName, &o.ShippingAddress, &o.ShippingCountry, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// UpdateOrderShippingName records the customer's shipping name.
func (r *PostgresRepository) UpdateOrderShippingName(ctx context.Context, orderID uuid.UUID, name string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET shipping_name = $2, updated_at = NOW() WHERE id = $1`, orderID, name)
	return err
}

// UpdateOrderShippingAddress records the geocoded shipping address.
func (r *PostgresRepository) UpdateOrderShippingAddress(ctx context.Context, orderID uuid.UUID, address, country string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE orders SET shipping_address = $2, shipping_country = $3, updated_at = NOW() WHERE id = $1`,
		orderID, address, country)
	return err
}

// UpdateOrderStatus moves an order through its lifecycle.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Payments
// ---------------------------------------------------------------------------

// CreatePayment inserts a payment row. Rows are created before the ledger call
// is attempted so a crash mid-transfer still leaves an audit record.
func (r *PostgresRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (id, customer_id, session_id, amount, direction, status, txo_id, memo, fee_covered, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		payment.ID, payment.CustomerID, payment.SessionID, payment.Amount, payment.Direction,
		payment.Status, payment.TxoID, payment.Memo, payment.FeeCovered,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
}

// UpdatePaymentResult records the outcome of the ledger call for a payment.
func (r *PostgresRepository) UpdatePaymentResult(ctx context.Context, paymentID uuid.UUID, status domain.PaymentStatus, txoID *string) error {
	query := `
		UPDATE payments
		SET status = $2, txo_id = COALESCE($3, txo_id), updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query, paymentID, status, txoID)
	return err
}

// CountFeeCoveredRefunds counts refunds for a drop where the bot absorbed the
// network fee, backing the per-drop fee-coverage cap.
func (r *PostgresRepository) CountFeeCoveredRefunds(ctx context.Context, dropID uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM payments p
		JOIN drop_sessions s ON p.session_id = s.id
		WHERE s.drop_id = $1 AND p.fee_covered = TRUE AND p.status <> $2
	`
	var count int
	err := r.db.QueryRow(ctx, query, dropID, domain.PaymentStatusFailed).Scan(&count)
	return count, err
}
