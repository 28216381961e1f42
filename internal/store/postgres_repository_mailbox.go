/**
 * @description
 * Mailbox queries of the PostgreSQL repository. The mailbox is the durable,
 * ordered store of inbound chat and payment events awaiting processing.
 *
 * Eligibility rule: only the oldest NOT_PROCESSED message of a customer is
 * eligible, and a customer with a message already PROCESSING has no eligible
 * messages at all. This serializes same-customer messages while letting
 * different customers' messages be processed concurrently.
 *
 * The claim itself is a conditional UPDATE on the candidate row; a zero-row
 * update means another worker raced ahead and the caller picks the next
 * candidate. This is the at-most-one-worker-per-message guarantee.
 */

package store

import (
	"context"

	"github.com/coindrop/drop-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, customer_id, direction, text, payment_receipt, status, processing_error, created_at, processed_at`

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.CustomerID, &m.Direction, &m.Text, &m.PaymentReceipt,
		&m.Status, &m.ProcessingError, &m.CreatedAt, &m.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// EnqueueMessage persists an inbound event as NOT_PROCESSED, ordered by arrival.
// Mailbox persistence is fatal on failure; there is no in-memory-only path.
func (r *PostgresRepository) EnqueueMessage(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (id, customer_id, direction, text, payment_receipt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		message.ID, message.CustomerID, message.Direction, message.Text,
		message.PaymentReceipt, message.Status,
	).Scan(&message.CreatedAt)
}

// NextEligibleMessage returns the oldest claimable inbound message, or
// ErrNoEligibleMessage when the queue has nothing ready.
func (r *PostgresRepository) NextEligibleMessage(ctx context.Context) (*domain.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.direction = $1
		  AND m.status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM messages p
			WHERE p.customer_id = m.customer_id AND p.direction = $1 AND p.status = $3
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM messages e
			WHERE e.customer_id = m.customer_id AND e.direction = $1 AND e.status = $2
			  AND e.created_at < m.created_at
		  )
		ORDER BY m.created_at
		LIMIT 1
	`
	m, err := scanMessage(r.db.QueryRow(ctx, query,
		domain.MessageDirectionReceived, domain.MessageStatusNotProcessed, domain.MessageStatusProcessing))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoEligibleMessage
		}
		return nil, err
	}
	return m, nil
}

// ClaimMessage transitions one message NOT_PROCESSED → PROCESSING. The
// conditional WHERE makes concurrent claims on the same row succeed for
// exactly one worker; the losers see claimed=false.
func (r *PostgresRepository) ClaimMessage(ctx context.Context, messageID uuid.UUID) (bool, error) {
	query := `
		UPDATE messages
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	tag, err := r.db.Exec(ctx, query, messageID,
		domain.MessageStatusProcessing, domain.MessageStatusNotProcessed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteMessage sets the terminal status of a claimed message. Only a
// PROCESSING row may complete, so the transition happens exactly once.
func (r *PostgresRepository) CompleteMessage(ctx context.Context, messageID uuid.UUID, status domain.MessageStatus, processingError *string) error {
	query := `
		UPDATE messages
		SET status = $2, processing_error = $3, processed_at = NOW()
		WHERE id = $1 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, messageID, status, processingError, domain.MessageStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// RequeueErrorMessage puts an ERROR message back into the queue. Messages are
// never retried automatically; this is the operator's requeue command.
func (r *PostgresRepository) RequeueErrorMessage(ctx context.Context, messageID uuid.UUID) error {
	query := `
		UPDATE messages
		SET status = $2, processing_error = NULL, processed_at = NULL
		WHERE id = $1 AND status = $3
	`
	tag, err := r.db.Exec(ctx, query, messageID,
		domain.MessageStatusNotProcessed, domain.MessageStatusError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// RecordSentMessage logs an outbound chat message for the audit trail.
// Outbound rows are born PROCESSED; they never enter the claim queue.
func (r *PostgresRepository) RecordSentMessage(ctx context.Context, message *domain.Message) error {
	query := `
		INSERT INTO messages (id, customer_id, direction, text, payment_receipt, status, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at
	`
	return r.db.QueryRow(ctx, query,
		message.ID, message.CustomerID, message.Direction, message.Text,
		message.PaymentReceipt, domain.MessageStatusProcessed,
	).Scan(&message.CreatedAt)
}
