package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandmarket/submission-hub/internal/domain/payment"
)

const (
	intentColumns = `id, submission_id, external_id, amount, currency, status, awaiting_confirmation, failure_reason, created_at, updated_at, confirmed_at`

	// Partial unique index allowing one PENDING intent per submission.
	pendingIntentIndex = "payment_intents_one_pending_idx"
)

// PaymentRepository implements payment.Repository.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Create(ctx context.Context, i *payment.Intent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, i.ID, i.SubmissionID, i.ExternalID, i.Amount, i.Currency, i.Status, i.AwaitingConfirmation, i.FailureReason, i.CreatedAt, i.UpdatedAt, i.ConfirmedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pendingIntentIndex {
		return payment.ErrDuplicatePendingIntent
	}
	return err
}

func (r *PaymentRepository) Update(ctx context.Context, i *payment.Intent) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_intents
		SET status=$1, awaiting_confirmation=$2, failure_reason=$3, updated_at=$4, confirmed_at=$5
		WHERE id=$6
	`, i.Status, i.AwaitingConfirmation, i.FailureReason, i.UpdatedAt, i.ConfirmedAt, i.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return payment.ErrIntentNotFound
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, intentID uuid.UUID) (*payment.Intent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id=$1`, intentID)
	return scanIntent(row)
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*payment.Intent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE external_id=$1 ORDER BY created_at DESC LIMIT 1
	`, externalID)
	return scanIntent(row)
}

func (r *PaymentRepository) GetPendingBySubmission(ctx context.Context, submissionID uuid.UUID) (*payment.Intent, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE submission_id=$1 AND status=$2
	`, submissionID, payment.StatusPending)
	return scanIntent(row)
}

func (r *PaymentRepository) ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*payment.Intent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+intentColumns+` FROM payment_intents
		WHERE submission_id=$1 ORDER BY created_at ASC
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var intents []*payment.Intent
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, i)
	}
	return intents, rows.Err()
}

func scanIntent(row pgx.Row) (*payment.Intent, error) {
	var i payment.Intent
	if err := row.Scan(&i.ID, &i.SubmissionID, &i.ExternalID, &i.Amount, &i.Currency, &i.Status, &i.AwaitingConfirmation, &i.FailureReason, &i.CreatedAt, &i.UpdatedAt, &i.ConfirmedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &i, nil
}
