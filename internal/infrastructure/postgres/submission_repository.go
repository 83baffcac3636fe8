package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brandmarket/submission-hub/internal/domain/revision"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

const submissionColumns = `id, project_id, creator_id, content_model, status, revisions_used, max_revisions, asset_ref, proof, fetch_epoch, affiliate_link, payment_intent_id, version, created_at, updated_at, approved_at, proof_verified_at`

// SubmissionRepository implements submission.Repository.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

func (r *SubmissionRepository) Create(ctx context.Context, s *submission.Submission) error {
	s.Version = 1
	_, err := r.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, s.ID, s.ProjectID, s.CreatorID, s.ContentModel, s.Status, s.RevisionsUsed, s.MaxRevisions, s.AssetRef, s.Proof, s.FetchEpoch, s.AffiliateLink, s.PaymentIntentID, s.Version, s.CreatedAt, s.UpdatedAt, s.ApprovedAt, s.ProofVerifiedAt)
	return persistence("create submission", err)
}

func (r *SubmissionRepository) Get(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id)
	s, err := scanSubmission(row)
	return s, persistence("get submission", err)
}

func (r *SubmissionRepository) ListByStatus(ctx context.Context, status submission.Status, limit int) ([]*submission.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions
		WHERE status=$1 ORDER BY updated_at ASC LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, persistence("list submissions", err)
	}
	defer rows.Close()
	var subs []*submission.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, persistence("scan submission", err)
		}
		subs = append(subs, s)
	}
	return subs, persistence("list submissions", rows.Err())
}

func (r *SubmissionRepository) PutIfVersion(ctx context.Context, s *submission.Submission, expectedVersion int64) error {
	if err := r.conditionalUpdate(ctx, r.pool, s, expectedVersion); err != nil {
		return err
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *SubmissionRepository) PutWithReview(ctx context.Context, s *submission.Submission, expectedVersion int64, record *revision.ReviewRecord) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.conditionalUpdate(ctx, tx, s, expectedVersion); err != nil {
			return err
		}
		if record == nil {
			return nil
		}
		return insertReview(ctx, tx, record)
	})
	if err != nil {
		if errors.Is(err, submission.ErrConcurrentModification) || errors.Is(err, submission.ErrNotFound) || errors.Is(err, submission.ErrPersistence) {
			return err
		}
		return persistence("review submission", err)
	}
	s.Version = expectedVersion + 1
	return nil
}

func (r *SubmissionRepository) AppendReview(ctx context.Context, record *revision.ReviewRecord) error {
	return persistence("append review", insertReview(ctx, r.pool, record))
}

func (r *SubmissionRepository) ListReviews(ctx context.Context, submissionID uuid.UUID) ([]*revision.ReviewRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, submission_id, approved, feedback, issues, revision_number, created_at
		FROM submission_reviews WHERE submission_id=$1 ORDER BY created_at ASC, seq ASC
	`, submissionID)
	if err != nil {
		return nil, persistence("list reviews", err)
	}
	defer rows.Close()
	var records []*revision.ReviewRecord
	for rows.Next() {
		var rec revision.ReviewRecord
		if err := rows.Scan(&rec.ID, &rec.SubmissionID, &rec.Approved, &rec.Feedback, &rec.Issues, &rec.RevisionNumber, &rec.CreatedAt); err != nil {
			return nil, persistence("scan review", err)
		}
		records = append(records, &rec)
	}
	return records, persistence("list reviews", rows.Err())
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conditionalUpdate writes s only if the stored version still equals expectedVersion.
func (r *SubmissionRepository) conditionalUpdate(ctx context.Context, db execer, s *submission.Submission, expectedVersion int64) error {
	tag, err := db.Exec(ctx, `
		UPDATE submissions
		SET status=$1, revisions_used=$2, max_revisions=$3, asset_ref=$4, proof=$5, fetch_epoch=$6,
			affiliate_link=$7, payment_intent_id=$8, updated_at=$9, approved_at=$10, proof_verified_at=$11,
			version=version+1
		WHERE id=$12 AND version=$13
	`, s.Status, s.RevisionsUsed, s.MaxRevisions, s.AssetRef, s.Proof, s.FetchEpoch, s.AffiliateLink, s.PaymentIntentID, s.UpdatedAt, s.ApprovedAt, s.ProofVerifiedAt, s.ID, expectedVersion)
	if err != nil {
		return persistence("update submission", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM submissions WHERE id=$1)`, s.ID).Scan(&exists); err != nil {
		return persistence("check submission", err)
	}
	if !exists {
		return submission.ErrNotFound
	}
	return submission.ErrConcurrentModification
}

func insertReview(ctx context.Context, db execer, rec *revision.ReviewRecord) error {
	issues := rec.Issues
	if issues == nil {
		issues = []string{}
	}
	_, err := db.Exec(ctx, `
		INSERT INTO submission_reviews (id, submission_id, approved, feedback, issues, revision_number, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, rec.ID, rec.SubmissionID, rec.Approved, rec.Feedback, issues, rec.RevisionNumber, rec.CreatedAt)
	return err
}

func scanSubmission(row pgx.Row) (*submission.Submission, error) {
	var s submission.Submission
	if err := row.Scan(&s.ID, &s.ProjectID, &s.CreatorID, &s.ContentModel, &s.Status, &s.RevisionsUsed, &s.MaxRevisions, &s.AssetRef, &s.Proof, &s.FetchEpoch, &s.AffiliateLink, &s.PaymentIntentID, &s.Version, &s.CreatedAt, &s.UpdatedAt, &s.ApprovedAt, &s.ProofVerifiedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// persistence wraps driver errors so callers can match submission.ErrPersistence.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", submission.ErrPersistence, op, err)
}
