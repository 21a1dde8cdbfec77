package postgres

import (
	"context"
	"errors"
	"fmt"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const disputeColumns = `id, order_id, user_id, reason, status, resolution, resolved_by, resolved_at, created_at`

// DisputeRepo implements ports.DisputeRepository.
type DisputeRepo struct {
	pool Pool
}

// NewDisputeRepo creates a new DisputeRepo.
func NewDisputeRepo(pool Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func scanDispute(row pgx.Row) (*domain.Dispute, error) {
	d := &domain.Dispute{}
	err := row.Scan(
		&d.ID, &d.OrderID, &d.UserID, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DisputeRepo) queryOne(row pgx.Row, op string) (*domain.Dispute, error) {
	d, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d, nil
}

func (r *DisputeRepo) queryMany(ctx context.Context, op, query string, args ...any) ([]domain.Dispute, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var disputes []domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispute row: %w", err)
		}
		disputes = append(disputes, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispute rows: %w", err)
	}
	return disputes, nil
}

// Create inserts a new dispute within a transaction.
func (r *DisputeRepo) Create(ctx context.Context, tx pgx.Tx, d *domain.Dispute) error {
	query := `INSERT INTO disputes (` + disputeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.Exec(ctx, query,
		d.ID, d.OrderID, d.UserID, d.Reason, string(d.Status),
		d.Resolution, d.ResolvedBy, d.ResolvedAt, d.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, ConstraintOpenDispute) {
			return fmt.Errorf("insert dispute: %w", domain.ErrDisputeAlreadyOpen)
		}
		return fmt.Errorf("insert dispute: %w", err)
	}
	return nil
}

// GetByID fetches a dispute by its UUID (without locking).
func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1`
	return r.queryOne(r.pool.QueryRow(ctx, query, id), "get dispute by id")
}

// GetByIDForUpdate fetches a dispute with a row lock.
func (r *DisputeRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`
	return r.queryOne(tx.QueryRow(ctx, query, id), "get dispute for update")
}

// GetOpenByOrderForUpdate fetches the OPEN dispute of an order, if any, with a row lock.
func (r *DisputeRepo) GetOpenByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE order_id = $1 AND status = 'OPEN' FOR UPDATE`
	return r.queryOne(tx.QueryRow(ctx, query, orderID), "get open dispute by order")
}

// Close writes the dispute's decision if it is still OPEN.
func (r *DisputeRepo) Close(ctx context.Context, tx pgx.Tx, d *domain.Dispute) (bool, error) {
	query := `UPDATE disputes
		SET status = $1, resolution = $2, resolved_by = $3, resolved_at = $4
		WHERE id = $5 AND status = 'OPEN'`

	tag, err := tx.Exec(ctx, query, string(d.Status), d.Resolution, d.ResolvedBy, d.ResolvedAt, d.ID)
	if err != nil {
		return false, fmt.Errorf("close dispute: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByUser returns the disputes a user opened, newest first.
func (r *DisputeRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE user_id = $1 ORDER BY created_at DESC`
	return r.queryMany(ctx, "list user disputes", query, userID)
}

// List returns all disputes, optionally filtered by status, newest first.
func (r *DisputeRepo) List(ctx context.Context, status *domain.DisputeStatus) ([]domain.Dispute, error) {
	if status == nil {
		query := `SELECT ` + disputeColumns + ` FROM disputes ORDER BY created_at DESC`
		return r.queryMany(ctx, "list disputes", query)
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE status = $1 ORDER BY created_at DESC`
	return r.queryMany(ctx, "list disputes", query, string(*status))
}
