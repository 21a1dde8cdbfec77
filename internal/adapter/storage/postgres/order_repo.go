package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"notes-escrow/internal/core/domain"
	"notes-escrow/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, buyer_id, seller_id, note_id, payment_txn_id, amount, commission_amount,
		escrow_status, created_at, held_at, released_at, updated_at`

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.NoteID, &o.PaymentTxnID,
		&o.Amount, &o.CommissionAmount, &o.EscrowStatus,
		&o.CreatedAt, &o.HeldAt, &o.ReleasedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// Create inserts a new order within a transaction.
func (r *OrderRepo) Create(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := tx.Exec(ctx, query,
		o.ID, o.BuyerID, o.SellerID, o.NoteID, o.PaymentTxnID,
		o.Amount, o.CommissionAmount, string(o.EscrowStatus),
		o.CreatedAt, o.HeldAt, o.ReleasedAt, o.UpdatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err, ConstraintOrderOwnership):
			return fmt.Errorf("insert order: %w", domain.ErrDuplicateOwnership)
		case IsUniqueViolation(err, ConstraintOrderPayment):
			return fmt.Errorf("insert order: %w", domain.ErrDuplicatePayment)
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetByID fetches an order by its UUID (without locking).
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// GetByIDForUpdate fetches an order with a row lock.
// This MUST be called within a transaction.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	o, err := scanOrder(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order for update: %w", err)
	}
	return o, nil
}

// GetByPaymentTxn finds the order a buyer created with the given external payment reference.
func (r *OrderRepo) GetByPaymentTxn(ctx context.Context, buyerID uuid.UUID, paymentTxnID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 AND payment_txn_id = $2`

	o, err := scanOrder(r.pool.QueryRow(ctx, query, buyerID, paymentTxnID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order by payment txn: %w", err)
	}
	return o, nil
}

// ExistsActiveOwnership reports whether the buyer already holds the note (HELD or RELEASED).
func (r *OrderRepo) ExistsActiveOwnership(ctx context.Context, tx pgx.Tx, noteID, buyerID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(
		SELECT 1 FROM orders WHERE note_id = $1 AND buyer_id = $2 AND escrow_status IN ('HELD', 'RELEASED'))`

	var exists bool
	if err := tx.QueryRow(ctx, query, noteID, buyerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active ownership: %w", err)
	}
	return exists, nil
}

// CompareAndSetStatus moves an order from expected to next. released_at is only
// written when releasedAt is non-nil.
func (r *OrderRepo) CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected, next domain.EscrowStatus, releasedAt *time.Time) (bool, error) {
	query := `UPDATE orders
		SET escrow_status = $1, released_at = COALESCE($2, released_at), updated_at = NOW()
		WHERE id = $3 AND escrow_status = $4`

	tag, err := tx.Exec(ctx, query, string(next), releasedAt, id, string(expected))
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListByBuyer returns a buyer's orders, newest first.
func (r *OrderRepo) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list buyer orders: %w", err)
	}
	return collectOrders(rows)
}

// ListBySeller returns a seller's sales, newest first.
func (r *OrderRepo) ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE seller_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller orders: %w", err)
	}
	return collectOrders(rows)
}

// List returns one page of orders, optionally filtered by status, plus the total count.
func (r *OrderRepo) List(ctx context.Context, params ports.OrderListParams) ([]domain.Order, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("escrow_status = $%d", argIdx))
		args = append(args, string(*params.Status))
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM orders %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM orders %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ListReleasable returns HELD orders whose hold started at or before cutoff, keyset-paged by (held_at, id).
func (r *OrderRepo) ListReleasable(ctx context.Context, cutoff time.Time, after *ports.ReleaseCursor, limit int) ([]domain.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		query := `SELECT ` + orderColumns + ` FROM orders
			WHERE escrow_status = 'HELD' AND held_at <= $1
			ORDER BY held_at, id LIMIT $2`
		rows, err = r.pool.Query(ctx, query, cutoff, limit)
	} else {
		query := `SELECT ` + orderColumns + ` FROM orders
			WHERE escrow_status = 'HELD' AND held_at <= $1 AND (held_at, id) > ($2, $3)
			ORDER BY held_at, id LIMIT $4`
		rows, err = r.pool.Query(ctx, query, cutoff, after.HeldAt, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list releasable orders: %w", err)
	}
	return collectOrders(rows)
}
