package postgres

import (
	"context"
	"fmt"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// TransactionRepo implements ports.LedgerRepository. Rows are never updated or deleted.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Append inserts a ledger entry within a transaction.
func (r *TransactionRepo) Append(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, seller_id, order_id, amount, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := tx.Exec(ctx, query, t.ID, t.SellerID, t.OrderID, t.Amount, string(t.Type), t.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err, ConstraintTxnPerOrder) {
			return fmt.Errorf("insert transaction: %w", domain.ErrAlreadyCredited)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListBySeller returns a seller's most recent ledger entries, newest first.
func (r *TransactionRepo) ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]domain.Transaction, error) {
	query := `SELECT id, seller_id, order_id, amount, type, created_at
		FROM transactions WHERE seller_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, sellerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list seller transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		if err := rows.Scan(&t.ID, &t.SellerID, &t.OrderID, &t.Amount, &t.Type, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// SumBySeller totals every ledger entry of a seller.
func (r *TransactionRepo) SumBySeller(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE seller_id = $1`

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, query, sellerID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum seller transactions: %w", err)
	}
	return total, nil
}
