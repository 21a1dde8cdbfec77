package ports

import (
	"context"
	"time"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// OrderRepository defines persistence operations for orders.
// Methods accepting pgx.Tx run inside the caller's unit of work.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error)
	GetByPaymentTxn(ctx context.Context, buyerID uuid.UUID, paymentTxnID string) (*domain.Order, error)
	ExistsActiveOwnership(ctx context.Context, tx pgx.Tx, noteID, buyerID uuid.UUID) (bool, error)
	// CompareAndSetStatus moves the order to next only if it is still in expected.
	// Returns false when the row did not match.
	CompareAndSetStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, expected, next domain.EscrowStatus, releasedAt *time.Time) (bool, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error)
	ListBySeller(ctx context.Context, sellerID uuid.UUID) ([]domain.Order, error)
	List(ctx context.Context, params OrderListParams) ([]domain.Order, int64, error)
	// ListReleasable returns HELD orders with held_at <= cutoff ordered by (held_at, id), starting after the cursor.
	ListReleasable(ctx context.Context, cutoff time.Time, after *ReleaseCursor, limit int) ([]domain.Order, error)
}

// OrderListParams holds filter + pagination for listing orders.
type OrderListParams struct {
	Status   *domain.EscrowStatus
	Page     int
	PageSize int
}

// ReleaseCursor is the keyset position of the last order seen by a release scan.
type ReleaseCursor struct {
	HeldAt time.Time
	ID     uuid.UUID
}

// DisputeRepository defines persistence operations for disputes.
type DisputeRepository interface {
	Create(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Dispute, error)
	GetOpenByOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*domain.Dispute, error)
	// Close persists the decision carried by dispute if the stored row is still OPEN.
	Close(ctx context.Context, tx pgx.Tx, dispute *domain.Dispute) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Dispute, error)
	List(ctx context.Context, status *domain.DisputeStatus) ([]domain.Dispute, error)
}

// WalletRepository defines persistence operations for seller wallets.
type WalletRepository interface {
	// Credit creates the wallet with balance=amount or adds amount to it.
	Credit(ctx context.Context, tx pgx.Tx, sellerID uuid.UUID, amount decimal.Decimal) (*domain.SellerWallet, error)
	GetBySellerID(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error)
}

// LedgerRepository is the append-only transaction log.
type LedgerRepository interface {
	Append(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error
	ListBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]domain.Transaction, error)
	SumBySeller(ctx context.Context, sellerID uuid.UUID) (decimal.Decimal, error)
}

// NoteCatalog is the slice of the note catalog this core depends on.
type NoteCatalog interface {
	GetByID(ctx context.Context, tx pgx.Tx, noteID uuid.UUID) (*domain.Note, error)
	IncrementDownloads(ctx context.Context, tx pgx.Tx, noteID uuid.UUID) error
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
