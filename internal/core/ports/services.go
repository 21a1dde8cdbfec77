package ports

import (
	"context"
	"time"

	"notes-escrow/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
	BuildCanonicalString(method, path string, timestamp int64, nonce string, body string) string
}

// TokenService handles bearer token operations.
type TokenService interface {
	Generate(principal domain.Principal) (string, time.Time, error)
	Validate(tokenString string) (*domain.Principal, error)
}

// IdempotencyCache is the Redis-layer purchase idempotency check (fast path).
type IdempotencyCache interface {
	// Get returns the order id stored under key, or uuid.Nil on a miss.
	Get(ctx context.Context, key string) (uuid.UUID, error)
	Set(ctx context.Context, key string, orderID uuid.UUID, ttl time.Duration) error
}

// NonceStore manages nonce uniqueness for replay attack prevention.
type NonceStore interface {
	// CheckAndSet atomically checks if nonce exists, sets it if not.
	// Returns true if nonce is new (valid), false if already used.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// DistributedLock lets one replica at a time run a periodic job.
type DistributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// --- Service Ports (Business Logic) ---

// WalletLedger owns seller balances and the transaction log.
type WalletLedger interface {
	// CreditSeller runs inside the caller's unit.
	CreditSeller(ctx context.Context, tx pgx.Tx, sellerID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, txnType domain.TransactionType) (*domain.Transaction, error)
	GetBalance(ctx context.Context, sellerID uuid.UUID) (*domain.SellerWallet, error)
	GetRecentTransactions(ctx context.Context, sellerID uuid.UUID, limit int) ([]domain.Transaction, error)
	Reconcile(ctx context.Context, sellerID uuid.UUID) (*Reconciliation, error)
}

// Reconciliation compares a stored balance with the ledger it should equal.
type Reconciliation struct {
	SellerID    uuid.UUID       `json:"seller_id"`
	Balance     decimal.Decimal `json:"balance"`
	LedgerTotal decimal.Decimal `json:"ledger_total"`
	Consistent  bool            `json:"consistent"`
}

// EscrowStateMachine enforces escrow transitions.
type EscrowStateMachine interface {
	Release(ctx context.Context, orderID uuid.UUID, expected domain.EscrowStatus, txnType domain.TransactionType) (*domain.Transaction, error)
	Refund(ctx context.Context, orderID uuid.UUID, expected domain.EscrowStatus) (*domain.Order, error)
	ReleaseInTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, expected domain.EscrowStatus, txnType domain.TransactionType) (*domain.Transaction, error)
	RefundInTx(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, expected domain.EscrowStatus) (*domain.Order, error)
	Transition(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, expected, next domain.EscrowStatus) (*domain.Order, error)
}

// OrderService creates and reads orders, and exposes admin settlement actions.
type OrderService interface {
	PurchaseNote(ctx context.Context, req PurchaseRequest) (*domain.Order, error)
	ListBuyerOrders(ctx context.Context, buyerID uuid.UUID) ([]domain.Order, error)
	ListSellerSales(ctx context.Context, sellerID uuid.UUID) ([]domain.Order, error)
	ListOrders(ctx context.Context, params OrderListParams) ([]domain.Order, int64, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ReleaseOrder(ctx context.Context, orderID uuid.UUID) (*domain.Transaction, error)
	RefundOrder(ctx context.Context, orderID, adminID uuid.UUID) (*domain.Order, error)
}

// PurchaseRequest holds validated input for a note purchase.
type PurchaseRequest struct {
	BuyerID           uuid.UUID
	NoteID            uuid.UUID
	PaymentTxnID      *string
	CommissionPercent decimal.Decimal
}

// DisputeService manages the dispute lifecycle.
type DisputeService interface {
	CreateDispute(ctx context.Context, orderID, buyerID uuid.UUID, reason string) (*domain.Dispute, error)
	ResolveDispute(ctx context.Context, req ResolveDisputeRequest) (*domain.Dispute, error)
	ListUserDisputes(ctx context.Context, userID uuid.UUID) ([]domain.Dispute, error)
	ListDisputes(ctx context.Context, status *domain.DisputeStatus) ([]domain.Dispute, error)
}

// ResolveDisputeRequest holds an admin decision on a dispute.
type ResolveDisputeRequest struct {
	DisputeID  uuid.UUID
	AdminID    uuid.UUID
	Status     domain.DisputeStatus
	Resolution string
	Refund     bool
}

// ReleaseScheduler releases held orders whose hold period has elapsed.
type ReleaseScheduler interface {
	ProcessEscrowRelease(ctx context.Context, holdHours int) (int, error)
}

// AuditService records audited actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
