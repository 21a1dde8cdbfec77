package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType names the release event that produced a ledger entry.
type TransactionType string

const (
	TransactionTypeEscrowRelease     TransactionType = "ESCROW_RELEASE"
	TransactionTypeEscrowAutoRelease TransactionType = "ESCROW_AUTO_RELEASE"
	TransactionTypeDisputeResolved   TransactionType = "DISPUTE_RESOLVED"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeEscrowRelease, TransactionTypeEscrowAutoRelease, TransactionTypeDisputeResolved:
		return true
	}
	return false
}

// Transaction is an immutable ledger entry crediting a seller for one released order.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	OrderID   uuid.UUID       `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}
