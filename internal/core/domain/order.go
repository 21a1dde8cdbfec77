package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places amounts are stored with (NUMERIC(12,2)).
const MoneyScale = 2

// EscrowStatus represents where an order's funds currently sit.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "HELD"
	EscrowStatusDisputed EscrowStatus = "DISPUTED"
	EscrowStatusReleased EscrowStatus = "RELEASED"
	EscrowStatusRefunded EscrowStatus = "REFUNDED"
)

// transitions lists the legal next states for every non-terminal state.
var transitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusHeld:     {EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusRefunded},
	EscrowStatusDisputed: {EscrowStatusReleased, EscrowStatusRefunded},
}

// Valid reports whether s is one of the known escrow states.
func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusDisputed, EscrowStatusReleased, EscrowStatusRefunded:
		return true
	}
	return false
}

// IsTerminal returns true for RELEASED and REFUNDED.
func (s EscrowStatus) IsTerminal() bool {
	return s == EscrowStatusReleased || s == EscrowStatusRefunded
}

// OwnsNote returns true if an order in this state grants the buyer the note.
func (s EscrowStatus) OwnsNote() bool {
	return s == EscrowStatusHeld || s == EscrowStatusReleased
}

// CanTransition reports whether from -> to is a legal escrow transition.
func CanTransition(from, to EscrowStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Order is a note purchase whose payment is held in escrow.
// Amount and CommissionAmount are snapshots taken at purchase and never change.
type Order struct {
	ID               uuid.UUID       `json:"id"`
	BuyerID          uuid.UUID       `json:"buyer_id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	NoteID           uuid.UUID       `json:"note_id"`
	PaymentTxnID     *string         `json:"payment_txn_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	EscrowStatus     EscrowStatus    `json:"escrow_status"`
	CreatedAt        time.Time       `json:"created_at"`
	HeldAt           time.Time       `json:"held_at"`
	ReleasedAt       *time.Time      `json:"released_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SellerAmount is what the seller receives on release.
func (o *Order) SellerAmount() decimal.Decimal {
	return o.Amount.Sub(o.CommissionAmount)
}

// ReleasableAt returns the moment the order becomes eligible for auto-release.
func (o *Order) ReleasableAt(hold time.Duration) time.Time {
	return o.HeldAt.Add(hold)
}

// ComputeCommission returns price * percent / 100 rounded to MoneyScale.
func ComputeCommission(price, percent decimal.Decimal) decimal.Decimal {
	return price.Mul(percent).Div(decimal.NewFromInt(100)).Round(MoneyScale)
}
