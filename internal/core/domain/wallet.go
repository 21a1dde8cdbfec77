package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SellerWallet holds a seller's released earnings. It is created on first credit.
type SellerWallet struct {
	SellerID  uuid.UUID       `json:"seller_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EmptyWallet is the view of a seller that has never been credited.
func EmptyWallet(sellerID uuid.UUID) *SellerWallet {
	return &SellerWallet{SellerID: sellerID, Balance: decimal.Zero}
}
