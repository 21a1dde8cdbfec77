package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Note is the catalog's view of a sellable note. This core reads it and bumps its download counter.
type Note struct {
	ID        uuid.UUID       `json:"id"`
	SellerID  uuid.UUID       `json:"seller_id"`
	Price     decimal.Decimal `json:"price"`
	Approved  bool            `json:"approved"`
	Downloads int64           `json:"downloads"`
}
