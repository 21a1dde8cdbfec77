package dto

import (
	"time"

	"notes-escrow/internal/core/domain"
)

// PurchaseRequest is the request body for buying a note.
type PurchaseRequest struct {
	NoteID       string  `json:"note_id" binding:"required,uuid"`
	PaymentTxnID *string `json:"payment_txn_id,omitempty" binding:"omitempty,max=128,safe_id"`
}

// DisputeRequest is the request body for opening a dispute.
type DisputeRequest struct {
	OrderID string `json:"order_id" binding:"required,uuid"`
	Reason  string `json:"reason" binding:"required,max=2000"`
}

// ResolveDisputeRequest is the request body for an admin dispute decision.
// Refund only applies to RESOLVED; a REJECTED dispute always releases to the seller.
type ResolveDisputeRequest struct {
	Status     string `json:"status" binding:"required,oneof=RESOLVED REJECTED"`
	Resolution string `json:"resolution" binding:"max=2000"`
	Refund     bool   `json:"refund"`
}

// OrderListQuery holds admin order list filters.
type OrderListQuery struct {
	Status   string `form:"status" binding:"omitempty,escrow_status"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// DisputeListQuery holds admin dispute list filters.
type DisputeListQuery struct {
	Status string `form:"status" binding:"omitempty,oneof=OPEN RESOLVED REJECTED"`
}

// OrderResponse is the wire form of an order. Amounts are decimal strings.
type OrderResponse struct {
	ID               string  `json:"id"`
	BuyerID          string  `json:"buyer_id"`
	SellerID         string  `json:"seller_id"`
	NoteID           string  `json:"note_id"`
	PaymentTxnID     *string `json:"payment_txn_id,omitempty"`
	Amount           string  `json:"amount"`
	CommissionAmount string  `json:"commission_amount"`
	SellerAmount     string  `json:"seller_amount"`
	EscrowStatus     string  `json:"escrow_status"`
	CreatedAt        string  `json:"created_at"`
	HeldAt           string  `json:"held_at"`
	ReleasedAt       *string `json:"released_at,omitempty"`
}

// DisputeResponse is the wire form of a dispute.
type DisputeResponse struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"order_id"`
	UserID     string  `json:"user_id"`
	Reason     string  `json:"reason"`
	Status     string  `json:"status"`
	Resolution *string `json:"resolution,omitempty"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// TransactionResponse is one ledger entry.
type TransactionResponse struct {
	ID        string `json:"id"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// WalletResponse is the seller wallet view.
type WalletResponse struct {
	SellerID     string                `json:"seller_id"`
	Balance      string                `json:"balance"`
	Transactions []TransactionResponse `json:"transactions"`
}

// ReleaseResponse is returned by a manual admin release.
// Transaction is absent when the seller's share was zero.
type ReleaseResponse struct {
	OrderID      string               `json:"order_id"`
	EscrowStatus string               `json:"escrow_status"`
	Transaction  *TransactionResponse `json:"transaction,omitempty"`
}

// ReleaseRunResponse reports how many orders a release sweep settled.
type ReleaseRunResponse struct {
	Released  int `json:"released"`
	HoldHours int `json:"hold_hours"`
}

// ToOrderResponse converts a domain order.
func ToOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID.String(),
		BuyerID:          o.BuyerID.String(),
		SellerID:         o.SellerID.String(),
		NoteID:           o.NoteID.String(),
		PaymentTxnID:     o.PaymentTxnID,
		Amount:           o.Amount.StringFixed(domain.MoneyScale),
		CommissionAmount: o.CommissionAmount.StringFixed(domain.MoneyScale),
		SellerAmount:     o.SellerAmount().StringFixed(domain.MoneyScale),
		EscrowStatus:     string(o.EscrowStatus),
		CreatedAt:        o.CreatedAt.Format(time.RFC3339),
		HeldAt:           o.HeldAt.Format(time.RFC3339),
	}
	resp.ReleasedAt = formatTime(o.ReleasedAt)
	return resp
}

// ToOrderResponses converts a slice, never returning nil.
func ToOrderResponses(orders []domain.Order) []OrderResponse {
	out := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, ToOrderResponse(&orders[i]))
	}
	return out
}

// ToDisputeResponse converts a domain dispute.
func ToDisputeResponse(d *domain.Dispute) DisputeResponse {
	resp := DisputeResponse{
		ID:         d.ID.String(),
		OrderID:    d.OrderID.String(),
		UserID:     d.UserID.String(),
		Reason:     d.Reason,
		Status:     string(d.Status),
		Resolution: d.Resolution,
		ResolvedAt: formatTime(d.ResolvedAt),
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
	if d.ResolvedBy != nil {
		s := d.ResolvedBy.String()
		resp.ResolvedBy = &s
	}
	return resp
}

// ToDisputeResponses converts a slice, never returning nil.
func ToDisputeResponses(disputes []domain.Dispute) []DisputeResponse {
	out := make([]DisputeResponse, 0, len(disputes))
	for i := range disputes {
		out = append(out, ToDisputeResponse(&disputes[i]))
	}
	return out
}

// ToTransactionResponse converts a ledger entry.
func ToTransactionResponse(t *domain.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:        t.ID.String(),
		OrderID:   t.OrderID.String(),
		Amount:    t.Amount.StringFixed(domain.MoneyScale),
		Type:      string(t.Type),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
}

// ToWalletResponse combines a wallet with its most recent ledger entries.
func ToWalletResponse(w *domain.SellerWallet, txns []domain.Transaction) WalletResponse {
	items := make([]TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, ToTransactionResponse(&txns[i]))
	}
	return WalletResponse{
		SellerID:     w.SellerID.String(),
		Balance:      w.Balance.StringFixed(domain.MoneyScale),
		Transactions: items,
	}
}

// ToReleaseResponse builds the manual release result.
func ToReleaseResponse(orderID string, t *domain.Transaction) ReleaseResponse {
	resp := ReleaseResponse{OrderID: orderID, EscrowStatus: string(domain.EscrowStatusReleased)}
	if t != nil {
		tr := ToTransactionResponse(t)
		resp.Transaction = &tr
	}
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
