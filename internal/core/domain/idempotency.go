package domain

import "github.com/google/uuid"

// BuildPurchaseIdempotencyKey constructs the cache key for a buyer's payment reference.
// Format: "purchase:buyer_id:payment_txn_id".
func BuildPurchaseIdempotencyKey(buyerID uuid.UUID, paymentTxnID string) string {
	return "purchase:" + buyerID.String() + ":" + paymentTxnID
}
