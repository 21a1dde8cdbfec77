package domain

import "errors"

// Store-level conflicts. Repositories wrap these when a uniqueness rule rejects a write.
var (
	ErrDuplicateOwnership = errors.New("buyer already holds an active order for this note")
	ErrDuplicatePayment   = errors.New("payment reference already used by this buyer")
	ErrDisputeAlreadyOpen = errors.New("order already has an open dispute")
	ErrAlreadyCredited    = errors.New("order already has a ledger entry")
)
