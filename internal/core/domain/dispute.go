package domain

import (
	"time"

	"github.com/google/uuid"
)

// DisputeStatus represents the lifecycle state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen     DisputeStatus = "OPEN"
	DisputeStatusResolved DisputeStatus = "RESOLVED"
	DisputeStatusRejected DisputeStatus = "REJECTED"
)

// IsResolution reports whether s is a valid outcome for closing a dispute.
func (s DisputeStatus) IsResolution() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

// Dispute is a buyer's contest of a held order. It references the order, it does not own it.
type Dispute struct {
	ID         uuid.UUID     `json:"id"`
	OrderID    uuid.UUID     `json:"order_id"`
	UserID     uuid.UUID     `json:"user_id"`
	Reason     string        `json:"reason"`
	Status     DisputeStatus `json:"status"`
	Resolution *string       `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID    `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// IsOpen returns true while the dispute awaits an admin decision.
func (d *Dispute) IsOpen() bool {
	return d.Status == DisputeStatusOpen
}

// Close records an admin decision on the dispute.
func (d *Dispute) Close(status DisputeStatus, resolution string, adminID uuid.UUID, at time.Time) {
	d.Status = status
	d.ResolvedBy = &adminID
	d.ResolvedAt = &at
	if resolution != "" {
		d.Resolution = &resolution
	}
}
