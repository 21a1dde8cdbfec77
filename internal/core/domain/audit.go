package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPurchase       AuditAction = "PURCHASE"
	AuditActionDisputeOpen    AuditAction = "DISPUTE_OPEN"
	AuditActionDisputeResolve AuditAction = "DISPUTE_RESOLVE"
	AuditActionEscrowRelease  AuditAction = "ESCROW_RELEASE"
	AuditActionEscrowRefund   AuditAction = "ESCROW_REFUND"
	AuditActionAutoRelease    AuditAction = "ESCROW_AUTO_RELEASE_RUN"
)

// AuditLog records a single audited action in the system.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	ActorID      *uuid.UUID  `json:"actor_id,omitempty"`
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}
