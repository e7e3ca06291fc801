package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies how an audited attempt ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// AuditRecord is an append-only trace of one attempted operation. Version is zero
// when the attempt did not target a specific version.
type AuditRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   uint      `json:"version,omitempty"`
	Requester string    `json:"requester"`
	Action    Action    `json:"action"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Signature []byte    `json:"signature,omitempty"`
}
