// Package auditlog persists a change trail for mapping and vocabulary
// mutations. Recording is best-effort: an audit failure is logged and
// swallowed, never surfaced to the operation that triggered it.
package auditlog

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded change.
type Event struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Actor        string          `db:"actor" json:"actor"`
	Action       string          `db:"action" json:"action"`
	ResourceType string          `db:"resource_type" json:"resource_type"`
	ResourceID   string          `db:"resource_id" json:"resource_id"`
	Before       json.RawMessage `db:"before_state" json:"before,omitempty"`
	After        json.RawMessage `db:"after_state" json:"after,omitempty"`
	IPAddress    string          `db:"ip_address" json:"ip_address,omitempty"`
	RecordedAt   time.Time       `db:"recorded_at" json:"recorded_at"`
}

// SearchFilter narrows an audit query.
type SearchFilter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
}
