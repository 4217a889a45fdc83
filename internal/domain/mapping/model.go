package mapping

import (
	"time"

	"github.com/google/uuid"

	"github.com/termmap/termmap/internal/platform/apperror"
)

// MappingType classifies how a source code relates to its target. The values
// are emitted verbatim as ConceptMap equivalence codes.
type MappingType string

const (
	TypeEquivalent MappingType = "equivalent"
	TypeBroader    MappingType = "broader"
	TypeNarrower   MappingType = "narrower"
	TypeRelated    MappingType = "related"
)

func ValidMappingType(t MappingType) bool {
	switch t {
	case TypeEquivalent, TypeBroader, TypeNarrower, TypeRelated:
		return true
	}
	return false
}

// OnDuplicate selects what a create does when an active mapping for the same
// pair already exists: Skip returns the existing mapping, Reject conflicts.
type OnDuplicate string

const (
	DuplicateSkip   OnDuplicate = "skip"
	DuplicateReject OnDuplicate = "reject"
)

// Mapping links one NAMASTE code to one ICD-11 entity. At most one active
// mapping may exist per (source_code, target_entity_id) pair; deactivation is
// the only form of deletion.
type Mapping struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	SourceCode     string      `db:"source_code" json:"source_code"`
	TargetEntityID string      `db:"target_entity_id" json:"target_entity_id"`
	MappingType    MappingType `db:"mapping_type" json:"mapping_type"`
	Confidence     float64     `db:"confidence" json:"confidence"`
	Notes          string      `db:"notes" json:"notes,omitempty"`
	VerifiedBy     *string     `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt     *time.Time  `db:"verified_at" json:"verified_at,omitempty"`
	IsActive       bool        `db:"is_active" json:"is_active"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time   `db:"updated_at" json:"updated_at"`
}

// Verified reports whether a curator has signed off on this mapping. Absence
// of a verifier means the mapping is system-generated or awaiting review.
func (m *Mapping) Verified() bool {
	return m.VerifiedBy != nil && m.VerifiedAt != nil
}

// CreateInput carries the fields for a mapping create. MappingType and
// Confidence are optional; when absent they are derived from the display
// strings of the two codes.
type CreateInput struct {
	SourceCode  string      `json:"source_code"`
	TargetCode  string      `json:"target_code"`
	MappingType MappingType `json:"mapping_type,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	OnDuplicate OnDuplicate `json:"on_duplicate,omitempty"`
}

// Validate checks the input fields before any store lookups happen.
func (in *CreateInput) Validate() error {
	if in.SourceCode == "" {
		return apperror.Invalid("source_code", "is required")
	}
	if in.TargetCode == "" {
		return apperror.Invalid("target_code", "is required")
	}
	if in.MappingType != "" && !ValidMappingType(in.MappingType) {
		return apperror.Invalid("mapping_type", "unsupported value %q", in.MappingType)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return apperror.Invalid("confidence", "must be between 0 and 1")
	}
	if in.OnDuplicate != "" && in.OnDuplicate != DuplicateSkip && in.OnDuplicate != DuplicateReject {
		return apperror.Invalid("on_duplicate", "unsupported value %q", in.OnDuplicate)
	}
	return nil
}

// UpdateInput carries the mutable fields of an existing mapping.
type UpdateInput struct {
	MappingType MappingType `json:"mapping_type,omitempty"`
	Confidence  *float64    `json:"confidence,omitempty"`
	Notes       *string     `json:"notes,omitempty"`
}

func (in *UpdateInput) Validate() error {
	if in.MappingType != "" && !ValidMappingType(in.MappingType) {
		return apperror.Invalid("mapping_type", "unsupported value %q", in.MappingType)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return apperror.Invalid("confidence", "must be between 0 and 1")
	}
	return nil
}

// ListFilter narrows a mapping listing.
type ListFilter struct {
	SourceCode     string
	TargetEntityID string
	MappingType    MappingType
	VerifiedOnly   bool
}

// MappingSuggestion is a ranked candidate returned by the suggestion engine.
// It is never persisted; promoting one to a Mapping is an explicit create.
type MappingSuggestion struct {
	TargetEntityID string      `json:"target_entity_id"`
	TargetCode     string      `json:"target_code,omitempty"`
	TargetDisplay  string      `json:"target_display"`
	Confidence     float64     `json:"confidence"`
	MappingType    MappingType `json:"mapping_type"`
}

// ValidationIssue describes one problem found while re-checking a mapping.
type ValidationIssue struct {
	MappingID      uuid.UUID `json:"mapping_id"`
	SourceCode     string    `json:"source_code"`
	TargetEntityID string    `json:"target_entity_id"`
	Severity       string    `json:"severity"`
	Message        string    `json:"message"`
}

// ValidationReport aggregates a bulk re-validation run.
type ValidationReport struct {
	Valid   int               `json:"valid"`
	Invalid int               `json:"invalid"`
	Issues  []ValidationIssue `json:"issues"`
}

// ValidationResult is the single-mapping form of the validator output.
type ValidationResult struct {
	IsValid    bool              `json:"is_valid"`
	Confidence float64           `json:"confidence"`
	Issues     []ValidationIssue `json:"issues"`
}

// AutoMapStats summarizes a bulk automatic-mapping run.
type AutoMapStats struct {
	Processed int      `json:"processed"`
	Created   int      `json:"created"`
	Skipped   int      `json:"skipped"`
	Errors    int      `json:"errors"`
	Details   []string `json:"details,omitempty"`
}

// ImportReport summarizes a CSV batch import.
type ImportReport struct {
	Rows    int      `json:"rows"`
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  int      `json:"errors"`
	Details []string `json:"details,omitempty"`
}
