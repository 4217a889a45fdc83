package terminology

import (
	"time"

	"github.com/google/uuid"

	"github.com/termmap/termmap/internal/platform/apperror"
	"github.com/termmap/termmap/internal/platform/fhir"
)

// Status marks whether a code is in active use. Codes are never hard-deleted;
// retirement is a status flip so existing mappings keep a resolvable history.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// SystemType identifies the traditional-medicine discipline a NAMASTE code
// belongs to.
type SystemType string

const (
	SystemAyurveda SystemType = "ayurveda"
	SystemSiddha   SystemType = "siddha"
	SystemUnani    SystemType = "unani"
)

// ValidSystemType reports whether s is a known discipline.
func ValidSystemType(s SystemType) bool {
	switch s {
	case SystemAyurveda, SystemSiddha, SystemUnani:
		return true
	}
	return false
}

// Module identifies the ICD-11 chapter family a target code belongs to.
type Module string

const (
	ModuleTM2         Module = "tm2"
	ModuleBiomedicine Module = "biomedicine"
)

// ValidModule reports whether m is a known ICD-11 module.
func ValidModule(m Module) bool {
	return m == ModuleTM2 || m == ModuleBiomedicine
}

// NamasteCode is an entry in the NAMASTE traditional-medicine vocabulary.
type NamasteCode struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Code       string     `db:"code" json:"code"`
	Display    string     `db:"display" json:"display"`
	Definition string     `db:"definition" json:"definition,omitempty"`
	SystemType SystemType `db:"system_type" json:"system_type"`
	Status     Status     `db:"status" json:"status"`
	ParentCode *string    `db:"parent_code" json:"parent_code,omitempty"`
	Level      int        `db:"level" json:"level"`
	Synonyms   []string   `db:"synonyms" json:"synonyms,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// Validate checks the fields a create or update must supply.
func (n *NamasteCode) Validate() error {
	if n.Code == "" {
		return apperror.Invalid("code", "is required")
	}
	if n.Display == "" {
		return apperror.Invalid("display", "is required")
	}
	if !ValidSystemType(n.SystemType) {
		return apperror.Invalid("system_type", "unsupported value %q", n.SystemType)
	}
	if n.Status != "" && n.Status != StatusActive && n.Status != StatusInactive {
		return apperror.Invalid("status", "unsupported value %q", n.Status)
	}
	if n.Level < 0 {
		return apperror.Invalid("level", "must not be negative")
	}
	if n.ParentCode != nil && *n.ParentCode == n.Code {
		return apperror.Invalid("parent_code", "a code cannot be its own parent")
	}
	return nil
}

// ToFHIRConcept renders the code as a CodeSystem.concept entry.
func (n *NamasteCode) ToFHIRConcept() map[string]interface{} {
	concept := map[string]interface{}{
		"code":    n.Code,
		"display": n.Display,
	}
	if n.Definition != "" {
		concept["definition"] = n.Definition
	}
	var props []map[string]interface{}
	props = append(props, map[string]interface{}{
		"code":      "system-type",
		"valueCode": string(n.SystemType),
	})
	if n.ParentCode != nil {
		props = append(props, map[string]interface{}{
			"code":      "parent",
			"valueCode": *n.ParentCode,
		})
	}
	concept["property"] = props
	return concept
}

// ICD11Code is an entry in the ICD-11 vocabulary subset held locally.
// EntityID is the WHO foundation identifier and the primary lookup key;
// ICDCode is the human-facing classification code ("TM26.0") accepted as a
// secondary alias.
type ICD11Code struct {
	ID         uuid.UUID `db:"id" json:"id"`
	EntityID   string    `db:"entity_id" json:"entity_id"`
	ICDCode    string    `db:"icd_code" json:"icd_code,omitempty"`
	Title      string    `db:"title" json:"title"`
	Definition string    `db:"definition" json:"definition,omitempty"`
	Module     Module    `db:"module" json:"module"`
	Status     Status    `db:"status" json:"status"`
	ParentID   *string   `db:"parent_id" json:"parent_id,omitempty"`
	Level      int       `db:"level" json:"level"`
	Synonyms   []string  `db:"synonyms" json:"synonyms,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Validate checks the fields a create or update must supply.
func (c *ICD11Code) Validate() error {
	if c.EntityID == "" {
		return apperror.Invalid("entity_id", "is required")
	}
	if c.Title == "" {
		return apperror.Invalid("title", "is required")
	}
	if !ValidModule(c.Module) {
		return apperror.Invalid("module", "unsupported value %q", c.Module)
	}
	if c.Status != "" && c.Status != StatusActive && c.Status != StatusInactive {
		return apperror.Invalid("status", "unsupported value %q", c.Status)
	}
	if c.Level < 0 {
		return apperror.Invalid("level", "must not be negative")
	}
	if c.ParentID != nil && *c.ParentID == c.EntityID {
		return apperror.Invalid("parent_id", "an entity cannot be its own parent")
	}
	return nil
}

// ToFHIRConcept renders the code as a CodeSystem.concept entry.
func (c *ICD11Code) ToFHIRConcept() map[string]interface{} {
	concept := map[string]interface{}{
		"code":    c.EntityID,
		"display": c.Title,
	}
	if c.Definition != "" {
		concept["definition"] = c.Definition
	}
	props := []map[string]interface{}{
		{"code": "module", "valueCode": string(c.Module)},
	}
	if c.ICDCode != "" {
		props = append(props, map[string]interface{}{
			"code":      "icd-code",
			"valueCode": c.ICDCode,
		})
	}
	if c.ParentID != nil {
		props = append(props, map[string]interface{}{
			"code":      "parent",
			"valueCode": *c.ParentID,
		})
	}
	concept["property"] = props
	return concept
}

// CodeSystem builds a FHIR CodeSystem resource from a list of concepts.
func CodeSystem(id, url, name string, concepts []map[string]interface{}) map[string]interface{} {
	if concepts == nil {
		concepts = []map[string]interface{}{}
	}
	return map[string]interface{}{
		"resourceType": "CodeSystem",
		"id":           id,
		"url":          url,
		"name":         name,
		"status":       "active",
		"content":      "complete",
		"count":        len(concepts),
		"concept":      concepts,
	}
}

// SearchResult is a slim cross-vocabulary search hit.
type SearchResult struct {
	Code    string `json:"code"`
	Display string `json:"display"`
	System  string `json:"system"`
}

func namasteSearchResult(n *NamasteCode) SearchResult {
	return SearchResult{Code: n.Code, Display: n.Display, System: fhir.SystemNAMASTE}
}

func icd11SearchResult(c *ICD11Code) SearchResult {
	return SearchResult{Code: c.EntityID, Display: c.Title, System: fhir.SystemICD11}
}
