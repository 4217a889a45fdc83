package fhir

import "github.com/termmap/termmap/internal/platform/apperror"

// Canonical system URIs for the two vocabularies served by this API.
const (
	SystemNAMASTE = "https://terminology.ayush.gov.in/fhir/CodeSystem/namaste"
	SystemICD11   = "http://id.who.int/icd/release/11/mms"
)

// SystemKind is a closed enumeration of the code system families this server
// knows how to resolve.
type SystemKind int

const (
	KindUnknown SystemKind = iota
	KindNAMASTE
	KindICD11
)

func (k SystemKind) String() string {
	switch k {
	case KindNAMASTE:
		return "namaste"
	case KindICD11:
		return "icd11"
	}
	return "unknown"
}

// ResolveSystem maps a system URI to its kind by exact match. Resolution
// happens once at the API boundary; everything past it dispatches on the
// returned kind, never on the URI text.
func ResolveSystem(uri string) (SystemKind, error) {
	switch uri {
	case SystemNAMASTE:
		return KindNAMASTE, nil
	case SystemICD11:
		return KindICD11, nil
	}
	return KindUnknown, apperror.Invalid("system", "unsupported code system %q", uri)
}

// SystemURI returns the canonical URI for a kind.
func SystemURI(k SystemKind) string {
	switch k {
	case KindNAMASTE:
		return SystemNAMASTE
	case KindICD11:
		return SystemICD11
	}
	return ""
}
