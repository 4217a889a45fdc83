package terminology

import "context"

// NamasteRepository provides access to the NAMASTE vocabulary.
type NamasteRepository interface {
	Create(ctx context.Context, code *NamasteCode) error
	Update(ctx context.Context, code *NamasteCode) error
	GetActiveByCode(ctx context.Context, code string) (*NamasteCode, error)
	Search(ctx context.Context, query string, systemType SystemType, limit, offset int) ([]*NamasteCode, int, error)
	ListActive(ctx context.Context, systemType SystemType) ([]*NamasteCode, error)
	ListChildren(ctx context.Context, parentCode string) ([]*NamasteCode, error)
}

// ICD11Repository provides access to the local ICD-11 vocabulary subset.
type ICD11Repository interface {
	Create(ctx context.Context, code *ICD11Code) error
	Update(ctx context.Context, code *ICD11Code) error
	// GetActiveByEntityID resolves by the WHO foundation identifier only.
	GetActiveByEntityID(ctx context.Context, entityID string) (*ICD11Code, error)
	// GetActiveByAnyCode resolves by entity ID or by the ICD classification
	// code alias, whichever matches first.
	GetActiveByAnyCode(ctx context.Context, code string) (*ICD11Code, error)
	Search(ctx context.Context, query string, module Module, limit, offset int) ([]*ICD11Code, int, error)
	ListActive(ctx context.Context, module Module) ([]*ICD11Code, error)
	ListChildren(ctx context.Context, parentID string) ([]*ICD11Code, error)
	// SearchByTerms returns active codes whose title or synonyms contain any
	// of the given terms, optionally restricted to a module. Results are
	// ordered by title and truncated at limit, so the match set is a sample,
	// not exhaustive, once a vocabulary outgrows the limit.
	SearchByTerms(ctx context.Context, terms []string, module Module, limit int) ([]*ICD11Code, error)
}
