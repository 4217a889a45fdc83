package mapping

import (
	"context"

	"github.com/google/uuid"

	"github.com/termmap/termmap/internal/domain/terminology"
)

// Repository provides access to persisted code mappings.
type Repository interface {
	Create(ctx context.Context, m *Mapping) error
	Update(ctx context.Context, m *Mapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	// GetActiveByPair returns the active mapping for the exact pair, or a
	// not-found error.
	GetActiveByPair(ctx context.Context, sourceCode, targetEntityID string) (*Mapping, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Mapping, int, error)
	ListActiveBySource(ctx context.Context, sourceCode string) ([]*Mapping, error)
	ListActiveByTarget(ctx context.Context, targetEntityID string) ([]*Mapping, error)
	ListAllActive(ctx context.Context) ([]*Mapping, error)
}

// SourceLookup is the slice of the NAMASTE vocabulary the mapping engine
// needs. terminology.NamasteRepository satisfies it.
type SourceLookup interface {
	GetActiveByCode(ctx context.Context, code string) (*terminology.NamasteCode, error)
	ListActive(ctx context.Context, systemType terminology.SystemType) ([]*terminology.NamasteCode, error)
}

// TargetLookup is the slice of the ICD-11 vocabulary the mapping engine
// needs. terminology.ICD11Repository satisfies it.
type TargetLookup interface {
	GetActiveByEntityID(ctx context.Context, entityID string) (*terminology.ICD11Code, error)
	GetActiveByAnyCode(ctx context.Context, code string) (*terminology.ICD11Code, error)
	ListActive(ctx context.Context, module terminology.Module) ([]*terminology.ICD11Code, error)
	SearchByTerms(ctx context.Context, terms []string, module terminology.Module, limit int) ([]*terminology.ICD11Code, error)
}

// AuditRecorder receives change events from mapping mutations. Recording is
// fire-and-forget: implementations must never fail the primary operation.
type AuditRecorder interface {
	Record(ctx context.Context, actor, action, resourceType, resourceID string, before, after interface{})
}

// TxRunner executes fn with a database transaction carried on the context, so
// every repository call inside fn commits or rolls back as one unit.
// db.Txer satisfies it.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
