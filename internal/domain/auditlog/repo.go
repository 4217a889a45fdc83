package auditlog

import "context"

// Repository persists and queries audit events.
type Repository interface {
	Insert(ctx context.Context, e *Event) error
	Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Event, int, error)
}
