package auditlog

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/platform/auth"
)

// Service records and queries audit events. It satisfies the AuditRecorder
// interface the mapping engine depends on.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "auditlog").Logger()}
}

// Record persists one change event. Failures are logged and dropped so a
// broken audit trail can never fail the operation being audited.
func (s *Service) Record(ctx context.Context, actor, action, resourceType, resourceID string, before, after interface{}) {
	e := &Event{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Before:       marshalState(before),
		After:        marshalState(after),
		IPAddress:    auth.ClientIPFromContext(ctx),
	}
	if err := s.repo.Insert(ctx, e); err != nil {
		s.logger.Error().Err(err).
			Str("action", action).
			Str("resource_type", resourceType).
			Str("resource_id", resourceID).
			Msg("failed to record audit event")
	}
}

func marshalState(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Search returns events matching the filter, newest first.
func (s *Service) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Event, int, error) {
	return s.repo.Search(ctx, filter, limit, offset)
}
