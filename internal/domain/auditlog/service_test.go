package auditlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/termmap/termmap/internal/platform/auth"
)

type mockRepo struct {
	events    []*Event
	insertErr error
}

func (m *mockRepo) Insert(_ context.Context, e *Event) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	e.ID = uuid.New()
	e.RecordedAt = time.Now()
	m.events = append(m.events, e)
	return nil
}

func (m *mockRepo) Search(_ context.Context, filter SearchFilter, limit, offset int) ([]*Event, int, error) {
	var result []*Event
	for _, e := range m.events {
		if filter.Actor != "" && e.Actor != filter.Actor {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		result = append(result, e)
	}
	return result, len(result), nil
}

func TestRecordMarshalsStates(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	after := map[string]string{"source_code": "NAM001"}
	svc.Record(context.Background(), "dr.sharma", "create", "mapping", "abc", nil, after)

	if len(repo.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(repo.events))
	}
	e := repo.events[0]
	if e.Before != nil {
		t.Error("nil before state should stay nil")
	}
	if string(e.After) != `{"source_code":"NAM001"}` {
		t.Errorf("unexpected after state %s", e.After)
	}
}

func TestRecordCapturesClientIP(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())

	ctx := context.WithValue(context.Background(), auth.ClientIPKey, "10.1.2.3")
	svc.Record(ctx, "dr.sharma", "create", "mapping", "abc", nil, nil)
	svc.Record(context.Background(), "importer", "create", "mapping", "def", nil, nil)

	if len(repo.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(repo.events))
	}
	if repo.events[0].IPAddress != "10.1.2.3" {
		t.Errorf("expected client ip from context, got %q", repo.events[0].IPAddress)
	}
	if repo.events[1].IPAddress != "" {
		t.Errorf("expected empty ip without context value, got %q", repo.events[1].IPAddress)
	}
}

func TestRecordSwallowsInsertFailure(t *testing.T) {
	repo := &mockRepo{insertErr: errors.New("connection refused")}
	svc := NewService(repo, zerolog.Nop())

	// Must not panic or propagate the error.
	svc.Record(context.Background(), "dr.sharma", "create", "mapping", "abc", nil, nil)
}

func TestSearchFilters(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, zerolog.Nop())
	svc.Record(context.Background(), "dr.sharma", "create", "mapping", "a", nil, nil)
	svc.Record(context.Background(), "importer", "create", "mapping", "b", nil, nil)

	events, total, err := svc.Search(context.Background(), SearchFilter{Actor: "importer"}, 20, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if total != 1 || len(events) != 1 || events[0].ResourceID != "b" {
		t.Errorf("unexpected search result %v (total %d)", events, total)
	}
}
