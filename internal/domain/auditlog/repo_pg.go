package auditlog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/termmap/termmap/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Insert(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_events (id, actor, action, resource_type, resource_id, before_state, after_state, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7, NULLIF($8,''))`,
		e.ID, e.Actor, e.Action, e.ResourceType, e.ResourceID, e.Before, e.After, e.IPAddress)
	if err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

func (r *repoPG) Search(ctx context.Context, filter SearchFilter, limit, offset int) ([]*Event, int, error) {
	if limit <= 0 {
		limit = 20
	}
	where := `TRUE`
	var args []interface{}
	add := func(clause string, value interface{}) {
		args = append(args, value)
		where += fmt.Sprintf(` AND `+clause, len(args))
	}
	if filter.Actor != "" {
		add(`actor = $%d`, filter.Actor)
	}
	if filter.Action != "" {
		add(`action = $%d`, filter.Action)
	}
	if filter.ResourceType != "" {
		add(`resource_type = $%d`, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		add(`resource_id = $%d`, filter.ResourceID)
	}
	if filter.Since != nil {
		add(`recorded_at >= $%d`, *filter.Since)
	}
	if filter.Until != nil {
		add(`recorded_at <= $%d`, *filter.Until)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit search count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, actor, action, resource_type, resource_id, before_state, after_state,
			COALESCE(ip_address,''), recorded_at
		FROM audit_events WHERE `+where+
		fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit search: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Before, &e.After, &e.IPAddress, &e.RecordedAt); err != nil {
			return nil, 0, err
		}
		events = append(events, &e)
	}
	return events, total, rows.Err()
}
