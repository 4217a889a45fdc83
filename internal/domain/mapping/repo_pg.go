package mapping

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/termmap/termmap/internal/platform/apperror"
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

const mappingCols = `id, source_code, target_entity_id, mapping_type, confidence,
	COALESCE(notes,''), verified_by, verified_at, is_active, created_at, updated_at`

func scanMapping(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.SourceCode, &m.TargetEntityID, &m.MappingType, &m.Confidence,
		&m.Notes, &m.VerifiedBy, &m.VerifiedAt, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return &m, err
}

func (r *repoPG) Create(ctx context.Context, m *Mapping) error {
	m.ID = uuid.New()
	m.IsActive = true
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO code_mappings (id, source_code, target_entity_id, mapping_type, confidence, notes, verified_by, verified_at, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.SourceCode, m.TargetEntityID, m.MappingType, m.Confidence, m.Notes,
		m.VerifiedBy, m.VerifiedAt, m.IsActive)
	if err != nil {
		var pgErr *pgconn.PgError
		// The partial unique index closes the duplicate race the service's
		// read-then-write check cannot.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Conflict("active mapping %s -> %s already exists", m.SourceCode, m.TargetEntityID)
		}
		return fmt.Errorf("mapping create: %w", err)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, m *Mapping) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE code_mappings SET mapping_type=$2, confidence=$3, notes=$4,
			verified_by=$5, verified_at=$6, is_active=$7, updated_at=NOW()
		WHERE id = $1`,
		m.ID, m.MappingType, m.Confidence, m.Notes, m.VerifiedBy, m.VerifiedAt, m.IsActive)
	if err != nil {
		return fmt.Errorf("mapping update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("mapping", m.ID.String())
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM code_mappings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("mapping", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("mapping get: %w", err)
	}
	return m, nil
}

func (r *repoPG) GetActiveByPair(ctx context.Context, sourceCode, targetEntityID string) (*Mapping, error) {
	m, err := scanMapping(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mappingCols+` FROM code_mappings
		 WHERE source_code = $1 AND target_entity_id = $2 AND is_active`,
		sourceCode, targetEntityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("mapping", sourceCode+" -> "+targetEntityID)
	}
	if err != nil {
		return nil, fmt.Errorf("mapping get by pair: %w", err)
	}
	return m, nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Mapping, int, error) {
	if limit <= 0 {
		limit = 20
	}
	where := `is_active`
	var args []interface{}
	if filter.SourceCode != "" {
		args = append(args, filter.SourceCode)
		where += fmt.Sprintf(` AND source_code = $%d`, len(args))
	}
	if filter.TargetEntityID != "" {
		args = append(args, filter.TargetEntityID)
		where += fmt.Sprintf(` AND target_entity_id = $%d`, len(args))
	}
	if filter.MappingType != "" {
		args = append(args, filter.MappingType)
		where += fmt.Sprintf(` AND mapping_type = $%d`, len(args))
	}
	if filter.VerifiedOnly {
		where += ` AND verified_by IS NOT NULL`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM code_mappings WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("mapping list count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM code_mappings WHERE `+where+
			fmt.Sprintf(` ORDER BY source_code, confidence DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("mapping list: %w", err)
	}
	defer rows.Close()

	var results []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, m)
	}
	return results, total, rows.Err()
}

func (r *repoPG) ListActiveBySource(ctx context.Context, sourceCode string) ([]*Mapping, error) {
	return r.listWhere(ctx, `source_code = $1 AND is_active`, sourceCode)
}

func (r *repoPG) ListActiveByTarget(ctx context.Context, targetEntityID string) ([]*Mapping, error) {
	return r.listWhere(ctx, `target_entity_id = $1 AND is_active`, targetEntityID)
}

func (r *repoPG) ListAllActive(ctx context.Context) ([]*Mapping, error) {
	return r.listWhere(ctx, `is_active`)
}

func (r *repoPG) listWhere(ctx context.Context, where string, args ...interface{}) ([]*Mapping, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+mappingCols+` FROM code_mappings WHERE `+where+` ORDER BY source_code, confidence DESC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("mapping list: %w", err)
	}
	defer rows.Close()

	var results []*Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
