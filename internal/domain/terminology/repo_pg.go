package terminology

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// =========== NAMASTE Repository ===========

type namasteRepoPG struct{ pool *pgxpool.Pool }

func NewNamasteRepoPG(pool *pgxpool.Pool) NamasteRepository { return &namasteRepoPG{pool: pool} }

func (r *namasteRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const namasteCols = `id, code, display, COALESCE(definition,''), system_type, status,
	parent_code, level, synonyms, created_at, updated_at`

func scanNamaste(row pgx.Row) (*NamasteCode, error) {
	var n NamasteCode
	err := row.Scan(&n.ID, &n.Code, &n.Display, &n.Definition, &n.SystemType, &n.Status,
		&n.ParentCode, &n.Level, &n.Synonyms, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func (r *namasteRepoPG) Create(ctx context.Context, n *NamasteCode) error {
	n.ID = uuid.New()
	if n.Status == "" {
		n.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO namaste_codes (id, code, display, definition, system_type, status, parent_code, level, synonyms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		n.ID, n.Code, n.Display, n.Definition, n.SystemType, n.Status, n.ParentCode, n.Level, n.Synonyms)
	if err != nil {
		return fmt.Errorf("namaste create: %w", err)
	}
	return nil
}

func (r *namasteRepoPG) Update(ctx context.Context, n *NamasteCode) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE namaste_codes SET display=$2, definition=$3, system_type=$4, status=$5,
			parent_code=$6, level=$7, synonyms=$8, updated_at=NOW()
		WHERE id = $1`,
		n.ID, n.Display, n.Definition, n.SystemType, n.Status, n.ParentCode, n.Level, n.Synonyms)
	if err != nil {
		return fmt.Errorf("namaste update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("NAMASTE code", n.Code)
	}
	return nil
}

func (r *namasteRepoPG) GetActiveByCode(ctx context.Context, code string) (*NamasteCode, error) {
	n, err := scanNamaste(r.conn(ctx).QueryRow(ctx,
		`SELECT `+namasteCols+` FROM namaste_codes WHERE code = $1 AND status = 'active'`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("NAMASTE code", code)
	}
	if err != nil {
		return nil, fmt.Errorf("namaste get: %w", err)
	}
	return n, nil
}

func (r *namasteRepoPG) Search(ctx context.Context, query string, systemType SystemType, limit, offset int) ([]*NamasteCode, int, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"

	where := `status = 'active' AND (code ILIKE $1 OR display ILIKE $1
		OR EXISTS (SELECT 1 FROM unnest(synonyms) s WHERE s ILIKE $1))`
	args := []interface{}{pattern}
	if systemType != "" {
		where += fmt.Sprintf(" AND system_type = $%d", len(args)+1)
		args = append(args, systemType)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM namaste_codes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("namaste search count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+namasteCols+` FROM namaste_codes WHERE `+where+
			fmt.Sprintf(` ORDER BY display LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("namaste search: %w", err)
	}
	defer rows.Close()

	var results []*NamasteCode
	for rows.Next() {
		n, err := scanNamaste(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, n)
	}
	return results, total, rows.Err()
}

func (r *namasteRepoPG) ListActive(ctx context.Context, systemType SystemType) ([]*NamasteCode, error) {
	query := `SELECT ` + namasteCols + ` FROM namaste_codes WHERE status = 'active'`
	var args []interface{}
	if systemType != "" {
		query += ` AND system_type = $1`
		args = append(args, systemType)
	}
	query += ` ORDER BY code`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("namaste list: %w", err)
	}
	defer rows.Close()

	var results []*NamasteCode
	for rows.Next() {
		n, err := scanNamaste(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

func (r *namasteRepoPG) ListChildren(ctx context.Context, parentCode string) ([]*NamasteCode, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+namasteCols+` FROM namaste_codes WHERE parent_code = $1 AND status = 'active' ORDER BY code`,
		parentCode)
	if err != nil {
		return nil, fmt.Errorf("namaste children: %w", err)
	}
	defer rows.Close()

	var results []*NamasteCode
	for rows.Next() {
		n, err := scanNamaste(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, n)
	}
	return results, rows.Err()
}

// =========== ICD-11 Repository ===========

type icd11RepoPG struct{ pool *pgxpool.Pool }

func NewICD11RepoPG(pool *pgxpool.Pool) ICD11Repository { return &icd11RepoPG{pool: pool} }

func (r *icd11RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const icd11Cols = `id, entity_id, COALESCE(icd_code,''), title, COALESCE(definition,''),
	module, status, parent_id, level, synonyms, created_at, updated_at`

func scanICD11(row pgx.Row) (*ICD11Code, error) {
	var c ICD11Code
	err := row.Scan(&c.ID, &c.EntityID, &c.ICDCode, &c.Title, &c.Definition,
		&c.Module, &c.Status, &c.ParentID, &c.Level, &c.Synonyms, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *icd11RepoPG) Create(ctx context.Context, c *ICD11Code) error {
	c.ID = uuid.New()
	if c.Status == "" {
		c.Status = StatusActive
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO icd11_codes (id, entity_id, icd_code, title, definition, module, status, parent_id, level, synonyms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.EntityID, c.ICDCode, c.Title, c.Definition, c.Module, c.Status, c.ParentID, c.Level, c.Synonyms)
	if err != nil {
		return fmt.Errorf("icd11 create: %w", err)
	}
	return nil
}

func (r *icd11RepoPG) Update(ctx context.Context, c *ICD11Code) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE icd11_codes SET icd_code=$2, title=$3, definition=$4, module=$5, status=$6,
			parent_id=$7, level=$8, synonyms=$9, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.ICDCode, c.Title, c.Definition, c.Module, c.Status, c.ParentID, c.Level, c.Synonyms)
	if err != nil {
		return fmt.Errorf("icd11 update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("ICD-11 code", c.EntityID)
	}
	return nil
}

func (r *icd11RepoPG) GetActiveByEntityID(ctx context.Context, entityID string) (*ICD11Code, error) {
	c, err := scanICD11(r.conn(ctx).QueryRow(ctx,
		`SELECT `+icd11Cols+` FROM icd11_codes WHERE entity_id = $1 AND status = 'active'`, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("ICD-11 code", entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("icd11 get: %w", err)
	}
	return c, nil
}

func (r *icd11RepoPG) GetActiveByAnyCode(ctx context.Context, code string) (*ICD11Code, error) {
	c, err := scanICD11(r.conn(ctx).QueryRow(ctx,
		`SELECT `+icd11Cols+` FROM icd11_codes
		 WHERE (entity_id = $1 OR icd_code = $1) AND status = 'active'
		 ORDER BY (entity_id = $1) DESC LIMIT 1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("ICD-11 code", code)
	}
	if err != nil {
		return nil, fmt.Errorf("icd11 get: %w", err)
	}
	return c, nil
}

func (r *icd11RepoPG) Search(ctx context.Context, query string, module Module, limit, offset int) ([]*ICD11Code, int, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"

	where := `status = 'active' AND (entity_id ILIKE $1 OR icd_code ILIKE $1 OR title ILIKE $1
		OR EXISTS (SELECT 1 FROM unnest(synonyms) s WHERE s ILIKE $1))`
	args := []interface{}{pattern}
	if module != "" {
		where += fmt.Sprintf(" AND module = $%d", len(args)+1)
		args = append(args, module)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM icd11_codes WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("icd11 search count: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+icd11Cols+` FROM icd11_codes WHERE `+where+
			fmt.Sprintf(` ORDER BY title LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("icd11 search: %w", err)
	}
	defer rows.Close()

	var results []*ICD11Code
	for rows.Next() {
		c, err := scanICD11(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, c)
	}
	return results, total, rows.Err()
}

func (r *icd11RepoPG) ListActive(ctx context.Context, module Module) ([]*ICD11Code, error) {
	query := `SELECT ` + icd11Cols + ` FROM icd11_codes WHERE status = 'active'`
	var args []interface{}
	if module != "" {
		query += ` AND module = $1`
		args = append(args, module)
	}
	query += ` ORDER BY entity_id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("icd11 list: %w", err)
	}
	defer rows.Close()

	var results []*ICD11Code
	for rows.Next() {
		c, err := scanICD11(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (r *icd11RepoPG) ListChildren(ctx context.Context, parentID string) ([]*ICD11Code, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+icd11Cols+` FROM icd11_codes WHERE parent_id = $1 AND status = 'active' ORDER BY entity_id`,
		parentID)
	if err != nil {
		return nil, fmt.Errorf("icd11 children: %w", err)
	}
	defer rows.Close()

	var results []*ICD11Code
	for rows.Next() {
		c, err := scanICD11(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func (r *icd11RepoPG) SearchByTerms(ctx context.Context, terms []string, module Module, limit int) ([]*ICD11Code, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		args = append(args, "%"+term+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			`(title ILIKE $%d OR EXISTS (SELECT 1 FROM unnest(synonyms) s WHERE s ILIKE $%d))`, n, n))
	}
	where := `status = 'active' AND (` + strings.Join(clauses, " OR ") + `)`
	if module != "" {
		args = append(args, module)
		where += fmt.Sprintf(` AND module = $%d`, len(args))
	}
	args = append(args, limit)

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+icd11Cols+` FROM icd11_codes WHERE `+where+
			fmt.Sprintf(` ORDER BY title LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("icd11 term search: %w", err)
	}
	defer rows.Close()

	var results []*ICD11Code
	for rows.Next() {
		c, err := scanICD11(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}
