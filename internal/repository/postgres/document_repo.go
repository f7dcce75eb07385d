package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/fitsync/internal/errs"
	"github.com/and161185/fitsync/internal/model"
	"github.com/and161185/fitsync/internal/repository"
)

// DocumentRepo implements DocumentRepository over a jsonb table.
type DocumentRepo struct{ db *DB }

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

// NewDocumentRepo constructs a document repository.
func NewDocumentRepo(db *DB) *DocumentRepo { return &DocumentRepo{db: db} }

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sqlOps maps filter operators to jsonb comparison operators.
var sqlOps = map[string]string{
	model.OpEq:  "=",
	model.OpNe:  "<>",
	model.OpLt:  "<",
	model.OpLte: "<=",
	model.OpGt:  ">",
	model.OpGte: ">=",
}

// Get selects one document.
func (r *DocumentRepo) Get(ctx context.Context, path string) (model.Snapshot, error) {
	const q = `SELECT path, doc_id, data, created_at, updated_at FROM documents WHERE path=$1`
	snap, err := scanDocument(r.db.Pool.QueryRow(ctx, q, path))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Snapshot{}, errs.ErrNotFound
	}
	return snap, err
}

// Set upserts a document. Merge writes combine top-level keys with jsonb ||.
func (r *DocumentRepo) Set(ctx context.Context, w repository.DocumentWrite) (model.Snapshot, error) {
	const replace = `
INSERT INTO documents (path, owner, collection, doc_id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, now(), now())
ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
RETURNING path, doc_id, data, created_at, updated_at`
	const merge = `
INSERT INTO documents (path, owner, collection, doc_id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, now(), now())
ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()
RETURNING path, doc_id, data, created_at, updated_at`

	raw, err := json.Marshal(w.Data)
	if err != nil {
		return model.Snapshot{}, errs.Validation("data", err.Error())
	}
	if w.Data == nil {
		raw = []byte("{}")
	}
	q := replace
	if w.Merge {
		q = merge
	}
	return scanDocument(r.db.Pool.QueryRow(ctx, q, w.Path, w.Owner, w.Collection, w.ID, raw))
}

// Delete removes a document.
func (r *DocumentRepo) Delete(ctx context.Context, path string) (bool, error) {
	const q = `DELETE FROM documents WHERE path=$1`
	tag, err := r.db.Pool.Exec(ctx, q, path)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Query lists documents of a collection. Filters compare jsonb values of the same type.
func (r *DocumentRepo) Query(ctx context.Context, dq repository.DocumentQuery) ([]model.Snapshot, error) {
	sb := psql.Select("path", "doc_id", "data", "created_at", "updated_at").
		From("documents").
		Where(sq.Expr("owner = ?", dq.Owner)).
		Where(sq.Eq{"collection": dq.Collection})

	for _, f := range dq.Filters {
		op, ok := sqlOps[f.Op]
		if !ok {
			return nil, errs.Validation("filter", "unsupported operator "+f.Op)
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, errs.Validation("filter", err.Error())
		}
		if f.Op == model.OpNe {
			sb = sb.Where(sq.Expr("data->? <> ?::jsonb", f.Field, string(val)))
			continue
		}
		sb = sb.Where(sq.Expr("jsonb_typeof(data->?) = jsonb_typeof(?::jsonb) AND data->? "+op+" ?::jsonb",
			f.Field, string(val), f.Field, string(val)))
	}

	if dq.Order.Field == "" {
		sb = sb.OrderBy("doc_id")
	} else {
		dir := "ASC"
		if dq.Order.Desc {
			dir = "DESC"
		}
		sb = sb.OrderByClause("data->? "+dir+" NULLS LAST", dq.Order.Field).OrderBy("doc_id")
	}

	q, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]model.Snapshot, 0)
	for rows.Next() {
		snap, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func scanDocument(row pgx.Row) (model.Snapshot, error) {
	var (
		snap    model.Snapshot
		raw     []byte
		created time.Time
		updated time.Time
	)
	if err := row.Scan(&snap.Path, &snap.ID, &raw, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snapshot{}, err
		}
		return model.Snapshot{}, fmt.Errorf("scan document: %w", err)
	}
	if err := json.Unmarshal(raw, &snap.Data); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode document %s: %w", snap.Path, err)
	}
	snap.Exists = true
	snap.CreatedAt = created.UTC()
	snap.UpdatedAt = updated.UTC()
	return snap, nil
}
