package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository reads audit_logs from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Window returns up to limit rows matching filters, newest first.
func (r *PGRepository) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	where, args := filterClause(filters)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT id, occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs %s
ORDER BY occurred_at DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	return r.query(ctx, query, args...)
}

// All returns every row matching filters, capped at limit.
func (r *PGRepository) All(ctx context.Context, filters TimelineFilters, limit int) ([]TimelineRow, error) {
	where, args := filterClause(filters)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT id, occurred_at, COALESCE(actor_id, 0), action, entity, entity_id, meta
FROM audit_logs %s
ORDER BY occurred_at DESC, id DESC
LIMIT $%d`, where, len(args))
	return r.query(ctx, query, args...)
}

func (r *PGRepository) query(ctx context.Context, query string, args ...any) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		var meta []byte
		if err := row.Scan(&out.ID, &out.At, &out.ActorID, &out.Action, &out.Entity, &out.EntityID, &meta); err != nil {
			return TimelineRow{}, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &out.Meta); err != nil {
				return TimelineRow{}, err
			}
		}
		return out, nil
	})
}

func filterClause(f TimelineFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Entity != "" {
		add("entity = $%d", f.Entity)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
