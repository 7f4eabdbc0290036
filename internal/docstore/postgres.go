package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	changesChannel = "docstore_changes"

	schema = `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (collection, id)
		);
		CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (collection, created_at, id);
		CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING GIN (data jsonb_path_ops);
	`
)

// Postgres stores documents as JSONB rows. Every commit runs in one
// transaction and announces touched collections through NOTIFY, which
// Watch listens to on a dedicated connection.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool}
}

// Migrate creates the documents table if needed
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	query := `
		SELECT data, created_at, updated_at
		FROM documents
		WHERE collection = $1 AND id = $2
	`

	doc := &Document{Collection: collection, ID: id}
	var raw []byte
	err := s.pool.QueryRow(ctx, query, collection, id).Scan(&raw, &doc.CreateTime, &doc.UpdateTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("failed to decode document %s/%s: %w", collection, id, err)
	}

	return doc, nil
}

func (s *Postgres) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	query, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		doc := &Document{Collection: q.Collection}
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.CreateTime, &doc.UpdateTime); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to decode document %s/%s: %w", q.Collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return docs, nil
}

func (s *Postgres) Commit(ctx context.Context, writes []Write) error {
	if err := validateWrites(writes); err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var now time.Time
		if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
			return fmt.Errorf("failed to read server time: %w", err)
		}

		touched := make(map[string]struct{})
		for _, w := range writes {
			if err := applyWrite(ctx, tx, w, now); err != nil {
				return err
			}
			touched[w.Collection] = struct{}{}
		}

		for coll := range touched {
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, coll); err != nil {
				return fmt.Errorf("failed to notify change: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return err
	}

	return nil
}

func applyWrite(ctx context.Context, tx pgx.Tx, w Write, now time.Time) error {
	switch w.Kind {
	case WriteCreate, WriteSet:
		data := map[string]any{}
		if err := applyFields(data, w.Fields, now); err != nil {
			return err
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}

		query := `
			INSERT INTO documents (collection, id, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (collection, id) DO NOTHING
		`
		if w.Kind == WriteSet {
			query = `
				INSERT INTO documents (collection, id, data, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $4)
				ON CONFLICT (collection, id) DO UPDATE
				SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at
			`
		}
		result, err := tx.Exec(ctx, query, w.Collection, w.ID, raw, now)
		if err != nil {
			return fmt.Errorf("failed to %s %s/%s: %w", w.Kind, w.Collection, w.ID, err)
		}
		if w.Kind == WriteCreate && result.RowsAffected() == 0 {
			return fmt.Errorf("create %s/%s: %w", w.Collection, w.ID, ErrAlreadyExists)
		}

	case WriteUpdate:
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			w.Collection, w.ID,
		).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("update %s/%s: %w", w.Collection, w.ID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock %s/%s: %w", w.Collection, w.ID, err)
		}

		data := map[string]any{}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("failed to decode %s/%s: %w", w.Collection, w.ID, err)
		}
		if err := applyFields(data, w.Fields, now); err != nil {
			return err
		}
		if raw, err = json.Marshal(data); err != nil {
			return fmt.Errorf("failed to encode document: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE documents SET data = $3, updated_at = $4 WHERE collection = $1 AND id = $2`,
			w.Collection, w.ID, raw, now,
		)
		if err != nil {
			return fmt.Errorf("failed to update %s/%s: %w", w.Collection, w.ID, err)
		}

	case WriteDelete:
		_, err := tx.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, w.Collection, w.ID)
		if err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", w.Collection, w.ID, err)
		}
	}

	return nil
}

// Watch holds a pooled connection in LISTEN mode for the lifetime of ctx
func (s *Postgres) Watch(ctx context.Context, q Query) (<-chan Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for changes: %w", err)
	}

	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if _, err := conn.Exec(cleanupCtx, "UNLISTEN *"); err != nil {
				conn.Conn().Close(cleanupCtx)
			}
			conn.Release()
		}()

		push := func() bool {
			docs, err := s.Query(ctx, q)
			if ctx.Err() != nil {
				return false
			}
			select {
			case out <- Snapshot{Docs: docs, Err: err}:
			case <-ctx.Done():
				return false
			}
			return err == nil
		}

		if !push() {
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					select {
					case out <- Snapshot{Err: fmt.Errorf("change feed interrupted: %w", err)}:
					case <-ctx.Done():
					}
				}
				return
			}
			if n.Payload != q.Collection {
				continue
			}
			if !push() {
				return
			}
		}
	}()

	return out, nil
}

// buildSelect translates a Query into SQL over the documents table
func buildSelect(q Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{q.Collection}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1`)

	for _, f := range q.Filters {
		expr, err := filterSQL(f, arg)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(expr)
	}

	orderExpr, err := fieldSQL(q.orderField(), arg)
	if err != nil {
		return "", nil, err
	}

	if q.StartAfter != nil {
		value, err := cursorArg(q.orderField(), q.StartAfter.Value)
		if err != nil {
			return "", nil, err
		}
		cmp := ">"
		if q.Desc {
			cmp = "<"
		}
		fmt.Fprintf(&sb, " AND (%s, id) %s (%s, %s)", orderExpr, cmp, value(arg), arg(q.StartAfter.ID))
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, id %s", orderExpr, dir, dir)

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %s", arg(q.Limit))
	}

	return sb.String(), args, nil
}

func fieldSQL(field string, arg func(any) string) (string, error) {
	switch field {
	case IDField:
		return "id", nil
	case CreateTimeField:
		return "created_at", nil
	case UpdateTimeField:
		return "updated_at", nil
	}
	return "(data -> " + arg(field) + "::text)", nil
}

// cursorArg returns a placeholder factory for a cursor or filter value
// matching the SQL type of the field expression.
func cursorArg(field string, v any) (func(func(any) string) string, error) {
	switch field {
	case IDField:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: id cursor must be a string", ErrInvalidCursor)
		}
		return func(arg func(any) string) string { return arg(s) }, nil
	case CreateTimeField, UpdateTimeField:
		t, err := normalizeFilterValue(field, v)
		if err != nil {
			return nil, err
		}
		return func(arg func(any) string) string { return arg(t) + "::timestamptz" }, nil
	}
	nv, err := normalize(v)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(nv)
	if err != nil {
		return nil, err
	}
	return func(arg func(any) string) string { return arg(string(raw)) + "::jsonb" }, nil
}

func filterSQL(f Filter, arg func(any) string) (string, error) {
	expr, err := fieldSQL(f.Field, arg)
	if err != nil {
		return "", err
	}

	if f.Op == OpArrayContains {
		nv, err := normalize(f.Value)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal([]any{nv})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s @> %s::jsonb", expr, arg(string(raw))), nil
	}

	value, err := cursorArg(f.Field, f.Value)
	if err != nil {
		return "", err
	}
	op := string(f.Op)
	switch f.Op {
	case OpEq:
		op = "="
	case OpNe:
		op = "<>"
	}
	return fmt.Sprintf("%s %s %s", expr, op, value(arg)), nil
}
