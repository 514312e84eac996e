package listsvc

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/ruleflow/engine/pkg/value"
)

// RelationalService is the relational backend from spec.md §4.8: a
// `list_entries(list_id, value, created_at, expires_at?)` table, grounded
// on the same modernc.org/sqlite idiom as internal/repository's relational
// backend. An entry with a non-null, past expires_at is treated as absent —
// the expiry check happens in SQL so it never drifts from what Contains and
// GetAll each see.
type RelationalService struct {
	db *sql.DB
}

// OpenRelationalService opens (creating if absent) a sqlite database at dsn
// and ensures the list_entries table exists.
func OpenRelationalService(ctx context.Context, dsn string) (*RelationalService, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &RelationalService{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RelationalService) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS list_entries (
	list_id TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME,
	PRIMARY KEY (list_id, value)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *RelationalService) Contains(ctx context.Context, listID string, v value.Value) (bool, bool) {
	sv, ok := v.AsString()
	if !ok {
		sv = value.ToDisplayString(v)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM list_entries WHERE list_id = ? AND value = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)`,
		listID, sv)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, false
	}
	if count > 0 {
		return true, true
	}
	return false, s.configured(ctx, listID)
}

func (s *RelationalService) configured(ctx context.Context, listID string) bool {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM list_entries WHERE list_id = ?`, listID)
	var count int
	if err := row.Scan(&count); err != nil {
		return false
	}
	return count > 0
}

func (s *RelationalService) GetAll(listID string) ([]value.Value, bool) {
	rows, err := s.db.Query(
		`SELECT value FROM list_entries WHERE list_id = ? AND (expires_at IS NULL OR expires_at > CURRENT_TIMESTAMP)`,
		listID)
	if err != nil {
		return nil, false
	}
	defer rows.Close()
	var out []value.Value
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, false
		}
		out = append(out, value.String(v))
	}
	if rows.Err() != nil {
		return nil, false
	}
	return out, len(out) > 0 || s.configured(context.Background(), listID)
}

func (s *RelationalService) Add(ctx context.Context, listID string, v value.Value) error {
	sv, ok := v.AsString()
	if !ok {
		sv = value.ToDisplayString(v)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO list_entries (list_id, value) VALUES (?, ?)`, listID, sv)
	return err
}

func (s *RelationalService) Remove(ctx context.Context, listID string, v value.Value) error {
	sv, ok := v.AsString()
	if !ok {
		sv = value.ToDisplayString(v)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM list_entries WHERE list_id = ? AND value = ?`, listID, sv)
	return err
}

// Close releases the underlying database handle.
func (s *RelationalService) Close() error { return s.db.Close() }
