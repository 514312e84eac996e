package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ruleflow/engine/internal/ast"
	"github.com/ruleflow/engine/internal/dsl"
	"github.com/ruleflow/engine/internal/rferrors"
)

// RelationalRepository is the sqlite-backed backend from spec.md §4.3: it
// keeps the latest version of every artifact plus a full version history,
// incrementing on every save and always reading the latest. Grounded on
// `modernc.org/sqlite` as adopted from the wider example pack (see
// DESIGN.md) for pure-Go SQL without cgo.
type RelationalRepository struct {
	db *sql.DB
}

// OpenRelationalRepository opens (creating if absent) a sqlite database at
// dsn and ensures the artifact/version tables exist.
func OpenRelationalRepository(ctx context.Context, dsn string) (*RelationalRepository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rferrors.DatabaseError(err)
	}
	r := &RelationalRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *RelationalRepository) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	kind TEXT NOT NULL,
	id TEXT NOT NULL,
	version INTEGER NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (kind, id, version)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_latest ON artifacts(kind, id, version DESC);
`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return rferrors.DatabaseError(err)
	}
	return nil
}

func (r *RelationalRepository) latestBody(ctx context.Context, kind ArtifactKind, id string) (string, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT body FROM artifacts WHERE kind = ? AND id = ? ORDER BY version DESC LIMIT 1`,
		string(kind), id)
	var body string
	if err := row.Scan(&body); err != nil {
		if err == sql.ErrNoRows {
			return "", rferrors.NotFound(fmt.Sprintf("%s/%s", kind, id))
		}
		return "", rferrors.DatabaseError(err)
	}
	return body, nil
}

func (r *RelationalRepository) save(ctx context.Context, kind ArtifactKind, id string, body []byte) (int, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE kind = ? AND id = ?`,
		string(kind), id)
	var current int
	if err := row.Scan(&current); err != nil {
		return 0, rferrors.DatabaseError(err)
	}
	next := current + 1
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO artifacts (kind, id, version, body) VALUES (?, ?, ?, ?)`,
		string(kind), id, next, string(body)); err != nil {
		return 0, rferrors.DatabaseError(err)
	}
	return next, nil
}

func (r *RelationalRepository) LoadRule(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Rule], error) {
	body, err := r.latestBody(ctx, KindRule, idOrPath)
	if err != nil {
		return nil, err
	}
	return dsl.ParseRule([]byte(body))
}

func (r *RelationalRepository) LoadRuleset(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Ruleset], error) {
	body, err := r.latestBody(ctx, KindRuleset, idOrPath)
	if err != nil {
		return nil, err
	}
	return dsl.ParseRuleset([]byte(body))
}

func (r *RelationalRepository) LoadPipeline(ctx context.Context, idOrPath string) (*ast.RdlDocument[*ast.Pipeline], error) {
	body, err := r.latestBody(ctx, KindPipeline, idOrPath)
	if err != nil {
		return nil, err
	}
	return dsl.ParsePipeline([]byte(body))
}

func (r *RelationalRepository) LoadRegistry(ctx context.Context) (*ast.PipelineRegistry, error) {
	body, err := r.latestBody(ctx, KindRegistry, "singleton")
	if err != nil {
		return nil, err
	}
	return dsl.ParseRegistry([]byte(body))
}

func (r *RelationalRepository) ListRules(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, KindRule)
}

func (r *RelationalRepository) ListRulesets(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, KindRuleset)
}

func (r *RelationalRepository) ListPipelines(ctx context.Context) ([]string, error) {
	return r.listIDs(ctx, KindPipeline)
}

func (r *RelationalRepository) listIDs(ctx context.Context, kind ArtifactKind) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT id FROM artifacts WHERE kind = ? ORDER BY id`, string(kind))
	if err != nil {
		return nil, rferrors.DatabaseError(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, rferrors.DatabaseError(err)
		}
		out = append(out, id)
	}
	return out, rferrors.DatabaseError(rows.Err())
}

func (r *RelationalRepository) Exists(ctx context.Context, path string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE id = ?`, path)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, rferrors.DatabaseError(err)
	}
	return count > 0, nil
}

// SaveRule validates source as a rule document, then persists it and bumps
// its version.
func (r *RelationalRepository) SaveRule(ctx context.Context, id string, source []byte) (int, error) {
	if _, err := dsl.ParseRule(source); err != nil {
		return 0, err
	}
	return r.save(ctx, KindRule, id, source)
}

func (r *RelationalRepository) SaveRuleset(ctx context.Context, id string, source []byte) (int, error) {
	if _, err := dsl.ParseRuleset(source); err != nil {
		return 0, err
	}
	return r.save(ctx, KindRuleset, id, source)
}

func (r *RelationalRepository) SavePipeline(ctx context.Context, id string, source []byte) (int, error) {
	if _, err := dsl.ParsePipeline(source); err != nil {
		return 0, err
	}
	return r.save(ctx, KindPipeline, id, source)
}

func (r *RelationalRepository) SaveRegistry(ctx context.Context, source []byte) (int, error) {
	if _, err := dsl.ParseRegistry(source); err != nil {
		return 0, err
	}
	return r.save(ctx, KindRegistry, "singleton", source)
}

func (r *RelationalRepository) Delete(ctx context.Context, kind ArtifactKind, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM artifacts WHERE kind = ? AND id = ?`, string(kind), id); err != nil {
		return rferrors.DatabaseError(err)
	}
	return nil
}

// Close releases the underlying database handle.
func (r *RelationalRepository) Close() error { return r.db.Close() }
