// Package resultstore implements spec.md §4.14: an optional durable record
// of every decision plus the structured ExecutionTrace a caller can request
// for debugging. Grounded on internal/repository/relational.go's
// modernc.org/sqlite idiom (migrate-on-open, parameterized inserts), reused
// here for the decisions table spec.md §6's persistence schema describes
// alongside the artifact tables repository.RelationalRepository owns.
package resultstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ruleflow/engine/internal/rferrors"
	"github.com/ruleflow/engine/internal/vm"
)

// Record is one persisted decision, the durable counterpart of the response
// §6 describes under "Decision response".
type Record struct {
	RequestID      string
	PipelineID     string
	Signal         string
	ScoreRaw       int
	ScoreCanonical int
	TriggeredRules []string
	Actions        []string
	CreatedAt      time.Time
}

// Writer persists decision records. Writes happen after a successful
// decide() return and are best-effort: a Writer error is logged by the
// caller and never fails the request that already completed (spec.md
// §4.12 step 6, §5 "no compensating action is required").
type Writer interface {
	WriteResult(ctx context.Context, rec Record) error
}

// SQLWriter is the relational backend named in spec.md §6's persistence
// schema (a results table alongside the artifact and list-entry tables).
type SQLWriter struct {
	db *sql.DB
}

// Open opens (creating if absent) a sqlite database at dsn and ensures the
// decisions table exists. dsn is typically DATABASE_URL, per spec.md §6's
// "Environment" paragraph ("DATABASE_URL is a fallback for the result
// writer").
func Open(ctx context.Context, dsn string) (*SQLWriter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, rferrors.DatabaseError(err)
	}
	w := &SQLWriter{db: db}
	if err := w.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id      TEXT PRIMARY KEY,
	pipeline_id     TEXT NOT NULL,
	signal          TEXT NOT NULL,
	score_raw       INTEGER NOT NULL,
	score_canonical INTEGER NOT NULL,
	triggered_rules TEXT NOT NULL,
	actions         TEXT NOT NULL,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_pipeline ON decisions(pipeline_id, created_at);
`
	if _, err := w.db.ExecContext(ctx, schema); err != nil {
		return rferrors.DatabaseError(err)
	}
	return nil
}

// WriteResult inserts rec. Inserts are commutative appends (spec.md §5:
// "Result-writer inserts are commutative ... and may reorder"), so no
// ordering or uniqueness beyond the request_id primary key is enforced.
func (w *SQLWriter) WriteResult(ctx context.Context, rec Record) error {
	rules, err := json.Marshal(rec.TriggeredRules)
	if err != nil {
		return rferrors.InternalError(err)
	}
	actions, err := json.Marshal(rec.Actions)
	if err != nil {
		return rferrors.InternalError(err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO decisions
			(request_id, pipeline_id, signal, score_raw, score_canonical, triggered_rules, actions, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.PipelineID, rec.Signal, rec.ScoreRaw, rec.ScoreCanonical,
		string(rules), string(actions), rec.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return rferrors.DatabaseError(err)
	}
	return nil
}

// Get retrieves a previously persisted decision by request id, mainly for
// operator tooling and tests; not part of the request-serving hot path.
func (w *SQLWriter) Get(ctx context.Context, requestID string) (*Record, error) {
	row := w.db.QueryRowContext(ctx,
		`SELECT pipeline_id, signal, score_raw, score_canonical, triggered_rules, actions, created_at
			FROM decisions WHERE request_id = ?`, requestID)

	var rec Record
	var rulesJSON, actionsJSON, createdAt string
	rec.RequestID = requestID
	if err := row.Scan(&rec.PipelineID, &rec.Signal, &rec.ScoreRaw, &rec.ScoreCanonical, &rulesJSON, &actionsJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, rferrors.NotFound(requestID)
		}
		return nil, rferrors.DatabaseError(err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &rec.TriggeredRules); err != nil {
		return nil, rferrors.InternalError(err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &rec.Actions); err != nil {
		return nil, rferrors.InternalError(err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, rferrors.InternalError(err)
	}
	rec.CreatedAt = t
	return &rec, nil
}

// Close releases the underlying database handle.
func (w *SQLWriter) Close() error { return w.db.Close() }

// ExecutionTrace is the structured per-decision trace spec.md §4.14 and §6
// describe, returned to the caller only when the request opted in
// (enable_trace). It wraps a flat sequence of VM TraceSteps with the
// provenance (which pipeline id, when) the VM itself has no notion of.
type ExecutionTrace struct {
	PipelineID string
	StartedAt  time.Time
	Duration   time.Duration
	Steps      []vm.TraceStep
}

// Recorder implements vm.Tracer, accumulating one ExecutionTrace's steps
// across a single decide() call. A Recorder is not safe for concurrent use
// across requests — the engine façade creates one per decide() call the
// way it creates one reqcontext.Context per call.
type Recorder struct {
	pipelineID string
	startedAt  time.Time
	steps      []vm.TraceStep
}

// NewRecorder starts accumulating a trace for pipelineID.
func NewRecorder(pipelineID string) *Recorder {
	return &Recorder{pipelineID: pipelineID, startedAt: time.Now()}
}

// Record implements vm.Tracer.
func (r *Recorder) Record(step vm.TraceStep) {
	r.steps = append(r.steps, step)
}

// Finish closes out the trace at the current time, suitable for attaching
// to a decide() response once execution completes.
func (r *Recorder) Finish() ExecutionTrace {
	return ExecutionTrace{
		PipelineID: r.pipelineID,
		StartedAt:  r.startedAt,
		Duration:   time.Since(r.startedAt),
		Steps:      r.steps,
	}
}

// Summary renders a short human-readable line per step, the "human-readable
// explanation" half of spec.md §1's decision output, independent of the
// typed ExecutionTrace a caller might otherwise just serialize as JSON.
func (t ExecutionTrace) Summary() string {
	var b strings.Builder
	for i, s := range t.Steps {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s.Kind)
		if s.Detail != "" {
			b.WriteByte(' ')
			b.WriteString(s.Detail)
		}
	}
	return b.String()
}
