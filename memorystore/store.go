// Package memorystore is the store step's external collaborator (spec
// §4.8): an explicitly partial SQLite-backed fact/relationship sink, one
// database file per ecosystem, schema created lazily on first write.
// Query APIs, ranking, and ecosystem-scoped retrieval are out of scope —
// this only proves the write path a "store" step depends on. Grounded on a
// SQL-backed session store's lazy schema init and upsert-by-delta
// persistence pattern, narrowed from a multi-dialect session/event model
// down to a single sqlite dialect and two append-only tables.
package memorystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ducks/llmux/stepresult"
	"github.com/ducks/llmux/template"
	"github.com/ducks/llmux/workflow"

	_ "modernc.org/sqlite"
)

// Fact is one subject/predicate/object triple a store step records.
type Fact struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// Relationship links two entities by a named kind.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// payload is the JSON shape a store step's rendered prompt must evaluate
// to (spec §6 "store: prompt ... evaluates to JSON with facts and/or
// relationships arrays").
type payload struct {
	Facts         []Fact         `json:"facts"`
	Relationships []Relationship `json:"relationships"`
}

const createFactsSchemaSQL = `
CREATE TABLE IF NOT EXISTS facts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ecosystem VARCHAR(255) NOT NULL,
    subject TEXT NOT NULL,
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createFactsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_facts_ecosystem ON facts(ecosystem)`

const createRelationshipsSchemaSQL = `
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ecosystem VARCHAR(255) NOT NULL,
    from_entity TEXT NOT NULL,
    to_entity TEXT NOT NULL,
    kind TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createRelationshipsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_relationships_ecosystem ON relationships(ecosystem)`

// Store is the lazily-initialized, ecosystem-partitioned sqlite sink
// (spec §6 "Persistent state": one database file per ecosystem under
// baseDir, e.g. ~/.config/llm-mux/memory/<ecosystem>.db).
type Store struct {
	baseDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// New builds a Store rooted at baseDir. No database file is created or
// opened until the first Store call for a given ecosystem.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, dbs: map[string]*sql.DB{}}
}

// Store renders step's prompt, parses it as a fact/relationship payload,
// and persists it to the ecosystem's database, implementing
// scheduler.MemoryStore.
func (s *Store) Store(ctx context.Context, ecosystem string, step *workflow.Step, tctx template.Context) *stepresult.StepResult {
	if ecosystem == "" {
		ecosystem = "default"
	}

	rendered, err := renderPrompt(step.Prompt, tctx)
	if err != nil {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindTemplateError, Message: "rendering store prompt", Err: err,
		})
	}

	var p payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(rendered)), &p); err != nil {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindOutputParseFailed, Message: "store prompt did not evaluate to a facts/relationships JSON object", Err: err,
		})
	}
	if len(p.Facts) == 0 && len(p.Relationships) == 0 {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindConfigError, Message: "store step produced no facts or relationships",
		})
	}

	db, err := s.dbFor(ecosystem)
	if err != nil {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindConfigError, Message: "opening memory store", Err: err,
		})
	}

	now := time.Now()
	if err := writePayload(ctx, db, ecosystem, p, now); err != nil {
		return stepresult.NewFailed(step.Name, &stepresult.StepError{
			Kind: stepresult.KindConfigError, Message: "writing to memory store", Err: err,
		})
	}

	return &stepresult.StepResult{
		StepName: step.Name,
		Output:   fmt.Sprintf("stored %d fact(s), %d relationship(s) in ecosystem %q", len(p.Facts), len(p.Relationships), ecosystem),
	}
}

// dbFor returns the already-open connection for ecosystem, opening and
// initializing its schema on first use.
func (s *Store) dbFor(ecosystem string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[ecosystem]; ok {
		return db, nil
	}

	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating memory store directory: %w", err)
	}
	path := filepath.Join(s.baseDir, ecosystem+".db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s.dbs[ecosystem] = db
	return db, nil
}

// Close closes every ecosystem database this Store has opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func initSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		createFactsSchemaSQL,
		createFactsIndexSQL,
		createRelationshipsSchemaSQL,
		createRelationshipsIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initializing memory store schema: %w", err)
		}
	}
	return nil
}

func writePayload(ctx context.Context, db *sql.DB, ecosystem string, p payload, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range p.Facts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (ecosystem, subject, predicate, object, created_at) VALUES (?, ?, ?, ?, ?)`,
			ecosystem, f.Subject, f.Predicate, f.Object, now); err != nil {
			return fmt.Errorf("inserting fact: %w", err)
		}
	}
	for _, r := range p.Relationships {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (ecosystem, from_entity, to_entity, kind, created_at) VALUES (?, ?, ?, ?, ?)`,
			ecosystem, r.From, r.To, r.Kind, now); err != nil {
			return fmt.Errorf("inserting relationship: %w", err)
		}
	}

	return tx.Commit()
}

func renderPrompt(src string, tctx template.Context) (string, error) {
	tpl, err := template.Parse(src)
	if err != nil {
		return "", err
	}
	return tpl.Render(tctx)
}
