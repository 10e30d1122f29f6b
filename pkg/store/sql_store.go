package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/digitaldna/pkg/dna"
	"github.com/Mindburn-Labs/digitaldna/pkg/federation"
	"github.com/Mindburn-Labs/digitaldna/pkg/policy"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS dna_artifacts (
		dna_id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		generated_at TEXT NOT NULL,
		document TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS consensus_results (
		consensus_id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		reached_at TEXT NOT NULL,
		document TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS access_decisions (
		decision_id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		decided_at TEXT NOT NULL,
		document TEXT NOT NULL
	)`,
}

// SQLStore implements Store over database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	schema  string
}

// Open connects with the named driver ("sqlite" or "postgres") and migrates.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	dialect := Dialect(driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// In-memory databases are per connection.
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database and creates missing tables.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, schema: dna.DefaultSchemaVersion}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func stamp(t time.Time) string { return t.UTC().Format(timeLayout) }

func (s *SQLStore) upsert(ctx context.Context, table, key string, args ...any) error {
	query := s.rebind(fmt.Sprintf(
		`INSERT INTO %s VALUES (?, ?, ?, ?) ON CONFLICT (%s) DO UPDATE SET document = excluded.document`,
		table, key))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("store: write %s: %w", table, err)
	}
	return nil
}

func (s *SQLStore) queryDocument(ctx context.Context, query string, args ...any) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: query: %w", err)
	}
	return doc, nil
}

func (s *SQLStore) SaveDNA(ctx context.Context, d dna.DigitalDNA) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "dna_artifacts", "dna_id", d.DNAID, d.EntityID, stamp(d.GenerationTimestamp), doc)
}

func (s *SQLStore) LatestDNA(ctx context.Context, entityID string) (dna.DigitalDNA, error) {
	doc, err := s.queryDocument(ctx,
		`SELECT document FROM dna_artifacts WHERE entity_id = ? ORDER BY generated_at DESC LIMIT 1`, entityID)
	if err != nil {
		return dna.DigitalDNA{}, fmt.Errorf("dna for %s: %w", entityID, err)
	}
	d, err := decode[dna.DigitalDNA](doc)
	if err != nil {
		return dna.DigitalDNA{}, err
	}
	return checkSchema(s.schema, d)
}

func (s *SQLStore) SaveConsensus(ctx context.Context, r federation.ConsensusResult) error {
	doc, err := encode(r)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "consensus_results", "consensus_id", r.ConsensusID, r.EntityID, stamp(r.Timestamp), doc)
}

func (s *SQLStore) GetConsensus(ctx context.Context, id string) (federation.ConsensusResult, error) {
	doc, err := s.queryDocument(ctx, `SELECT document FROM consensus_results WHERE consensus_id = ?`, id)
	if err != nil {
		return federation.ConsensusResult{}, fmt.Errorf("consensus %s: %w", id, err)
	}
	return decode[federation.ConsensusResult](doc)
}

func (s *SQLStore) SaveDecision(ctx context.Context, d policy.AccessDecision) error {
	doc, err := encode(d)
	if err != nil {
		return err
	}
	return s.upsert(ctx, "access_decisions", "decision_id", d.DecisionID, d.EntityID, stamp(d.DecisionTimestamp), doc)
}

func (s *SQLStore) GetDecision(ctx context.Context, id string) (policy.AccessDecision, error) {
	doc, err := s.queryDocument(ctx, `SELECT document FROM access_decisions WHERE decision_id = ?`, id)
	if err != nil {
		return policy.AccessDecision{}, fmt.Errorf("decision %s: %w", id, err)
	}
	return decode[policy.AccessDecision](doc)
}

func (s *SQLStore) ListDecisions(ctx context.Context, entityID string) ([]policy.AccessDecision, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT document FROM access_decisions WHERE entity_id = ? ORDER BY decided_at, decision_id`), entityID)
	if err != nil {
		return nil, fmt.Errorf("store: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []policy.AccessDecision
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: scan decision: %w", err)
		}
		d, err := decode[policy.AccessDecision](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
