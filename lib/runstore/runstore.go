// Package runstore persists run history. Scraped loans are never
// stored, a run only records what it reported.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"

	"bibrenew/lib/timezone"

	_ "embed"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("lib/runstore")

//go:embed schema.sql
var Schema string

// Open opens the history database and applies the schema. A
// libsql:// URL goes to a remote instance, anything else is a local
// sqlite file created on first use.
func Open(path string) (*sql.DB, error) {
	if strings.HasPrefix(path, "libsql://") {
		db, err := sql.Open("libsql", path)
		if err != nil {
			return nil, fmt.Errorf("open history db: %w", err)
		}
		return db, initSchema(db)
	}

	if path != ":memory:" {
		os.MkdirAll(filepath.Dir(path), 0777)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// the store only ever has one writer, so it runs on a single
	// connection in WAL mode
	db.SetMaxOpenConns(1)
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	return db, initSchema(db)
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	if err != nil {
		return fmt.Errorf("apply history schema: %w", err)
	}
	return nil
}

type Outcome struct {
	User    string
	Title   string
	Barcode string
	Renewed bool
	Note    string
}

type Run struct {
	ID        string
	StartedAt time.Time
	Report    string
	Outcomes  []Outcome
}

// NewRunID returns a time-ordered unique id for a run.
func NewRunID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Record stores one run and its outcomes in a single transaction.
func (s Store) Record(ctx context.Context, run Run) error {
	ctx, span := tracer.Start(ctx, "runstore:Record")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (id, started_at, report) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt.Unix(), run.Report,
	)
	if err != nil {
		return err
	}

	for seq, outcome := range run.Outcomes {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO outcomes (run_id, seq, user, title, barcode, renewed, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, seq,
			outcome.User, outcome.Title, outcome.Barcode, outcome.Renewed, outcome.Note,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Recent returns up to limit runs, newest first, outcomes attached in
// recorded order.
func (s Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	ctx, span := tracer.Start(ctx, "runstore:Recent")
	defer span.End()

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, started_at, report FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		err := rows.Scan(&run.ID, &startedAt, &run.Report)
		if err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(startedAt, 0).In(timezone.Location)
		runs = append(runs, run)
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}

	for i := range runs {
		runs[i].Outcomes, err = s.outcomes(ctx, runs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s Store) outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT user, title, barcode, renewed, note FROM outcomes WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		err := rows.Scan(&o.User, &o.Title, &o.Barcode, &o.Renewed, &o.Note)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
