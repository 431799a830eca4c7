// Package sqliteledger implements the reading ledger on an embedded SQLite
// database, giving readings durability across process restarts without an
// external time-series service.
package sqliteledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"github.com/go-diagnostics/go-diagnostics"
)

// A Ledger stores readings in a single SQLite table, ordered by an index on
// (entity, timestamp). It implements [diagnostics.ReadingLedger].
//
// Window queries materialise their result set before returning, so the
// yielded sequence never observes later appends. This trades memory
// proportional to the window size for snapshot isolation, the same trade the
// in-memory ledger makes with its copy-on-append series.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and prepares the ledger
// schema. Use ":memory:" for an ephemeral ledger in tests.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers, which SQLite requires anyway,
	// and keeps ":memory:" databases from silently splitting into one empty
	// database per pooled connection.
	db.SetMaxOpenConns(1)

	l, err := NewLedger(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// NewLedger prepares the ledger schema on an existing database handle. The
// caller remains responsible for closing the handle unless it hands ownership
// over by calling [Ledger.Close].
func NewLedger(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			entity_id TEXT    NOT NULL,
			ts        INTEGER NOT NULL,
			value     REAL    NOT NULL,
			quality   REAL    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS readings_by_entity_ts
			ON readings (entity_id, ts);
		CREATE TABLE IF NOT EXISTS ledger_version (
			entity_id TEXT    PRIMARY KEY,
			version   INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Append(ctx context.Context, id diagnostics.EntityID, r diagnostics.Reading) (retErr error) {
	if id == "" {
		return fmt.Errorf("empty entity id: %w", diagnostics.ErrUnknownEntity)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("entity %q: reading without timestamp", id)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO readings (entity_id, ts, value, quality)
		VALUES (?, ?, ?, ?)
	`, string(id), r.Timestamp.UnixNano(), r.Value, r.Quality)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	// The version row is the cache key for this entity's derived traits, so
	// it must advance in the same transaction as the insert it reflects.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_version (entity_id, version) VALUES (?, 1)
		ON CONFLICT (entity_id) DO UPDATE SET version = version + 1
	`, string(id))
	if err != nil {
		return fmt.Errorf("advance version: %w", err)
	}
	return tx.Commit()
}

func (l *Ledger) Window(ctx context.Context, id diagnostics.EntityID, start, end time.Time) (iter.Seq[diagnostics.Reading], error) {
	// Ordering by rowid within equal timestamps preserves arrival order for
	// readings resubmitted at the same instant.
	rows, err := l.db.QueryContext(ctx, `
		SELECT ts, value, quality FROM readings
		WHERE entity_id = ? AND ts >= ? AND ts < ?
		ORDER BY ts, rowid
	`, string(id), start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("select window: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var window []diagnostics.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		window = append(window, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate window: %w", err)
	}

	return func(yield func(diagnostics.Reading) bool) {
		for _, r := range window {
			if !yield(r) {
				return
			}
		}
	}, nil
}

func (l *Ledger) Latest(ctx context.Context, id diagnostics.EntityID) (diagnostics.Reading, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT ts, value, quality FROM readings
		WHERE entity_id = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT 1
	`, string(id))

	var ts int64
	var r diagnostics.Reading
	err := row.Scan(&ts, &r.Value, &r.Quality)
	if errors.Is(err, sql.ErrNoRows) {
		return diagnostics.Reading{}, fmt.Errorf("entity %q: %w", id, diagnostics.ErrNoData)
	}
	if err != nil {
		return diagnostics.Reading{}, fmt.Errorf("select latest: %w", err)
	}
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, nil
}

func (l *Ledger) Version(ctx context.Context, id diagnostics.EntityID) (uint64, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT version FROM ledger_version WHERE entity_id = ?
	`, string(id))
	var version uint64
	err := row.Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		// An entity that has never reported sits at version zero.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select version: %w", err)
	}
	return version, nil
}

func scanReading(rows *sql.Rows) (diagnostics.Reading, error) {
	var ts int64
	var r diagnostics.Reading
	if err := rows.Scan(&ts, &r.Value, &r.Quality); err != nil {
		return diagnostics.Reading{}, fmt.Errorf("scan reading: %w", err)
	}
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, nil
}
