// Package journal persists project mutations to a local SQLite database: an
// append-only event log plus periodic full-state snapshots. Recovery loads
// the newest snapshot and replays every event recorded after it, which
// reconstructs the exact raw state; derived scheduling fields are never
// written and are recomputed by the engine after recovery.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/ravenhall/lodestar/internal/calendar"
	"github.com/ravenhall/lodestar/internal/task"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// schema contains the DDL executed on every open. IF NOT EXISTS makes it
// safe to rerun.
const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    payload    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_seq  INTEGER NOT NULL,
    payload    TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SnapshotPolicy decides when MaybeSnapshot writes a new snapshot: after
// EveryEvents appended events, or once EveryDuration has passed since the
// last snapshot, whichever fires first. Zero fields disable that trigger.
type SnapshotPolicy struct {
	EveryEvents   int
	EveryDuration time.Duration
}

// DefaultPolicy snapshots every 200 events or every 10 minutes.
var DefaultPolicy = SnapshotPolicy{EveryEvents: 200, EveryDuration: 10 * time.Minute}

// Journal is the durable log. A failed append keeps the event in an
// in-memory pending queue and retries it ahead of the next append, so a
// transient disk error never silently drops a mutation.
type Journal struct {
	db     *sql.DB
	policy SnapshotPolicy

	mu        sync.Mutex
	closed    bool
	pending   []task.Event
	sinceSnap int
	lastSnap  time.Time
}

// snapshotState is the serialized form of a full-state snapshot. Only raw
// fields appear: the task JSON encoding excludes everything engine-owned.
type snapshotState struct {
	Calendar calendar.Calendar `json:"calendar"`
	Tasks    []*task.Task      `json:"tasks"`
}

// Open opens (or creates) the journal database at dbPath, enables WAL mode
// and busy timeout, and creates the schema idempotently.
func Open(ctx context.Context, dbPath string, policy SnapshotPolicy) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	// One connection only. SQLite has a single writer; a pool of connections
	// each needing its own PRAGMA setup just manufactures SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	if policy.EveryEvents == 0 && policy.EveryDuration == 0 {
		policy = DefaultPolicy
	}
	return &Journal{db: db, policy: policy, lastSnap: time.Now()}, nil
}

// Append writes one event to the log. Pending events from earlier failed
// appends are flushed first, in order, so the log never reorders mutations.
// On failure the event joins the pending queue and the error is returned;
// the caller may keep working and retry implicitly with the next append.
func (j *Journal) Append(ctx context.Context, ev task.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	j.pending = append(j.pending, ev)
	return j.flushLocked(ctx)
}

// Flush retries any pending events without appending a new one.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	return j.flushLocked(ctx)
}

// Pending returns the number of events waiting for a successful write.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

func (j *Journal) flushLocked(ctx context.Context) error {
	for len(j.pending) > 0 {
		ev := j.pending[0]
		payload, err := json.Marshal(ev)
		if err != nil {
			// An unserializable event can never succeed; dropping it is the
			// only way the queue makes progress.
			j.pending = j.pending[1:]
			return fmt.Errorf("journal: encode event %q: %w", ev.Type, err)
		}
		if _, err := j.db.ExecContext(ctx, "INSERT INTO events (payload) VALUES (?)", string(payload)); err != nil {
			return fmt.Errorf("journal: append event %q (%d pending): %w", ev.Type, len(j.pending), err)
		}
		j.pending = j.pending[1:]
		j.sinceSnap++
	}
	return nil
}

// Snapshot writes a full-state snapshot at the current log position and
// compacts: events covered by the snapshot are deleted, as are older
// snapshots. Pending events are flushed first so the snapshot never gets
// ahead of the log.
func (j *Journal) Snapshot(ctx context.Context, state *task.State) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.flushLocked(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(snapshotState{
		Calendar: state.Calendar,
		Tasks:    state.Tasks.Ordered(),
	})
	if err != nil {
		return fmt.Errorf("journal: encode snapshot: %w", err)
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM events").Scan(&seq); err != nil {
		return fmt.Errorf("journal: read log position: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (event_seq, payload) VALUES (?, ?)", seq.Int64, string(payload)); err != nil {
		return fmt.Errorf("journal: write snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE seq <= ?", seq.Int64); err != nil {
		return fmt.Errorf("journal: compact events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshots WHERE id < (SELECT MAX(id) FROM snapshots)"); err != nil {
		return fmt.Errorf("journal: compact snapshots: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit snapshot: %w", err)
	}

	j.sinceSnap = 0
	j.lastSnap = time.Now()
	return nil
}

// MaybeSnapshot writes a snapshot if the policy says it is due. Returns
// whether one was written.
func (j *Journal) MaybeSnapshot(ctx context.Context, state *task.State) (bool, error) {
	j.mu.Lock()
	due := (j.policy.EveryEvents > 0 && j.sinceSnap >= j.policy.EveryEvents) ||
		(j.policy.EveryDuration > 0 && time.Since(j.lastSnap) >= j.policy.EveryDuration)
	j.mu.Unlock()
	if !due {
		return false, nil
	}
	if err := j.Snapshot(ctx, state); err != nil {
		return false, err
	}
	return true, nil
}

// Recover rebuilds raw project state from the newest snapshot plus every
// event appended after it. A journal with no snapshot replays the full log
// from an empty state with the default calendar. Derived fields are left
// zero; the caller runs the engine to fill them in.
func (j *Journal) Recover(ctx context.Context) (*task.State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	state := task.NewState(calendar.Default())
	sinceSeq := int64(0)

	var payload string
	var eventSeq int64
	err := j.db.QueryRowContext(ctx,
		"SELECT event_seq, payload FROM snapshots ORDER BY id DESC LIMIT 1").Scan(&eventSeq, &payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No snapshot yet; replay everything.
	case err != nil:
		return nil, fmt.Errorf("journal: load snapshot: %w", err)
	default:
		var snap snapshotState
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("journal: decode snapshot: %w", err)
		}
		state.Calendar = snap.Calendar
		state.Tasks.ReplaceAll(snap.Tasks)
		sinceSeq = eventSeq
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, payload FROM events WHERE seq > ? ORDER BY seq", sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var raw string
		if err := rows.Scan(&seq, &raw); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		var ev task.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("journal: decode event %d: %w", seq, err)
		}
		if err := state.Apply(ev); err != nil {
			return nil, fmt.Errorf("journal: replay event %d (%s): %w", seq, ev.Type, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return state, nil
}

// StoredEvent is one persisted row of the event log. CreatedAt is the
// database timestamp as stored, kept as text for display.
type StoredEvent struct {
	Seq       int64
	Event     task.Event
	CreatedAt string
}

// Events returns every event currently in the log (after any compaction),
// oldest first.
func (j *Journal) Events(ctx context.Context) ([]StoredEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, payload, created_at FROM events ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("journal: query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var se StoredEvent
		var raw string
		if err := rows.Scan(&se.Seq, &raw, &se.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &se.Event); err != nil {
			return nil, fmt.Errorf("journal: decode event %d: %w", se.Seq, err)
		}
		out = append(out, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate events: %w", err)
	}
	return out, nil
}

// EventCount returns the number of events currently in the log (after any
// compaction). Mostly useful for inspection commands and tests.
func (j *Journal) EventCount(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrClosed
	}
	var n int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("journal: count events: %w", err)
	}
	return n, nil
}

// Close releases the database connection. Pending events that never flushed
// are lost; callers should Flush first.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
