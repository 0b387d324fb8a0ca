// Package rundb persists script run records in SQLite so a restarted
// engine can rehydrate them.
package rundb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cryguy/hive/internal/core"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	host            TEXT    NOT NULL,
	pid             INTEGER NOT NULL,
	filename        TEXT    NOT NULL,
	args            TEXT    NOT NULL,
	threads         INTEGER NOT NULL,
	ram_per_thread  REAL    NOT NULL,
	online_time     REAL    NOT NULL,
	online_money    REAL    NOT NULL,
	online_exp      REAL    NOT NULL,
	saved_at        INTEGER NOT NULL,
	PRIMARY KEY (host, pid)
)`

// Store keeps run records keyed by (host, pid).
type Store struct {
	db *sql.DB
}

// Ensure Store implements core.RunStore.
var _ core.RunStore = (*Store)(nil)

// Open opens (or creates) the run database at the given path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating run database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run database %q: %w", path, err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return initStore(db)
}

// OpenMemory creates an in-memory Store for testing.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory run database: %w", err)
	}
	return initStore(db)
}

func initStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating runs table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save upserts the run record under (host, run.PID).
func (s *Store) Save(host string, run *core.ScriptRun) error {
	args, err := json.Marshal(run.Args)
	if err != nil {
		return fmt.Errorf("encoding args for pid %d: %w", run.PID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (host, pid, filename, args, threads, ram_per_thread, online_time, online_money, online_exp, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host, pid) DO UPDATE SET
			filename = excluded.filename,
			args = excluded.args,
			threads = excluded.threads,
			ram_per_thread = excluded.ram_per_thread,
			online_time = excluded.online_time,
			online_money = excluded.online_money,
			online_exp = excluded.online_exp,
			saved_at = excluded.saved_at`,
		host, run.PID, run.Filename, string(args), run.Threads, run.RAMPerThread,
		run.OnlineRunTime, run.OnlineMoney, run.OnlineExp, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("saving run %d on %s: %w", run.PID, host, err)
	}
	return nil
}

// Runs returns every stored run for the host, oldest pid first.
func (s *Store) Runs(host string) ([]core.StoredRun, error) {
	rows, err := s.db.Query(`
		SELECT pid, filename, args, threads, ram_per_thread, online_time, online_money, online_exp, saved_at
		FROM runs WHERE host = ? ORDER BY pid`, host)
	if err != nil {
		return nil, fmt.Errorf("loading runs for %s: %w", host, err)
	}
	defer rows.Close()

	var out []core.StoredRun
	for rows.Next() {
		run := &core.ScriptRun{Server: host}
		var argsJSON string
		var savedAt int64
		if err := rows.Scan(&run.PID, &run.Filename, &argsJSON, &run.Threads, &run.RAMPerThread,
			&run.OnlineRunTime, &run.OnlineMoney, &run.OnlineExp, &savedAt); err != nil {
			return nil, fmt.Errorf("scanning run for %s: %w", host, err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &run.Args); err != nil {
			return nil, fmt.Errorf("decoding args for pid %d on %s: %w", run.PID, host, err)
		}
		out = append(out, core.StoredRun{Run: run, SavedAt: time.Unix(savedAt, 0)})
	}
	return out, rows.Err()
}

// Delete removes the record for (host, pid). Deleting an absent record is
// not an error.
func (s *Store) Delete(host string, pid int) error {
	if _, err := s.db.Exec(`DELETE FROM runs WHERE host = ? AND pid = ?`, host, pid); err != nil {
		return fmt.Errorf("deleting run %d on %s: %w", pid, host, err)
	}
	return nil
}
