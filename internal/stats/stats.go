// Package stats keeps the driver's daily tallies: offers considered,
// accepted, and rejected, plus net and fare totals against a daily
// goal. Aggregates are persisted in SQLite so they survive daemon
// restarts; everything else in the engine is deliberately ephemeral.
package stats

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_stats (
    date        TEXT PRIMARY KEY,
    total_net   REAL NOT NULL DEFAULT 0,
    total_fare  REAL NOT NULL DEFAULT 0,
    accepted    INTEGER NOT NULL DEFAULT 0,
    rejected    INTEGER NOT NULL DEFAULT 0,
    considered  INTEGER NOT NULL DEFAULT 0
);
`

// Daily is one day's aggregates. Money values are major units of the
// configured fare currency.
type Daily struct {
	Date       string  `json:"date"`
	TotalNet   float64 `json:"total_net"`
	TotalFare  float64 `json:"total_fare"`
	Accepted   int     `json:"accepted"`
	Rejected   int     `json:"rejected"`
	Considered int     `json:"considered"`
}

// Store persists daily aggregates.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the stats database at path. Use ":memory:" for
// an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create stats directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open stats database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stats schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock overrides the wall clock, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) today() string {
	return s.now().Format("2006-01-02")
}

// AddConsidered counts one offer shown on the overlay today.
func (s *Store) AddConsidered() error {
	return s.bump("considered = considered + 1", nil)
}

// AddAccepted counts an accepted offer and accumulates its net and
// fare into today's totals.
func (s *Store) AddAccepted(net, fare float64) error {
	return s.bump(
		"accepted = accepted + 1, total_net = total_net + ?, total_fare = total_fare + ?",
		[]any{net, fare})
}

// AddRejected counts a rejected offer.
func (s *Store) AddRejected() error {
	return s.bump("rejected = rejected + 1", nil)
}

func (s *Store) bump(set string, args []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := s.today()
	if _, err := s.db.Exec(
		`INSERT INTO daily_stats (date) VALUES (?) ON CONFLICT(date) DO NOTHING`, date); err != nil {
		return fmt.Errorf("seed daily row: %w", err)
	}
	query := "UPDATE daily_stats SET " + set + " WHERE date = ?"
	if _, err := s.db.Exec(query, append(args, date)...); err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	return nil
}

// Today returns today's aggregates. A day with no activity yet is all
// zeros; the rollover is implicit in the date key.
func (s *Store) Today() (Daily, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := Daily{Date: s.today()}
	err := s.db.QueryRow(
		`SELECT total_net, total_fare, accepted, rejected, considered
		 FROM daily_stats WHERE date = ?`, d.Date).
		Scan(&d.TotalNet, &d.TotalFare, &d.Accepted, &d.Rejected, &d.Considered)
	if err == sql.ErrNoRows {
		return d, nil
	}
	if err != nil {
		return Daily{}, fmt.Errorf("load daily stats: %w", err)
	}
	return d, nil
}

// ProgressLine renders the overlay's goal progress line and returns
// the percentage of the daily goal reached.
func (s *Store) ProgressLine(goal float64) (string, float64, error) {
	d, err := s.Today()
	if err != nil {
		return "", 0, err
	}
	var pct float64
	if goal > 0 {
		pct = d.TotalNet / goal * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
	}
	line := fmt.Sprintf("goal: %.0f/%.0f (%.0f%%) · trips: %d/%d a/r",
		d.TotalNet, goal, pct, d.Accepted, d.Rejected)
	return line, pct, nil
}
