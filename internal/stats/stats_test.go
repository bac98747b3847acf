package stats

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmptyDay(t *testing.T) {
	s := openTestStore(t)

	d, err := s.Today()
	require.NoError(t, err)
	assert.Equal(t, time.Now().Format("2006-01-02"), d.Date)
	assert.Zero(t, d.Considered)
	assert.Zero(t, d.TotalNet)
}

func TestAccumulate(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.AddConsidered())
	require.NoError(t, s.AddConsidered())
	require.NoError(t, s.AddAccepted(7900, 12500))
	require.NoError(t, s.AddAccepted(4100, 8000))
	require.NoError(t, s.AddRejected())

	d, err := s.Today()
	require.NoError(t, err)
	assert.Equal(t, 2, d.Considered)
	assert.Equal(t, 2, d.Accepted)
	assert.Equal(t, 1, d.Rejected)
	assert.InDelta(t, 12000, d.TotalNet, 0.001)
	assert.InDelta(t, 20500, d.TotalFare, 0.001)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddAccepted(5000, 9000))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.Today()
	require.NoError(t, err)
	assert.Equal(t, 1, d.Accepted)
	assert.InDelta(t, 5000, d.TotalNet, 0.001)
}

func TestDailyRollover(t *testing.T) {
	s := openTestStore(t)

	day1 := time.Date(2026, 8, 27, 23, 50, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return day1 })
	require.NoError(t, s.AddAccepted(5000, 9000))

	// Midnight passes: tallies start fresh under the new date key.
	day2 := day1.Add(time.Hour)
	s.SetClock(func() time.Time { return day2 })

	d, err := s.Today()
	require.NoError(t, err)
	assert.Equal(t, "2026-08-28", d.Date)
	assert.Zero(t, d.Accepted)

	// The previous day stays intact.
	s.SetClock(func() time.Time { return day1 })
	d, err = s.Today()
	require.NoError(t, err)
	assert.Equal(t, 1, d.Accepted)
}

func TestProgressLine(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddAccepted(60000, 80000))
	require.NoError(t, s.AddRejected())

	line, pct, err := s.ProgressLine(120000)
	require.NoError(t, err)
	assert.InDelta(t, 50, pct, 0.001)
	assert.Contains(t, line, "60000/120000")
	assert.Contains(t, line, "(50%)")
	assert.Contains(t, line, "1/1 a/r")

	// Over the goal the percentage caps at 100.
	require.NoError(t, s.AddAccepted(100000, 120000))
	_, pct, err = s.ProgressLine(120000)
	require.NoError(t, err)
	assert.Equal(t, 100.0, pct)

	// Zero goal renders without a percentage blowup.
	line, pct, err = s.ProgressLine(0)
	require.NoError(t, err)
	assert.Zero(t, pct)
	assert.True(t, strings.HasPrefix(line, "goal:"))
}
