package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupJournal(t *testing.T) (*Journal, func()) {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"), zerolog.Nop())
	require.NoError(t, err)
	return j, func() { j.Close() }
}

func TestJournal_AttemptLifecycle(t *testing.T) {
	j, cleanup := setupJournal(t)
	defer cleanup()

	require.NoError(t, j.Start(Attempt{ID: "a1", Pipeline: "p", Operator: "gen"}))
	require.NoError(t, j.AddTransition("a1", Transition{From: "Created", To: "ResourceCreation", Signal: "proceed"}))
	require.NoError(t, j.AddTransition("a1", Transition{From: "ResourceCreation", To: "ResourceDeletion", Signal: "error", Error: "boom"}))

	a, err := j.Attempt("a1")
	require.NoError(t, err)
	assert.False(t, a.Done())
	assert.NotZero(t, a.Started)

	require.NoError(t, j.Finish(Attempt{ID: "a1", Pipeline: "p", Operator: "gen", State: "Stopped", Kind: "ResourceError", Error: "boom", ExitCode: 112}))
	a, err = j.Attempt("a1")
	require.NoError(t, err)
	assert.True(t, a.Done())
	assert.Equal(t, 112, a.ExitCode)
	assert.NotZero(t, a.Started, "start time survives finish")

	ts, err := j.Transitions("a1")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "ResourceCreation", ts[0].To)
	assert.Equal(t, "boom", ts[1].Error)
}

func TestJournal_Unknown(t *testing.T) {
	j, cleanup := setupJournal(t)
	defer cleanup()

	_, err := j.Attempt("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, j.AddTransition("nope", Transition{}), ErrNotFound)
	assert.ErrorIs(t, j.Finish(Attempt{ID: "nope"}), ErrNotFound)
	_, err = j.Transitions("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_AttemptsFilter(t *testing.T) {
	j, cleanup := setupJournal(t)
	defer cleanup()

	base := time.Now().UnixNano()
	for i, a := range []Attempt{
		{ID: "c", Pipeline: "p", Operator: "sink", Started: base + 3},
		{ID: "a", Pipeline: "p", Operator: "gen", Started: base + 1},
		{ID: "b", Pipeline: "q", Operator: "gen", Started: base + 2},
	} {
		require.NoError(t, j.Start(a), i)
	}

	tests := []struct {
		pipeline, operator string
		want               []string
	}{
		{"", "", []string{"a", "b", "c"}},
		{"p", "", []string{"a", "c"}},
		{"", "gen", []string{"a", "b"}},
		{"q", "sink", nil},
	}
	for _, tt := range tests {
		got, err := j.Attempts(tt.pipeline, tt.operator)
		require.NoError(t, err)
		var ids []string
		for _, a := range got {
			ids = append(ids, a.ID)
		}
		assert.Equal(t, tt.want, ids, "%s/%s", tt.pipeline, tt.operator)
	}
}

func TestJournal_PersistsAndPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	old := time.Now().Add(-time.Hour).UnixNano()
	require.NoError(t, j.Start(Attempt{ID: "old", Started: old}))
	require.NoError(t, j.AddTransition("old", Transition{To: "Stopped"}))
	require.NoError(t, j.Finish(Attempt{ID: "old"}))
	require.NoError(t, j.Start(Attempt{ID: "running", Started: old}))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Start(Attempt{ID: "x"}), ErrClosed)

	j, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()
	all, err := j.Attempts("", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := j.Prune(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "unfinished attempts are kept")
	_, err = j.Transitions("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = j.Attempt("running")
	assert.NoError(t, err)
}
