package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/tracklock/pkg/fsm"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_AppendAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC)

	require.NoError(t, j.Append(ctx, Entry{RunID: "r1", Machine: "train-1", From: "traveling", To: "blocked", Event: "segment_contended", EventID: "e1", At: at}))
	require.NoError(t, j.Append(ctx, Entry{RunID: "r1", Machine: "train-2", From: "traveling", To: "halted", Event: "terminal_reached", EventID: "e2"}))
	require.NoError(t, j.Append(ctx, Entry{RunID: "r1", Machine: "train-1", From: "blocked", To: "traveling", Event: "segment_granted", EventID: "e3"}))

	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e3", entries[0].EventID)
	assert.Equal(t, "e2", entries[1].EventID)
	assert.NotEmpty(t, entries[0].ID)

	entries, err = j.ForMachine(ctx, "train-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "segment_contended", entries[1].Event)
	assert.True(t, at.Equal(entries[1].At))
}

func TestJournal_ReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, Entry{RunID: "r", Machine: "m", From: "a", To: "b", Event: "go", EventID: "x"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path, nil)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestObserver_RecordsTransitions(t *testing.T) {
	j := openTestJournal(t)

	machine := fsm.NewMachine().
		State("traveling").Initial().
		To("halted").On("terminal_reached").
		State("halted").
		To("traveling").On("departed").
		Build().
		CreateInstance("train-1")
	machine.AddObserver(j.Observer("run-42"))
	require.NoError(t, machine.Start())

	machine.HandleEvent("terminal_reached", nil)
	machine.HandleEvent("departed", "North")
	machine.HandleEvent("unknown", nil)

	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	latest := entries[0]
	assert.Equal(t, "run-42", latest.RunID)
	assert.Equal(t, "train-1", latest.Machine)
	assert.Equal(t, "halted", latest.From)
	assert.Equal(t, "traveling", latest.To)
	assert.Equal(t, "departed", latest.Event)
	assert.Equal(t, "North", latest.Detail)
	assert.NotEmpty(t, latest.EventID)
}
