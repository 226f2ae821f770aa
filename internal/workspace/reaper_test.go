package workspace

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitForRemoval polls until the directory disappears or the deadline
// passes.
func waitForRemoval(t *testing.T, dir string, deadline time.Duration) bool {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestReaper_Schedule(t *testing.T) {
	r := NewReaper(nil)
	defer r.Stop()

	ws, err := New(t.TempDir())
	require.NoError(t, err)

	r.Schedule(ws, 10*time.Millisecond)
	assert.Equal(t, 1, r.Pending())

	assert.True(t, waitForRemoval(t, ws.Dir, 2*time.Second), "workspace should be deleted after the delay")
	assert.Equal(t, 0, r.Pending())
}

func TestReaper_Cancel(t *testing.T) {
	r := NewReaper(nil)
	defer r.Stop()

	ws, err := New(t.TempDir())
	require.NoError(t, err)

	r.Schedule(ws, 50*time.Millisecond)
	assert.True(t, r.Cancel(ws.ID))

	time.Sleep(100 * time.Millisecond)
	_, statErr := os.Stat(ws.Dir)
	assert.NoError(t, statErr, "cancelled workspace must survive")

	t.Run("cancelling again reports nothing pending", func(t *testing.T) {
		assert.False(t, r.Cancel(ws.ID))
	})

	t.Run("cancelling an unknown id reports nothing pending", func(t *testing.T) {
		assert.False(t, r.Cancel("no-such-workspace"))
	})
}

func TestReaper_Reschedule(t *testing.T) {
	r := NewReaper(nil)
	defer r.Stop()

	ws, err := New(t.TempDir())
	require.NoError(t, err)

	r.Schedule(ws, time.Hour)
	r.Schedule(ws, 10*time.Millisecond)
	assert.Equal(t, 1, r.Pending(), "rescheduling replaces the pending timer")

	assert.True(t, waitForRemoval(t, ws.Dir, 2*time.Second), "replacement delay should apply")
}

func TestReaper_Stop(t *testing.T) {
	r := NewReaper(nil)

	ws, err := New(t.TempDir())
	require.NoError(t, err)

	r.Schedule(ws, time.Hour)
	r.Stop()

	assert.Equal(t, 0, r.Pending())
	_, statErr := os.Stat(ws.Dir)
	assert.NoError(t, statErr, "stop leaves workspaces on disk")
}
