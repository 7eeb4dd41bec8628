package lifecycle

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/record"
)

func TestPowerActionAllowedStates(t *testing.T) {
	tests := []struct {
		action PowerAction
		state  record.State
		want   bool
	}{
		{PowerStart, record.StateStopped, true},
		{PowerStart, record.StateInstalled, true},
		{PowerStart, record.StateRunning, false},
		{PowerStop, record.StateRunning, true},
		{PowerStop, record.StateStopped, false},
		{PowerRestart, record.StateRunning, true},
		{PowerRestart, record.StateInstalled, false},
		{PowerKill, record.StateRunning, true},
		{PowerKill, record.StateCreating, false},
	}
	for _, tt := range tests {
		got := allows(tt.action, tt.state)
		require.Equal(t, tt.want, got, "allows(%s, %s)", tt.action, tt.state)
	}
}

func newTestController(t *testing.T) (*Controller, record.Store) {
	t.Helper()
	store := record.NewMemoryStore()
	c := New(store, nil, nil, nil, nil, logbuffer.NewRegistry(), t.TempDir(), slog.Default())
	return c, store
}

func TestPowerRejectsIllegalTransition(t *testing.T) {
	c, store := newTestController(t)
	ctx := t.Context()

	containerID := "abc123"
	rec := &record.ServerRecord{ID: "srv-1", State: record.StateStopped, ContainerID: &containerID}
	require.NoError(t, store.Create(ctx, rec))

	err := c.Power(ctx, "srv-1", PowerStop)
	require.Error(t, err)
}

func TestDeleteIsIdempotentOnMissingRecord(t *testing.T) {
	c, _ := newTestController(t)
	require.NoError(t, c.Delete(t.Context(), "does-not-exist"))
}

func TestDeleteRemovesRecordWithoutContainer(t *testing.T) {
	c, store := newTestController(t)
	ctx := t.Context()

	rec := &record.ServerRecord{ID: "srv-2", State: record.StateInstalled}
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, c.Delete(ctx, "srv-2"))

	_, err := store.Get(ctx, "srv-2")
	require.Error(t, err)
}
