package jobs

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyRunSkipFlagsBypassPhases(t *testing.T) {
	locks := NewLockManager(t.TempDir(), zerolog.Nop())
	// Nil services: touching either phase would panic, so a clean pass
	// proves both skips short-circuit.
	r := NewDailyRunner(locks, nil, nil, nil, zerolog.Nop())

	rep, err := r.Run(context.Background(), "2024-01-08", true, true)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, "2024-01-08", rep.Date)
	assert.Nil(t, rep.Quotes)
	assert.Zero(t, rep.Monitors.Advanced)
	assert.Zero(t, rep.Monitors.Failed)
}

func TestDailyRunRefusesHeldLock(t *testing.T) {
	dir := t.TempDir()
	release, err := NewLockManager(dir, zerolog.Nop()).Acquire("daily-update")
	require.NoError(t, err)
	defer release()

	r := NewDailyRunner(NewLockManager(dir, zerolog.Nop()), nil, nil, nil, zerolog.Nop())
	_, err = r.Run(context.Background(), "2024-01-08", true, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another instance is already running")
}
