// Package jobs coordinates background work: per-class lock files, the run
// executor, subprocess spawning with log capture, the stale-job health check
// and the nightly daily-update orchestration.
package jobs

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/domain"
)

// LockManager hands out advisory file locks per job class. Locks are
// process-scoped: a crashed holder releases its lock when the OS reaps the
// process, so no stale-lock cleanup is needed.
type LockManager struct {
	varDir string
	log    zerolog.Logger
}

// NewLockManager creates a lock manager rooted at varDir.
func NewLockManager(varDir string, log zerolog.Logger) *LockManager {
	return &LockManager{
		varDir: varDir,
		log:    log.With().Str("component", "locks").Logger(),
	}
}

// Acquire takes the lock for a job class without blocking. A held lock
// yields a Concurrent error. The returned release function is safe to
// call once.
func (m *LockManager) Acquire(class string) (func(), error) {
	path := filepath.Join(m.varDir, class+".lock")
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !ok {
		return nil, domain.NewError(domain.Concurrent,
			"another instance is already running for job class %q", class)
	}
	m.log.Debug().Str("class", class).Str("path", path).Msg("Acquired job lock")
	return func() {
		if err := fl.Unlock(); err != nil {
			m.log.Warn().Err(err).Str("class", class).Msg("Failed to release job lock")
		}
	}, nil
}

// MonitorClass returns the lock class for one monitor when per-monitor
// locking is enabled; otherwise all monitors share the global class.
func MonitorClass(perMonitor bool, monitorID int64) string {
	if perMonitor {
		return fmt.Sprintf("monitor-%d", monitorID)
	}
	return "monitors"
}
