package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Timer measures how long a named operation took and logs the result on Stop.
// Long-running passes, like the nightly update, get a warning past the
// slow threshold.
type Timer struct {
	start time.Time
	name  string
	log   zerolog.Logger
}

const slowThreshold = 30 * time.Second

// NewTimer starts a timer for the named operation.
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{start: time.Now(), name: name, log: log}
}

// Stop logs the elapsed duration and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)

	event := t.log.Debug()
	if elapsed > slowThreshold {
		event = t.log.Warn()
	}
	event.
		Str("operation", t.name).
		Dur("duration_ms", elapsed).
		Float64("duration_seconds", elapsed.Seconds()).
		Msg("Operation timed")

	return elapsed
}
