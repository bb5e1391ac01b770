package jobs

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/avramidis/strategem/internal/domain"
)

// logFlushLines is how many captured lines accumulate before a flush to the
// run's log buffer.
const logFlushLines = 10

// Job is a spawned run subprocess.
type Job struct {
	RunID int64
	PID   int
	// Done receives the subprocess exit error (nil on success) exactly once.
	Done <-chan error
}

// Dispatcher spawns run subprocesses and recovers stale records. Each run
// executes in its own process by re-invoking this binary, so a panicking or
// leaking strategy cannot take the dispatcher down with it.
type Dispatcher struct {
	runs   domain.RunRepo
	binary string

	jobTimeout     time.Duration
	pendingRestart time.Duration

	log zerolog.Logger
}

// NewDispatcher creates a dispatcher. binary is the executable to re-invoke
// for child runs, normally os.Executable().
func NewDispatcher(runs domain.RunRepo, binary string, jobTimeout, pendingRestart time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		runs:           runs,
		binary:         binary,
		jobTimeout:     jobTimeout,
		pendingRestart: pendingRestart,
		log:            log.With().Str("component", "dispatcher").Logger(),
	}
}

// Spawn starts a child process executing the run and returns once the child
// is running. Captured output is appended to the run's log buffer in the
// background until the child exits.
func (d *Dispatcher) Spawn(ctx context.Context, runID int64) (*Job, error) {
	cmd := exec.CommandContext(ctx, d.binary,
		"run-backtest", "--run-id", strconv.FormatInt(runID, 10), "--format", "json")
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe run %d stdout: %w", runID, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn run %d: %w", runID, err)
	}
	d.log.Info().Int64("run_id", runID).Int("pid", cmd.Process.Pid).Msg("Spawned run subprocess")

	done := make(chan error, 1)
	go func() {
		d.forwardOutput(runID, stdout)
		done <- cmd.Wait()
	}()

	return &Job{RunID: runID, PID: cmd.Process.Pid, Done: done}, nil
}

// SpawnAndWait runs the child to completion, forwarding output.
func (d *Dispatcher) SpawnAndWait(ctx context.Context, runID int64) error {
	job, err := d.Spawn(ctx, runID)
	if err != nil {
		return err
	}
	select {
	case err := <-job.Done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forwardOutput streams child output into the run's log buffer, flushing
// every few lines so progress is visible while the child runs.
func (d *Dispatcher) forwardOutput(runID int64, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var buf []byte
	lines := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := d.runs.AppendLog(runID, string(buf)); err != nil {
			d.log.Warn().Err(err).Int64("run_id", runID).Msg("Failed to append run log")
		}
		buf = buf[:0]
		lines = 0
	}

	for scanner.Scan() {
		buf = append(buf, scanner.Bytes()...)
		buf = append(buf, '\n')
		if lines++; lines >= logFlushLines {
			flush()
		}
	}
	flush()
}

// HealthReport summarizes one recovery scan.
type HealthReport struct {
	PendingRestarted int `json:"pending_restarted"`
	RunningKilled    int `json:"running_killed"`
	RunningOrphaned  int `json:"running_orphaned"`
}

// HealthCheck scans for stale run records. Pending runs older than the
// restart cutoff are respawned; running runs past the job timeout are marked
// failed, killing the process when it still exists.
func (d *Dispatcher) HealthCheck(ctx context.Context) (*HealthReport, error) {
	rep := &HealthReport{}

	pending, err := d.runs.Stale(domain.RunPending, int64(d.pendingRestart.Seconds()))
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "scan stale pending runs")
	}
	for _, run := range pending {
		d.log.Warn().Int64("run_id", run.ID).Time("created", run.CreatedAt).
			Msg("Pending run never started, respawning")
		if _, err := d.Spawn(ctx, run.ID); err != nil {
			d.log.Error().Err(err).Int64("run_id", run.ID).Msg("Respawn failed")
			continue
		}
		rep.PendingRestarted++
	}

	running, err := d.runs.Stale(domain.RunRunning, int64(d.jobTimeout.Seconds()))
	if err != nil {
		return nil, domain.WrapError(domain.PersistenceFault, err, "scan stale running runs")
	}
	for _, run := range running {
		alive := false
		if run.PID > 0 {
			alive, _ = process.PidExists(int32(run.PID))
		}
		msg := fmt.Sprintf("run exceeded job timeout of %s", d.jobTimeout)
		if alive {
			if p, perr := process.NewProcess(int32(run.PID)); perr == nil {
				if kerr := p.Kill(); kerr != nil {
					d.log.Error().Err(kerr).Int64("run_id", run.ID).Int("pid", run.PID).
						Msg("Failed to kill stalled run process")
				}
			}
			rep.RunningKilled++
		} else {
			msg = "run process died without recording a result"
			rep.RunningOrphaned++
		}
		stalled := domain.NewError(domain.Stalled, "%s", msg)
		if err := d.runs.UpdateError(run.ID, stalled.Error()); err != nil {
			d.log.Error().Err(err).Int64("run_id", run.ID).Msg("Failed to mark stalled run failed")
		}
		d.log.Warn().Int64("run_id", run.ID).Int("pid", run.PID).Bool("was_alive", alive).
			Msg("Marked stalled run failed")
	}

	return rep, nil
}
