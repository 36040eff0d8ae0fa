package shell

import (
	"context"
	"fmt"
	"time"

	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/health"
	"github.com/projectdesk/projectdesk/internal/scheduler"
	"github.com/projectdesk/projectdesk/internal/startup"
	"github.com/projectdesk/projectdesk/internal/worker"
)

// HealthTaskID identifies the periodic worker health check.
const HealthTaskID = "worker-health"

const crashTailLines = 20

// watchWorker reacts to an unexpected worker exit. Under the backoff restart
// policy the worker is respawned on the same port after a growing delay.
func (c *Controller) watchWorker(proc worker.Process) {
	<-proc.Done()

	c.mu.Lock()
	if c.proc != proc || c.shuttingDown {
		c.mu.Unlock()
		return
	}

	exitErr := proc.Err()
	event := c.logger.Error().Err(exitErr)
	if exitErr == nil {
		event = c.logger.Warn()
	}
	if c.deps.Output != nil {
		if tail := c.deps.Output.Tail(worker.StreamStderr, crashTailLines); len(tail) > 0 {
			event = event.Strs("stderrTail", tail)
		}
	}
	event.Int("pid", proc.PID()).Int("port", c.port).Msg("Worker exited unexpectedly")

	message := "Worker exited"
	if exitErr != nil {
		message = fmt.Sprintf("Worker exited: %v", exitErr)
	}
	c.deps.Health.SetError(health.CategoryWorker, HealthWorkerID, message)

	if c.cfg.RestartPolicy != config.RestartBackoff || c.restarts >= c.cfg.MaxRestarts {
		c.mu.Unlock()
		return
	}
	c.restarts++
	attempt := c.restarts
	delay := c.backoff.Next()
	spec := c.spec
	c.mu.Unlock()

	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Restarting worker")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.lifetime.Done():
		return
	case <-timer.C:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != proc || c.shuttingDown {
		return
	}

	next, err := c.deps.Spawner.Spawn(c.lifetime, spec)
	if err != nil {
		c.logger.Error().Err(err).Int("attempt", attempt).Msg("Failed to restart worker")
		c.deps.Health.SetError(health.CategoryWorker, HealthWorkerID, "Restart failed: "+err.Error())
		return
	}

	c.proc = next
	c.deps.Health.ClearStatus(health.CategoryWorker, HealthWorkerID)
	c.logger.Info().Int("pid", next.PID()).Int("port", spec.Port).Msg("Worker restarted")
	go c.watchWorker(next)
}

// RegisterTasks adds the periodic health check to s.
func (c *Controller) RegisterTasks(s *scheduler.Scheduler, interval time.Duration) error {
	return s.RegisterTask(scheduler.TaskConfig{
		ID:          HealthTaskID,
		Name:        "Worker health",
		Description: "Checks that the worker is running and accepting connections",
		Interval:    interval,
		Func:        c.CheckHealth,
	})
}

// CheckHealth updates the worker and window health items.
func (c *Controller) CheckHealth(ctx context.Context) error {
	c.mu.Lock()
	proc := c.proc
	p := c.port
	surfaceOpen := c.surf != nil
	initialized := c.initialized
	c.mu.Unlock()

	if !initialized || proc == nil {
		return nil
	}

	switch {
	case !proc.Running():
		msg := "Worker exited"
		if err := proc.Err(); err != nil {
			msg = "Worker exited: " + err.Error()
		}
		c.deps.Health.SetError(health.CategoryWorker, HealthWorkerID, msg)
	case !startup.IsListening(fmt.Sprintf("127.0.0.1:%d", p)):
		c.deps.Health.SetWarning(health.CategoryWorker, HealthWorkerID,
			fmt.Sprintf("Worker is not accepting connections on port %d", p))
	default:
		c.deps.Health.ClearStatus(health.CategoryWorker, HealthWorkerID)

		// A worker that came up and serves starts the restart delays over.
		c.mu.Lock()
		if c.proc == proc {
			c.backoff.Reset()
		}
		c.mu.Unlock()
	}

	if !surfaceOpen {
		c.deps.Health.SetWarning(health.CategorySurface, HealthSurfaceID, "No window open")
	}

	return ctx.Err()
}
