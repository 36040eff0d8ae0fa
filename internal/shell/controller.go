// Package shell couples the lifetime of the application window to the backend
// worker process: it picks a port, starts the worker, opens the window and
// tears the worker down when the last window closes.
package shell

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/health"
	"github.com/projectdesk/projectdesk/internal/port"
	"github.com/projectdesk/projectdesk/internal/startup"
	"github.com/projectdesk/projectdesk/internal/surface"
	"github.com/projectdesk/projectdesk/internal/worker"
)

// Health item IDs.
const (
	HealthWorkerID  = "backend"
	HealthSurfaceID = "window"
)

// Config holds the controller settings derived from the application config.
type Config struct {
	AppPath    string
	Executable string
	Script     string

	DevMode         bool
	DevURL          string
	PackagedIndex   string
	QuitOnAllClosed bool
	Window          surface.Options

	ReadyTimeout  time.Duration
	StopTimeout   time.Duration
	RestartPolicy string
	MaxRestarts   int
}

// ConfigFrom builds a controller Config from the application config.
func ConfigFrom(cfg *config.Config) Config {
	opts := surface.Options{
		Title:            cfg.App.Name,
		Width:            cfg.Window.Width,
		Height:           cfg.Window.Height,
		HostIntegration:  cfg.Window.HostIntegration,
		ContextIsolation: cfg.Window.ContextIsolation,
		DevTools:         cfg.Shell.DevMode && cfg.Shell.OpenDevTools,
	}

	return Config{
		AppPath:         cfg.App.Path,
		Executable:      cfg.Worker.Executable,
		Script:          cfg.Worker.Script,
		DevMode:         cfg.Shell.DevMode,
		DevURL:          cfg.Shell.DevURL,
		PackagedIndex:   cfg.PackagedIndexPath(),
		QuitOnAllClosed: cfg.Shell.QuitOnAllClosed,
		Window:          opts,
		ReadyTimeout:    cfg.Worker.ReadyTimeout,
		StopTimeout:     cfg.Worker.StopTimeout,
		RestartPolicy:   cfg.Worker.RestartPolicy,
		MaxRestarts:     cfg.Worker.MaxRestarts,
	}
}

// Deps are the collaborators the controller drives.
type Deps struct {
	Ports    port.Prober
	Spawner  worker.Spawner
	Surfaces surface.Factory
	// Health defaults to a private service when nil.
	Health *health.Service
	// Output, when set, supplies the stderr tail logged on a worker crash.
	Output *worker.Output
	// Quit asks the host loop to exit.
	Quit func()
}

// Status is a snapshot of the controller state.
type Status struct {
	RunID        string         `json:"runId"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	Initialized  bool           `json:"initialized"`
	Initializing bool           `json:"initializing"`
	ShuttingDown bool           `json:"shuttingDown"`
	DevMode      bool           `json:"devMode"`
	Port         int            `json:"port"`
	WorkerPID    int            `json:"workerPid,omitempty"`
	WorkerState  string         `json:"workerState"`
	WorkerError  string         `json:"workerError,omitempty"`
	Restarts     int            `json:"restarts"`
	SurfaceOpen  bool           `json:"surfaceOpen"`
	Target       surface.Target `json:"target"`
	LastError    string         `json:"lastError,omitempty"`
}

// Summary renders the status on one line.
func (s Status) Summary() string {
	parts := []string{"worker " + strings.ReplaceAll(s.WorkerState, "_", " ")}
	if s.Port > 0 {
		parts = append(parts, fmt.Sprintf("port %d", s.Port))
	}
	if s.SurfaceOpen {
		parts = append(parts, "window open")
	}
	return strings.Join(parts, ", ")
}

// Worker states reported in Status.
const (
	WorkerNotStarted = "not_started"
	WorkerRunning    = "running"
	WorkerExited     = "exited"
)

// Controller owns the worker process and the window. It holds at most one
// of each. All methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	mu           sync.Mutex
	runID        string
	startedAt    *time.Time
	port         int
	spec         worker.Spec
	proc         worker.Process
	surf         surface.Surface
	initialized  bool
	initializing bool
	shuttingDown bool
	restarts     int
	lastErr      error
	backoff      *startup.Backoff

	// lifetime ends at Shutdown and aborts a pending Initialize or restart.
	lifetime context.Context
	cancel   context.CancelFunc
}

// New creates a controller.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Controller {
	if deps.Health == nil {
		deps.Health = health.NewService(logger)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With().Str("component", "shell").Logger(),
		backoff:  startup.NewBackoff(startup.DefaultRetryConfig()),
		lifetime: ctx,
		cancel:   cancel,
	}

	deps.Health.RegisterItem(health.CategoryWorker, HealthWorkerID, "Backend worker")
	deps.Health.RegisterItem(health.CategorySurface, HealthSurfaceID, "Application window")
	return c
}

// Health returns the health service the controller reports to.
func (c *Controller) Health() *health.Service {
	return c.deps.Health
}

// Target returns what the window loads for the configured mode.
func (c *Controller) Target() surface.Target {
	if c.cfg.DevMode {
		return surface.URLTarget(c.cfg.DevURL)
	}
	return surface.FileTarget(c.cfg.PackagedIndex)
}

// Initialize starts the worker on a free port and opens the window. Any
// failure after the worker was spawned stops it again before returning.
// The slow steps run without holding the lock, so Status stays available
// and Shutdown cuts a pending ready wait short.
func (c *Controller) Initialize(ctx context.Context) error {
	const op = "initialize"

	c.mu.Lock()
	if c.initialized || c.initializing || c.surf != nil {
		c.mu.Unlock()
		return newError(op, KindAlreadyInitialized, nil)
	}
	if c.shuttingDown {
		c.mu.Unlock()
		return newError(op, KindNotInitialized, ErrShuttingDown)
	}
	c.initializing = true
	c.runID = uuid.NewString()
	log := c.logger.With().Str("runId", c.runID).Logger()
	runID := c.runID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()

	p, err := c.deps.Ports.FindAvailablePort(ctx)
	if err != nil {
		return c.fail(op, KindPortUnavailable, err)
	}

	exe, script, err := worker.ResolvePaths(c.cfg.AppPath, c.cfg.Executable, c.cfg.Script)
	if err != nil {
		return c.fail(op, KindWorkerNotFound, err)
	}

	spec := worker.Spec{
		Executable: exe,
		Script:     script,
		Port:       p,
		Env:        []string{config.EnvPrefix + "_RUN_ID=" + runID},
	}

	proc, err := c.deps.Spawner.Spawn(ctx, spec)
	if err != nil {
		return c.fail(op, KindSpawnFailed, err)
	}

	// Published before the ready wait so Shutdown can stop it.
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		c.stopWorker(proc)
		return newError(op, KindNotInitialized, ErrShuttingDown)
	}
	c.port = p
	c.spec = spec
	c.proc = proc
	c.mu.Unlock()

	log.Info().Int("port", p).Int("pid", proc.PID()).Msg("Worker spawned")

	if c.cfg.ReadyTimeout > 0 {
		if err := c.waitReady(ctx, proc, p); err != nil {
			return c.abort(op, KindWorkerNotReady, proc, err)
		}
	}

	s, err := c.createSurface(ctx, p)
	if err != nil {
		return c.abort(op, KindSurfaceFailed, proc, err)
	}

	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		_ = s.Close()
		return newError(op, KindNotInitialized, ErrShuttingDown)
	}
	c.attachSurface(s)
	now := time.Now()
	c.startedAt = &now
	c.initialized = true
	c.lastErr = nil
	c.deps.Health.ClearStatus(health.CategoryWorker, HealthWorkerID)
	c.mu.Unlock()

	go c.watchWorker(proc)

	log.Info().
		Bool("devMode", c.cfg.DevMode).
		Str("target", c.Target().String()).
		Msg("Shell initialized")
	return nil
}

// fail records an Initialize failure for Status and the worker health item.
// Once shutdown has begun the failure is reported as ErrShuttingDown.
func (c *Controller) fail(op string, kind Kind, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown {
		return newError(op, KindNotInitialized, ErrShuttingDown)
	}
	e := newError(op, kind, err)
	c.lastErr = e
	c.deps.Health.SetError(health.CategoryWorker, HealthWorkerID, kind.String()+": "+err.Error())
	return e
}

// abort stops a worker spawned by a failed Initialize. After Shutdown the
// worker is left to Shutdown.
func (c *Controller) abort(op string, kind Kind, proc worker.Process, err error) error {
	c.mu.Lock()
	if c.shuttingDown {
		c.mu.Unlock()
		return newError(op, KindNotInitialized, ErrShuttingDown)
	}
	c.proc = nil
	c.mu.Unlock()

	c.stopWorker(proc)
	if kind == KindSurfaceFailed {
		c.deps.Health.SetError(health.CategorySurface, HealthSurfaceID, err.Error())
	}
	return c.fail(op, kind, err)
}

// waitReady blocks until the worker accepts connections, it exits, or the
// ready timeout passes.
func (c *Controller) waitReady(ctx context.Context, proc worker.Process, p int) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout)
	defer cancel()

	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	addr := fmt.Sprintf("127.0.0.1:%d", p)
	err := startup.WaitForPort(ctx, addr, startup.PollConfig(), &c.logger)
	if err != nil && !proc.Running() {
		return fmt.Errorf("worker exited before listening on %s: %w", addr, errors.Join(proc.Err(), err))
	}
	return err
}

// createSurface creates the window and loads the target into it.
func (c *Controller) createSurface(ctx context.Context, backendPort int) (surface.Surface, error) {
	opts := c.cfg.Window
	opts.BackendPort = backendPort
	opts.OnQuit = c.requestQuit

	s, err := c.deps.Surfaces.Create(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create window: %w", err)
	}

	if err := s.Load(c.Target()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// attachSurface makes s the current window. Caller holds mu.
func (c *Controller) attachSurface(s surface.Surface) {
	c.surf = s
	c.deps.Health.ClearStatus(health.CategorySurface, HealthSurfaceID)
	go c.watchSurface(s)
}

// watchSurface clears the reference once the window closes.
func (c *Controller) watchSurface(s surface.Surface) {
	<-s.Done()

	c.mu.Lock()
	if c.surf != s {
		c.mu.Unlock()
		return
	}
	c.surf = nil
	shuttingDown := c.shuttingDown
	c.mu.Unlock()

	if shuttingDown {
		return
	}

	c.logger.Info().Msg("Window closed")
	c.deps.Health.SetWarning(health.CategorySurface, HealthSurfaceID, "No window open")
	c.OnAllClosed()
}

// OnAllClosed handles the last window closing. With quit-on-all-closed the
// worker is stopped and then the host is asked to quit; otherwise the worker
// keeps running until the window is reactivated.
func (c *Controller) OnAllClosed() {
	c.mu.Lock()
	if !c.cfg.QuitOnAllClosed || c.shuttingDown || c.surf != nil {
		c.mu.Unlock()
		return
	}
	c.shuttingDown = true
	c.cancel()
	proc := c.proc
	c.mu.Unlock()

	c.logger.Info().Msg("All windows closed, quitting")

	if proc != nil {
		c.stopWorker(proc)
	}
	if c.deps.Quit != nil {
		c.deps.Quit()
	}
}

// Reactivate reopens the window when none is open. The worker is never
// respawned and the port is kept.
func (c *Controller) Reactivate(ctx context.Context) error {
	const op = "reactivate"

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return newError(op, KindNotInitialized, nil)
	}
	if c.shuttingDown || c.surf != nil {
		return nil
	}

	if c.proc == nil || !c.proc.Running() {
		c.logger.Warn().Int("port", c.port).Msg("Reopening window while the worker is not running")
		c.deps.Health.SetError(health.CategoryWorker, HealthWorkerID, "Worker is not running")
	}

	s, err := c.createSurface(ctx, c.port)
	if err != nil {
		return newError(op, KindSurfaceFailed, err)
	}
	c.attachSurface(s)

	c.logger.Info().Msg("Window reopened")
	return nil
}

// Shutdown closes the window and stops the worker. It is safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.shuttingDown = true
	c.cancel()
	surf := c.surf
	c.surf = nil
	proc := c.proc
	c.mu.Unlock()

	var errs []error
	if surf != nil {
		if err := surf.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close window: %w", err))
		}
	}
	if proc != nil && proc.Running() {
		c.logger.Info().Int("pid", proc.PID()).Msg("Stopping worker")
		stopCtx, cancel := context.WithTimeout(ctx, c.cfg.StopTimeout)
		defer cancel()
		if err := proc.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop worker: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		RunID:        c.runID,
		StartedAt:    c.startedAt,
		Initialized:  c.initialized,
		Initializing: c.initializing,
		ShuttingDown: c.shuttingDown,
		DevMode:      c.cfg.DevMode,
		Port:         c.port,
		WorkerState:  WorkerNotStarted,
		Restarts:     c.restarts,
		SurfaceOpen:  c.surf != nil,
		Target:       c.Target(),
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}

	if c.proc != nil {
		st.WorkerPID = c.proc.PID()
		st.WorkerState = WorkerRunning
		if !c.proc.Running() {
			st.WorkerState = WorkerExited
			if err := c.proc.Err(); err != nil {
				st.WorkerError = err.Error()
			}
		}
	}
	return st
}

// requestQuit is bound into the page so the frontend can quit the application.
func (c *Controller) requestQuit() {
	c.logger.Info().Msg("Quit requested by window")
	if c.deps.Quit != nil {
		go c.deps.Quit()
	}
}

func (c *Controller) stopWorker(proc worker.Process) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()

	if err := proc.Stop(ctx); err != nil {
		c.logger.Error().Err(err).Int("pid", proc.PID()).Msg("Failed to stop worker")
	}
}
