package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/projectdesk/projectdesk/internal/api"
	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/health"
	"github.com/projectdesk/projectdesk/internal/logger"
	"github.com/projectdesk/projectdesk/internal/platform"
	"github.com/projectdesk/projectdesk/internal/port"
	"github.com/projectdesk/projectdesk/internal/scheduler"
	"github.com/projectdesk/projectdesk/internal/shell"
	"github.com/projectdesk/projectdesk/internal/surface"
	"github.com/projectdesk/projectdesk/internal/websocket"
	"github.com/projectdesk/projectdesk/internal/worker"
	"github.com/projectdesk/projectdesk/web"
)

// workerHost is probed for free ports. Empty means all interfaces, the
// same check the backend's own bind will face.
const workerHost = ""

// openerFunc adapts a function to surface.Opener.
type openerFunc func(url string) error

func (f openerFunc) OpenBrowser(url string) error { return f(url) }

func run(cmd *cobra.Command, opts *rootOptions) error {
	bootstrapLog("=== ProjectDesk starting ===")
	bootstrapLog(fmt.Sprintf("OS: %s, Arch: %s, Version: %s", runtime.GOOS, runtime.GOARCH, config.Version))
	bootstrapLog(fmt.Sprintf("Executable: %s", os.Args[0]))

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	bootstrapLog(fmt.Sprintf("Config loaded: devMode=%v, appPath=%s, logPath=%s",
		cfg.Shell.DevMode, cfg.App.Path, cfg.Logging.Path))

	log := logger.New(logger.Config{
		Level:           cfg.Logging.Level,
		DevMode:         cfg.Shell.DevMode,
		Format:          cfg.Logging.Format,
		Path:            cfg.Logging.Path,
		MaxSizeMB:       cfg.Logging.MaxSizeMB,
		MaxBackups:      cfg.Logging.MaxBackups,
		MaxAgeDays:      cfg.Logging.MaxAgeDays,
		Compress:        cfg.Logging.Compress,
		EnableStreaming: cfg.Diagnostics.Enabled,
		BufferSize:      1000,
	})
	defer log.Close()
	clog := log.WithComponent("cli")

	clog.Info().
		Str("version", config.Version).
		Str("buildMode", config.BuildMode).
		Bool("devMode", cfg.Shell.DevMode).
		Str("appPath", cfg.App.Path).
		Msg("Starting ProjectDesk")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	hub := websocket.NewHub()
	go hub.Run(ctx)
	log.SetBroadcastHub(hub)

	healthSvc := health.NewService(log.Logger)
	healthSvc.SetBroadcaster(hub)

	output := worker.NewOutput(cfg.Worker.OutputBuffer)

	// The host app is created last because its callbacks drive the
	// controller; the controller reaches it through these closures.
	var app platform.App
	quit := func() { app.Stop() }
	openBrowser := openerFunc(func(url string) error { return app.OpenBrowser(url) })

	ctrl := shell.New(shell.ConfigFrom(cfg), shell.Deps{
		Ports:    port.NewScanner(workerHost, cfg.Worker.PortStart, cfg.Worker.PortEnd),
		Spawner:  worker.NewExecSpawner(log.Logger, output),
		Surfaces: newSurfaceFactory(cfg, openBrowser, log.Logger),
		Health:   healthSvc,
		Output:   output,
		Quit:     quit,
	}, log.Logger)

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}
	if cfg.Diagnostics.HealthInterval > 0 {
		if err := ctrl.RegisterTasks(sched, cfg.Diagnostics.HealthInterval); err != nil {
			return err
		}
	}
	sched.Start()

	diag := startDiagnostics(cfg, api.Deps{
		Shell:  ctrl,
		Health: healthSvc,
		Logs:   log,
		Output: output,
		Tasks:  sched,
		Hub:    hub,
	}, log.Logger)

	var (
		initMu  sync.Mutex
		initErr error
	)

	shutdown := sync.OnceFunc(func() {
		sctx, scancel := context.WithTimeout(context.Background(), cfg.Worker.StopTimeout+5*time.Second)
		defer scancel()

		if err := ctrl.Shutdown(sctx); err != nil {
			clog.Error().Err(err).Msg("Shell shutdown error")
		}
		if err := sched.Stop(); err != nil {
			clog.Warn().Err(err).Msg("Scheduler shutdown error")
		}
		if diag != nil {
			if err := diag.Shutdown(sctx); err != nil {
				clog.Warn().Err(err).Msg("Diagnostics server shutdown error")
			}
		}
		cancel()
	})

	app = platform.NewApp(platform.AppConfig{
		Name:   cfg.App.Name,
		NoTray: opts.noTray,
		OnReady: func() {
			bootstrapLog("Host loop ready, initializing shell")
			err := ctrl.Initialize(ctx)
			if err == nil || errors.Is(err, shell.ErrShuttingDown) {
				return
			}

			initMu.Lock()
			initErr = err
			initMu.Unlock()

			bootstrapLog(fmt.Sprintf("Initialize failed: %v", err))
			clog.Error().Err(err).Str("kind", shell.KindOf(err).String()).Msg("Failed to start")

			// Keep running so the user can read the error on the diagnostics page.
			if diag != nil {
				if err := app.OpenBrowser(diag.URL()); err == nil {
					return
				}
			}
			app.Stop()
		},
		OnActivate: func() {
			if err := ctrl.Reactivate(ctx); err != nil {
				clog.Warn().Err(err).Msg("Failed to reopen window")
			}
		},
		OnQuit: func() {
			bootstrapLog("Quit requested")
			shutdown()
		},
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			bootstrapLog("Received shutdown signal")
			clog.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			app.Stop()
		case <-ctx.Done():
		}
	}()

	bootstrapLog("Entering host loop")
	if err := app.Run(); err != nil {
		clog.Error().Err(err).Msg("Platform app error")
	}
	shutdown()
	clog.Info().Msg("ProjectDesk stopped")

	initMu.Lock()
	defer initMu.Unlock()
	return initErr
}

// newSurfaceFactory returns the Chrome app-mode window factory, falling
// back to the system browser when enabled.
func newSurfaceFactory(cfg *config.Config, opener surface.Opener, log zerolog.Logger) surface.Factory {
	primary := surface.NewLorcaFactory(log)
	if !cfg.Window.BrowserFallback {
		return primary
	}
	return &surface.FallbackFactory{
		Primary:   primary,
		Secondary: surface.NewBrowserFactory(opener),
		Logger:    log,
	}
}

// startDiagnostics starts the loopback diagnostics server, or returns nil
// when it is disabled or cannot listen.
func startDiagnostics(cfg *config.Config, deps api.Deps, log zerolog.Logger) *api.Server {
	if !cfg.Diagnostics.Enabled {
		return nil
	}

	if distFS, err := web.DistFS(); err == nil {
		deps.Frontend = distFS
	} else {
		log.Warn().Err(err).Msg("Diagnostics page unavailable")
	}

	server := api.NewServer(deps, log)
	url, err := server.Listen(cfg.Diagnostics.Address())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to start diagnostics server")
		return nil
	}
	bootstrapLog(fmt.Sprintf("Diagnostics server: %s", url))

	go func() {
		if err := server.Serve(); err != nil {
			log.Error().Err(err).Msg("Diagnostics server stopped")
		}
	}()
	return server
}
