package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/projectdesk/projectdesk/internal/api/handlers"
	apimw "github.com/projectdesk/projectdesk/internal/api/middleware"
	"github.com/projectdesk/projectdesk/internal/config"
	"github.com/projectdesk/projectdesk/internal/health"
	"github.com/projectdesk/projectdesk/internal/scheduler"
	"github.com/projectdesk/projectdesk/internal/shell"
	"github.com/projectdesk/projectdesk/internal/websocket"
	"github.com/projectdesk/projectdesk/internal/worker"
)

const defaultOutputLimit = 200

// Shell is the part of the controller the diagnostics server uses.
type Shell interface {
	Status() shell.Status
	Reactivate(ctx context.Context) error
}

// Deps are the services exposed by the diagnostics server. Nil fields
// disable the matching routes.
type Deps struct {
	Shell    Shell
	Health   *health.Service
	Logs     LogsProvider
	Output   *worker.Output
	Tasks    *scheduler.Scheduler
	Hub      *websocket.Hub
	Frontend fs.FS
}

// Server serves the local diagnostics page and its JSON API.
type Server struct {
	echo      *echo.Echo
	deps      Deps
	logger    zerolog.Logger
	startedAt time.Time

	mu  sync.Mutex
	url string
}

// NewServer creates a new diagnostics server.
func NewServer(deps Deps, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		deps:      deps,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimw.LoopbackOnly())
	s.echo.Use(apimw.LocalOrigin())
	s.echo.Use(apimw.SecurityHeaders())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return websocket.IsLoopbackOrigin(origin), nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Request logging. The page polls, so successful requests stay at debug.
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return c.Request().Header.Get("Upgrade") == "websocket"
		},
	}))
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api")

	if s.deps.Shell != nil {
		api.GET("/status", s.getStatus)
		api.POST("/window/open", s.openWindow)
	}
	if s.deps.Health != nil {
		api.GET("/health", s.getHealth)
	}
	if s.deps.Logs != nil {
		NewLogsHandlers(s.deps.Logs).RegisterRoutes(api.Group("/logs"))
	}
	api.GET("/worker/output", s.getWorkerOutput)
	if s.deps.Tasks != nil {
		handlers.NewSchedulerHandler(s.deps.Tasks).RegisterRoutes(api.Group("/tasks"))
	}

	if s.deps.Hub != nil {
		s.echo.GET("/ws", s.deps.Hub.HandleWebSocket)
	}
	if s.deps.Frontend != nil {
		registerFrontendHandler(s.echo, s.deps.Frontend)
	}
}

// Listen binds the server to address and returns the base URL. Port 0
// picks a free port.
func (s *Server) Listen(address string) (string, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.echo.Listener = ln

	url := "http://" + ln.Addr().String() + "/"
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return url, nil
}

// Serve handles requests on the listener opened by Listen. It returns nil
// after Shutdown.
func (s *Server) Serve() error {
	if s.echo.Listener == nil {
		return errors.New("diagnostics server is not listening")
	}
	s.logger.Info().Str("url", s.URL()).Msg("Starting diagnostics server")

	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// URL returns the base URL, or "" before Listen.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down diagnostics server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// --- Handler implementations ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStatus(c echo.Context) error {
	status := s.deps.Shell.Status()

	logFile := ""
	if s.deps.Logs != nil {
		logFile = s.deps.Logs.GetLogFilePath()
	}

	return c.JSON(http.StatusOK, map[string]any{
		"version":   config.Version,
		"buildMode": config.BuildMode,
		"startTime": s.startedAt.Format(time.RFC3339),
		"summary":   status.Summary(),
		"logFile":   logFile,
		"shell":     status,
	})
}

func (s *Server) getHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"items":   s.deps.Health.GetAll(),
		"summary": s.deps.Health.GetSummary(),
	})
}

// getWorkerOutput returns the newest worker output lines.
// GET /api/worker/output?limit=200&stream=stderr
func (s *Server) getWorkerOutput(c echo.Context) error {
	limit := defaultOutputLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	stream := c.QueryParam("stream")
	switch stream {
	case "", worker.StreamStdout, worker.StreamStderr:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "stream must be stdout or stderr")
	}

	lines := []worker.Line{}
	if s.deps.Output != nil {
		for _, l := range s.deps.Output.Lines(-1) {
			if stream == "" || l.Stream == stream {
				lines = append(lines, l)
			}
		}
		if len(lines) > limit {
			lines = lines[len(lines)-limit:]
		}
	}
	return c.JSON(http.StatusOK, lines)
}

// openWindow reopens the application window, like clicking the tray icon.
// POST /api/window/open
func (s *Server) openWindow(c echo.Context) error {
	if err := s.deps.Shell.Reactivate(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"surfaceOpen": s.deps.Shell.Status().SurfaceOpen,
	})
}
