package surface

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zserge/lorca"
)

// Names of the functions bound into the page when host integration is on.
const (
	BindQuit        = "projectdeskQuit"
	BindBackendPort = "projectdeskBackendPort"
)

// chromeWindow is the subset of lorca.UI the surface uses.
type chromeWindow interface {
	Load(url string) error
	Bind(name string, f interface{}) error
	Eval(js string) lorca.Value
	Done() <-chan struct{}
	Close() error
}

type launchFunc func(width, height int, args []string) (chromeWindow, error)

func launchLorca(width, height int, args []string) (chromeWindow, error) {
	return lorca.New("", "", width, height, args...)
}

// LorcaFactory opens Chrome app windows through lorca.
type LorcaFactory struct {
	logger zerolog.Logger
	locate func() string
	launch launchFunc
}

// NewLorcaFactory creates a factory using the locally installed Chrome or Chromium.
func NewLorcaFactory(logger zerolog.Logger) *LorcaFactory {
	return &LorcaFactory{
		logger: logger.With().Str("component", "surface").Logger(),
		locate: lorca.LocateChrome,
		launch: launchLorca,
	}
}

// Create opens a blank window. Returns ErrUnavailable when no browser engine is installed.
func (f *LorcaFactory) Create(ctx context.Context, opts Options) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.locate() == "" {
		return nil, fmt.Errorf("%w: chrome not found", ErrUnavailable)
	}

	win, err := f.launch(opts.Width, opts.Height, chromeArgs(opts))
	if err != nil {
		return nil, fmt.Errorf("launch window: %w", err)
	}

	s := &lorcaSurface{win: win, title: opts.Title, logger: f.logger}

	if opts.HostIntegration {
		if err := s.bindHost(opts); err != nil {
			_ = win.Close()
			return nil, err
		}
	}

	f.logger.Debug().
		Int("width", opts.Width).
		Int("height", opts.Height).
		Bool("hostIntegration", opts.HostIntegration).
		Bool("contextIsolation", opts.ContextIsolation).
		Msg("Window opened")

	return s, nil
}

// chromeArgs maps window options onto Chrome command-line switches.
func chromeArgs(opts Options) []string {
	var args []string
	if !opts.ContextIsolation {
		args = append(args,
			"--disable-site-isolation-trials",
			"--disable-features=IsolateOrigins,site-per-process",
		)
	}
	if opts.DevTools {
		args = append(args, "--auto-open-devtools-for-tabs")
	}
	return args
}

type lorcaSurface struct {
	win    chromeWindow
	title  string
	logger zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *lorcaSurface) bindHost(opts Options) error {
	onQuit := opts.OnQuit
	if err := s.win.Bind(BindQuit, func() {
		if onQuit != nil {
			onQuit()
			return
		}
		_ = s.Close()
	}); err != nil {
		return fmt.Errorf("bind %s: %w", BindQuit, err)
	}

	port := opts.BackendPort
	if err := s.win.Bind(BindBackendPort, func() int { return port }); err != nil {
		return fmt.Errorf("bind %s: %w", BindBackendPort, err)
	}
	return nil
}

func (s *lorcaSurface) Load(target Target) error {
	u := target.String()
	if err := s.win.Load(u); err != nil {
		return fmt.Errorf("load %s: %w", u, err)
	}
	if s.title != "" {
		s.win.Eval("if (!document.title) document.title = " + strconv.Quote(s.title))
	}
	s.logger.Info().Str("url", u).Msg("Window loaded")
	return nil
}

func (s *lorcaSurface) Done() <-chan struct{} {
	return s.win.Done()
}

func (s *lorcaSurface) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.win.Close()
	})
	return s.closeErr
}
