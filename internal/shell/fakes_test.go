package shell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/surface"
	"github.com/projectdesk/projectdesk/internal/worker"
)

// recorder collects ordered lifecycle events across fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeProcess struct {
	pid  int
	rec  *recorder
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakeProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Stop(context.Context) error {
	if p.Running() {
		p.rec.add("stop")
	}
	p.exit(nil)
	return nil
}

// exit simulates the process ending on its own.
func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	})
}

type fakeSpawner struct {
	rec *recorder
	err error

	mu    sync.Mutex
	specs []worker.Spec
	procs []*fakeProcess
}

func (s *fakeSpawner) Spawn(_ context.Context, spec worker.Spec) (worker.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.rec.add("spawn")
	p := &fakeProcess{pid: 1000 + len(s.procs), rec: s.rec, done: make(chan struct{})}
	s.specs = append(s.specs, spec)
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type fakeSurface struct {
	rec    *recorder
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	loaded []surface.Target
}

func (s *fakeSurface) Load(t surface.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = append(s.loaded, t)
	return nil
}

func (s *fakeSurface) Done() <-chan struct{} { return s.done }

func (s *fakeSurface) Close() error {
	s.once.Do(func() {
		s.rec.add("close")
		close(s.done)
	})
	return nil
}

func (s *fakeSurface) targets() []surface.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]surface.Target(nil), s.loaded...)
}

type fakeFactory struct {
	rec *recorder
	err error

	mu       sync.Mutex
	opts     []surface.Options
	surfaces []*fakeSurface
}

func (f *fakeFactory) Create(_ context.Context, opts surface.Options) (surface.Surface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.rec.add("window")
	s := &fakeSurface{rec: f.rec, done: make(chan struct{})}
	f.opts = append(f.opts, opts)
	f.surfaces = append(f.surfaces, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.surfaces)
}

func (f *fakeFactory) last() *fakeSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.surfaces[len(f.surfaces)-1]
}

type failingProber struct{}

func (failingProber) FindAvailablePort(context.Context) (int, error) {
	return 0, errors.New("no available port in range 8000-8000")
}

// installApp lays out the worker files under a temporary app path.
func installApp(t *testing.T) string {
	t.Helper()
	app := t.TempDir()
	for _, rel := range []string{worker.DefaultExecutable(), worker.DefaultScript()} {
		p := filepath.Join(app, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o755))
	}
	return app
}
