package surface

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Opener opens a URL in the system browser.
type Opener interface {
	OpenBrowser(url string) error
}

// BrowserFactory shows the frontend in the system browser. The host cannot
// observe the tab, so its surfaces only finish when closed explicitly.
type BrowserFactory struct {
	opener Opener
}

// NewBrowserFactory creates a factory that opens targets with opener.
func NewBrowserFactory(opener Opener) *BrowserFactory {
	return &BrowserFactory{opener: opener}
}

func (f *BrowserFactory) Create(ctx context.Context, _ Options) (Surface, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &browserSurface{opener: f.opener, done: make(chan struct{})}, nil
}

type browserSurface struct {
	opener Opener
	done   chan struct{}
	once   sync.Once
}

func (s *browserSurface) Load(target Target) error {
	if err := s.opener.OpenBrowser(target.String()); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}

func (s *browserSurface) Done() <-chan struct{} {
	return s.done
}

func (s *browserSurface) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// FallbackFactory tries Primary and uses Secondary when it fails.
type FallbackFactory struct {
	Primary   Factory
	Secondary Factory
	Logger    zerolog.Logger
}

func (f *FallbackFactory) Create(ctx context.Context, opts Options) (Surface, error) {
	s, err := f.Primary.Create(ctx, opts)
	if err == nil {
		return s, nil
	}
	if ctx.Err() != nil || f.Secondary == nil {
		return nil, err
	}

	f.Logger.Warn().Err(err).Msg("Failed to open window, falling back to the system browser")
	return f.Secondary.Create(ctx, opts)
}
