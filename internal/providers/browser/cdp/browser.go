// Package cdp implements browser.Surface on top of a shared Chrome process
// driven through the DevTools protocol.
//
// Every surface is a tab in its own browser context, so cookies, storage
// and cache are partitioned per hosted instance while one Chrome process
// serves them all.
package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
)

// Config controls the shared browser process.
type Config struct {
	ExecPath  string
	Headless  bool
	UserAgent string
	// WindowWidth and WindowHeight size new windows; zero keeps Chrome's default.
	WindowWidth  int
	WindowHeight int
}

// Browser owns the Chrome process and hands out surfaces.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	surfaces map[string]*Surface
	closed   bool
}

var _ browser.Factory = (*Browser)(nil)

// Launch starts Chrome and waits until it accepts commands.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("mute-audio", false),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	sugar := logger.Sugar()
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	// Prime the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start: %w", err)
	}

	logger.Info("Browser process ready", zap.Bool("headless", cfg.Headless))

	return &Browser{
		cfg:         cfg,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      cancel,
		surfaces:    make(map[string]*Surface),
	}, nil
}

// NewSurface opens a tab in a fresh browser context for one instance.
func (b *Browser) NewSurface(ctx context.Context, id, partition string) (browser.Surface, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, browser.ErrSurfaceClosed
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.ctx, chromedp.WithNewBrowserContext())
	s := newSurface(id, partition, tabCtx, tabCancel, b.logger.With(zap.String("instance_id", id)))
	s.onClose = func() {
		b.mu.Lock()
		delete(b.surfaces, id)
		b.mu.Unlock()
	}

	// listen before the target exists so no lifecycle event is missed
	chromedp.ListenTarget(tabCtx, s.handleEvent)

	if err := s.attach(ctx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser: open surface %s: %w", id, err)
	}

	b.mu.Lock()
	b.surfaces[id] = s
	b.mu.Unlock()
	return s, nil
}

// Len reports open surfaces.
func (b *Browser) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.surfaces)
}

// Close closes every surface and stops Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	surfaces := make([]*Surface, 0, len(b.surfaces))
	for _, s := range b.surfaces {
		surfaces = append(surfaces, s)
	}
	b.mu.Unlock()

	for _, s := range surfaces {
		_ = s.Close()
	}
	b.cancel()
	b.allocCancel()
	return nil
}
