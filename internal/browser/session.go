// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser/persona"
	"github.com/xkilldash9x/librus-sync/internal/config"
)

const (
	launchTimeout   = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Session is one controlled Chrome process with a single page living in its
// own isolated browser context. Cookies and storage never leak between sessions.
type Session struct {
	cfg    config.Interface
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	// ctx is the page target context. Every page operation derives from it.
	ctx       context.Context
	cancel    context.CancelFunc
	contextID cdp.BrowserContextID

	harvester *Harvester
	persona   persona.Persona
	product   string

	closeOnce sync.Once
	closeErr  error
}

// Open launches Chrome with the configured launch profile, creates an isolated
// browser context with one page, and installs the persona on it.
func Open(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Session, error) {
	log := logger.Named("browser")
	bcfg := cfg.Browser()

	s := &Session{
		cfg:     cfg,
		logger:  log,
		persona: persona.FromConfig(bcfg, cfg.Network()),
	}

	// The allocator and browser contexts must not inherit ctx's deadline:
	// chromedp kills the process when the context that launched it ends.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(bcfg, "")...)
	s.allocCancel = allocCancel

	browserOpts := []chromedp.ContextOption{}
	if bcfg.Debug {
		browserOpts = append(browserOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	s.browserCtx, s.browserCancel = chromedp.NewContext(allocCtx, browserOpts...)

	success := false
	defer func() {
		if !success {
			s.Close(Detach(ctx))
		}
	}()

	log.Info("Launching browser.", zap.Bool("headless", bcfg.Headless), zap.Stringer("persona", s.persona))
	if err := s.runWithin(ctx, launchTimeout, s.browserCtx, chromedp.ActionFunc(func(c context.Context) error {
		_, product, _, _, _, err := browser.GetVersion().Do(cdp.WithExecutor(c, chromedp.FromContext(c).Browser))
		s.product = product
		return err
	})); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	controller := cdp.WithExecutor(s.browserCtx, chromedp.FromContext(s.browserCtx).Browser)
	contextID, err := target.CreateBrowserContext().Do(controller)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	s.contextID = contextID

	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(contextID).Do(controller)
	if err != nil {
		return nil, fmt.Errorf("failed to create target: %w", err)
	}
	s.ctx, s.cancel = chromedp.NewContext(s.browserCtx, chromedp.WithTargetID(targetID))

	s.harvester = NewHarvester(s.ctx, log, cfg.Output().TracePath != "")
	if err := s.runWithin(ctx, launchTimeout, s.ctx, chromedp.Tasks{
		network.Enable(),
		chromedp.ActionFunc(func(context.Context) error {
			s.harvester.Start()
			return nil
		}),
		s.persona.Apply(log),
	}); err != nil {
		return nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	success = true
	log.Info("Browser session ready.", zap.String("product", s.product), zap.String("browser_context", string(contextID)))
	return s, nil
}

// runWithin runs actions on tctx (whose first Run attaches it) while
// honoring the caller's ctx. The first Run on a chromedp context must use that
// context directly, so cancellation is bridged through a watcher.
func (s *Session) runWithin(ctx context.Context, timeout time.Duration, tctx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tctx, actions...) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("browser did not respond within %s: %w", timeout, ErrNavigationTimeout)
	}
}

// Product is the browser product string reported at launch.
func (s *Session) Product() string { return s.product }

// Close tears the session down: it stops event capture, writes the HAR trace
// if configured, disposes the browser context and terminates Chrome. Safe to
// call more than once; later calls return the first result.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Info("Closing browser session.")

		if s.harvester != nil {
			har := s.harvester.Stop(s.product)
			if path := s.cfg.Output().TracePath; path != "" && har != nil {
				if err := WriteHAR(path, har); err != nil {
					s.logger.Warn("Failed to write network trace.", zap.Error(err))
				} else {
					s.logger.Info("Network trace written.", zap.String("path", path), zap.Int("entries", len(har.Log.Entries)))
				}
			}
		}

		if s.cancel != nil {
			s.cancel()
		}
		if s.contextID != "" && s.browserCtx.Err() == nil {
			disposeCtx, disposeCancel := context.WithTimeout(s.browserCtx, 5*time.Second)
			controller := cdp.WithExecutor(disposeCtx, chromedp.FromContext(s.browserCtx).Browser)
			if err := target.DisposeBrowserContext(s.contextID).Do(controller); err != nil {
				s.logger.Debug("Failed to dispose browser context.", zap.Error(err))
			}
			disposeCancel()
		}

		if s.browserCtx != nil {
			done := make(chan error, 1)
			go func() { done <- chromedp.Cancel(s.browserCtx) }()

			shutdownCtx, shutdownCancel := context.WithTimeout(ctx, shutdownTimeout)
			select {
			case err := <-done:
				if err != nil && !errors.Is(err, context.Canceled) {
					s.closeErr = fmt.Errorf("failed to stop browser: %w", err)
				}
			case <-shutdownCtx.Done():
				s.logger.Warn("Browser shutdown timed out. Proceeding forcefully.", zap.Duration("timeout", shutdownTimeout))
			}
			shutdownCancel()
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		s.logger.Debug("Browser session closed.")
	})
	return s.closeErr
}
