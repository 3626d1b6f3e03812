// internal/browser/navigation.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/librus-sync/internal/selector"
)

// ErrNavigationTimeout is returned when a page does not reach its settle
// condition before the deadline.
var ErrNavigationTimeout = errors.New("navigation timed out")

// Settle is the condition a navigation waits for before it counts as complete.
type Settle string

const (
	// SettleDOMReady completes once the document has loaded.
	SettleDOMReady Settle = "domready"
	// SettleNetworkIdle additionally waits until no request has been in
	// flight for the configured quiet period.
	SettleNetworkIdle Settle = "networkidle"
)

// ParseSettle maps a config value to a Settle. Empty means network idle.
func ParseSettle(s string) (Settle, error) {
	switch Settle(s) {
	case "", SettleNetworkIdle:
		return SettleNetworkIdle, nil
	case SettleDOMReady:
		return SettleDOMReady, nil
	}
	return "", fmt.Errorf("unknown settle condition %q", s)
}

// NavResult describes the document a navigation ended on.
type NavResult struct {
	URL     string
	Status  int64
	Elapsed time.Duration
}

// opContext derives an operation context from the page context that also
// follows the caller's cancellation and the given timeout.
func (s *Session) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := CombineContext(s.ctx, ctx)
	if timeout <= 0 {
		return combined, cancelCombined
	}
	opCtx, cancelTimeout := context.WithTimeout(combined, timeout)
	return opCtx, func() {
		cancelTimeout()
		cancelCombined()
	}
}

// Navigate loads url and waits for settle within timeout.
func (s *Session) Navigate(ctx context.Context, url string, settle Settle, timeout time.Duration) (NavResult, error) {
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	s.logger.Info("Navigating.", zap.String("url", url), zap.String("settle", string(settle)))
	start := time.Now()

	resp, err := chromedp.RunResponse(opCtx, chromedp.Navigate(url))
	if err != nil {
		return NavResult{URL: url, Elapsed: time.Since(start)}, s.navError(ctx, opCtx, url, err)
	}
	if err := s.settle(opCtx, settle); err != nil {
		return NavResult{URL: url, Elapsed: time.Since(start)}, s.navError(ctx, opCtx, url, err)
	}

	res := NavResult{Elapsed: time.Since(start)}
	res.Status, res.URL = s.harvester.LastDocument()
	if resp != nil {
		res.Status = resp.Status
	}
	if current, err := s.URL(ctx); err == nil && current != "" {
		res.URL = current
	}
	s.logger.Debug("Navigation settled.", zap.String("url", res.URL), zap.Int64("status", res.Status), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

// ClickAndWait clicks the element behind h and waits for the main-frame
// navigation it triggers to reach settle. The navigation waiter is armed
// before the click so a fast redirect cannot be missed.
func (s *Session) ClickAndWait(ctx context.Context, h selector.Handle, settle Settle, timeout time.Duration) (NavResult, error) {
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()

	s.logger.Info("Clicking and waiting for navigation.", zap.String("role", string(h.Role)), zap.Stringer("matcher", h.Matcher))
	start := time.Now()
	navigated := s.harvester.ExpectNavigation()

	g, gctx := errgroup.WithContext(opCtx)
	g.Go(func() error {
		if err := chromedp.Run(gctx, chromedp.Click(h.Selector(), chromedp.ByQuery)); err != nil {
			return fmt.Errorf("click %s: %w", h.Role, err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-navigated:
		case <-gctx.Done():
			return gctx.Err()
		}
		if err := chromedp.Run(gctx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			return err
		}
		return s.settle(gctx, settle)
	})

	if err := g.Wait(); err != nil {
		return NavResult{Elapsed: time.Since(start)}, s.navError(ctx, opCtx, "", err)
	}

	res := NavResult{Elapsed: time.Since(start)}
	res.Status, res.URL = s.harvester.LastDocument()
	if current, err := s.URL(ctx); err == nil && current != "" {
		res.URL = current
	}
	return res, nil
}

// WaitNetworkIdle waits up to timeout for the network to go quiet.
func (s *Session) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error {
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()
	if err := s.harvester.WaitNetworkIdle(opCtx, s.cfg.Network().IdleQuietPeriod); err != nil {
		return s.navError(ctx, opCtx, "", err)
	}
	return nil
}

func (s *Session) settle(ctx context.Context, settle Settle) error {
	if settle != SettleNetworkIdle {
		return nil
	}
	return s.harvester.WaitNetworkIdle(ctx, s.cfg.Network().IdleQuietPeriod)
}

// navError maps an operation failure onto ErrNavigationTimeout when the
// operation deadline (not the caller) ended it.
func (s *Session) navError(parent, opCtx context.Context, url string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if url != "" {
			return fmt.Errorf("%s: %w", url, ErrNavigationTimeout)
		}
		return ErrNavigationTimeout
	}
	return err
}
