// internal/probe/reachability.go
package probe

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reachability is the result of one unauthenticated connectivity check.
type Reachability struct {
	URL string `json:"url"`
	// Reachable means an HTTP response arrived, whatever its status.
	Reachable bool          `json:"reachable"`
	Status    int           `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// OK reports whether the host answered without a client or server error.
func (r Reachability) OK() bool {
	return r.Reachable && r.Status < 400
}

// CheckReachability fetches each URL once. Hosts that block cloud address
// ranges typically show up here as resets or 403s before any login attempt.
func (p *Prober) CheckReachability(ctx context.Context, urls []string) []Reachability {
	out := make([]Reachability, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			out[i] = p.reach(gctx, u)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Prober) reach(ctx context.Context, url string) Reachability {
	r := Reachability{URL: url}
	start := time.Now()
	defer func() { r.Duration = time.Since(start) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	resp, err := p.client.Do(req)
	if err != nil {
		r.Error = err.Error()
		p.logger.Warn("Host unreachable.", zap.String("url", url), zap.Error(err))
		return r
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()

	r.Reachable = true
	r.Status = resp.StatusCode
	p.logger.Info("Host reachable.", zap.String("url", url), zap.Int("status", r.Status))
	return r
}
