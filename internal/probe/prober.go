// internal/probe/prober.go
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/network"
)

// ErrNoToken is returned when endpoint probes are requested without a bearer token.
var ErrNoToken = errors.New("no bearer token to probe with")

const maxBodySize = 8 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the outcome of one authenticated GET against a downstream endpoint.
type Result struct {
	Endpoint string        `json:"endpoint"`
	URL      string        `json:"url"`
	Status   int           `json:"status,omitempty"`
	OK       bool          `json:"ok"`
	Items    *int          `json:"items,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Prober issues rate-limited, bounded-concurrency requests against the
// portal's JSON API.
type Prober struct {
	client      *http.Client
	baseURL     string
	endpoints   []string
	concurrency int
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// New builds a Prober on the shared HTTP client stack.
func New(cfg config.Interface, logger *zap.Logger) *Prober {
	clientCfg := network.ClientConfigFor(cfg.Probes(), cfg.Browser())
	clientCfg.Logger = logger.Named("httpclient")
	return NewWithClient(network.NewClient(clientCfg).Client, cfg.Probes(), logger)
}

// NewWithClient builds a Prober on an existing client.
func NewWithClient(client *http.Client, p config.ProbesConfig, logger *zap.Logger) *Prober {
	limit := rate.Inf
	if p.RateLimit > 0 {
		limit = rate.Limit(p.RateLimit)
	}
	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Prober{
		client:      client,
		baseURL:     strings.TrimRight(p.BaseURL, "/"),
		endpoints:   p.Endpoints,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger.Named("probe"),
	}
}

// Run probes every configured endpoint with token. Individual failures are
// reported in the results, which keep the configured endpoint order.
func (p *Prober) Run(ctx context.Context, token string) ([]Result, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	results := make([]Result, len(p.endpoints))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, endpoint := range p.endpoints {
		i, endpoint := i, endpoint
		g.Go(func() error {
			results[i] = p.probe(ctx, endpoint, token)
			return nil
		})
	}
	_ = g.Wait()

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	p.logger.Info("Endpoint probes finished.", zap.Int("endpoints", len(results)), zap.Int("ok", ok))
	return results, nil
}

func (p *Prober) probe(ctx context.Context, endpoint, token string) Result {
	res := Result{Endpoint: endpoint, URL: p.baseURL + "/" + strings.TrimLeft(endpoint, "/")}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := p.limiter.Wait(ctx); err != nil {
		res.Error = err.Error()
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.URL, nil)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		res.Error = err.Error()
		p.logger.Warn("Probe request failed.", zap.String("endpoint", endpoint), zap.Error(err))
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 300
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		res.Error = fmt.Sprintf("read body: %v", err)
		return res
	}
	if res.OK {
		if n, ok := countItems(endpoint, body); ok {
			res.Items = &n
		}
	}
	p.logger.Debug("Probe answered.", zap.String("endpoint", endpoint), zap.Int("status", res.Status), zap.Bool("ok", res.OK))
	return res
}

// countItems counts the records in an API response: the array stored under
// the endpoint's own name, or else the first array-valued key in name order.
// Singular keys (Timetables answers with "Timetable") count as one record
// when they hold an object.
func countItems(endpoint string, body []byte) (int, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return 0, false
	}
	name := endpoint
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	for _, key := range []string{name, strings.TrimSuffix(name, "s")} {
		switch v := doc[key].(type) {
		case []interface{}:
			return len(v), true
		case map[string]interface{}:
			return 1, true
		}
	}

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if arr, ok := doc[k].([]interface{}); ok {
			return len(arr), true
		}
	}
	return 0, false
}
