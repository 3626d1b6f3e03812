// internal/browser/harvester.go
package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const networkIdleCheckFrequency = 100 * time.Millisecond

// requestState holds one request throughout its lifecycle.
type requestState struct {
	request       *network.Request
	resourceType  string
	start         time.Time
	end           time.Time
	response      *network.Response
	encodedLength float64
	errText       string
}

// Harvester listens to CDP network and page events for a single target. It
// tracks in-flight requests for network-idle detection, the main frame's
// latest document response, main-frame navigations, and optionally a HAR log.
type Harvester struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	record bool

	mu        sync.Mutex
	inflight  map[network.RequestID]struct{}
	requests  map[network.RequestID]*requestState
	completed []*requestState
	mainFrame cdp.FrameID
	docStatus int64
	docURL    string
	waiters   []chan struct{}
}

// NewHarvester creates a harvester bound to the session context. When record
// is true, request/response metadata is kept for HAR export.
func NewHarvester(sessionCtx context.Context, logger *zap.Logger, record bool) *Harvester {
	hCtx, hCancel := context.WithCancel(sessionCtx)
	return &Harvester{
		ctx:      hCtx,
		cancel:   hCancel,
		logger:   logger.Named("harvester"),
		record:   record,
		inflight: make(map[network.RequestID]struct{}),
		requests: make(map[network.RequestID]*requestState),
	}
}

// Start attaches the event listener to the session target.
func (h *Harvester) Start() {
	chromedp.ListenTarget(h.ctx, h.handleEvent)
}

// Stop detaches the harvester and returns the recorded HAR (nil when not recording).
func (h *Harvester) Stop(version string) *HAR {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, w := range h.waiters {
		close(w)
	}
	h.waiters = nil

	if !h.record {
		return nil
	}
	states := append([]*requestState(nil), h.completed...)
	for _, st := range h.requests {
		states = append(states, st)
	}
	return buildHAR(states, version)
}

func (h *Harvester) handleEvent(ev interface{}) {
	select {
	case <-h.ctx.Done():
		return
	default:
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.handleRequestWillBeSent(e)
	case *network.EventResponseReceived:
		h.handleResponseReceived(e)
	case *network.EventLoadingFinished:
		h.finish(e.RequestID, e.EncodedDataLength, "")
	case *network.EventLoadingFailed:
		h.finish(e.RequestID, 0, e.ErrorText)
	case *page.EventFrameNavigated:
		h.handleFrameNavigated(e)
	}
}

func (h *Harvester) handleRequestWillBeSent(e *network.EventRequestWillBeSent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.inflight[e.RequestID] = struct{}{}
	if !h.record {
		return
	}

	start := time.Now()
	if e.WallTime != nil {
		start = e.WallTime.Time()
	}

	// A redirect reuses the request ID; close out the previous hop first.
	if prev, ok := h.requests[e.RequestID]; ok && e.RedirectResponse != nil {
		prev.response = e.RedirectResponse
		prev.end = start
		h.completed = append(h.completed, prev)
	}
	h.requests[e.RequestID] = &requestState{
		request:      e.Request,
		resourceType: string(e.Type),
		start:        start,
	}
}

func (h *Harvester) handleResponseReceived(e *network.EventResponseReceived) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e.Type == network.ResourceTypeDocument && e.Response != nil &&
		(h.mainFrame == "" || e.FrameID == h.mainFrame) {
		h.docStatus = e.Response.Status
		h.docURL = e.Response.URL
	}
	if st, ok := h.requests[e.RequestID]; ok {
		st.response = e.Response
	}
}

func (h *Harvester) finish(id network.RequestID, encoded float64, errText string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.inflight, id)
	if st, ok := h.requests[id]; ok {
		st.encodedLength = encoded
		st.errText = errText
		st.end = time.Now()
		h.completed = append(h.completed, st)
		delete(h.requests, id)
	}
}

func (h *Harvester) handleFrameNavigated(e *page.EventFrameNavigated) {
	if e.Frame == nil || e.Frame.ParentID != "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.mainFrame = e.Frame.ID
	for _, w := range h.waiters {
		close(w)
	}
	h.waiters = nil
}

// ExpectNavigation registers interest in the next main-frame navigation. The
// returned channel is closed once it commits (or the harvester stops).
// Register before triggering the action that navigates.
func (h *Harvester) ExpectNavigation() <-chan struct{} {
	ch := make(chan struct{})
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		close(ch)
		return ch
	}
	h.waiters = append(h.waiters, ch)
	return ch
}

// LastDocument returns the status and URL of the latest main-frame document response.
func (h *Harvester) LastDocument() (int64, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.docStatus, h.docURL
}

// Inflight reports the number of requests still in progress.
func (h *Harvester) Inflight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

// WaitNetworkIdle blocks until no request has been in flight for quietPeriod.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	h.logger.Debug("Waiting for network to become idle.", zap.Duration("quiet_period", quietPeriod))

	timer := time.NewTimer(quietPeriod)
	timer.Stop()
	defer timer.Stop()

	isIdle := false
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	check := func() {
		if h.Inflight() > 0 {
			if isIdle {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				isIdle = false
			}
			return
		}
		if !isIdle {
			timer.Reset(quietPeriod)
			isIdle = true
		}
	}
	check()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return h.ctx.Err()
		case <-ticker.C:
			check()
		case <-timer.C:
			h.logger.Debug("Network is idle.")
			return nil
		}
	}
}
