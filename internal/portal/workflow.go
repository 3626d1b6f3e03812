// internal/portal/workflow.go
package portal

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/librus-sync/internal/browser"
	"github.com/xkilldash9x/librus-sync/internal/config"
	"github.com/xkilldash9x/librus-sync/internal/selector"
)

const teardownTimeout = 30 * time.Second

// Option customizes a Workflow.
type Option func(*Workflow)

// WithDiagnostics sets where failure snapshots go. The default drops them.
func WithDiagnostics(d Diagnostics) Option {
	return func(w *Workflow) { w.diag = d }
}

// WithRunID fixes the run ID instead of generating one per run.
func WithRunID(id string) Option {
	return func(w *Workflow) { w.runID = id }
}

// WithClock replaces time.Now for step timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// Workflow is the login state machine:
//
//	Init → HomePage → PostChallenge → LoginPage → PostChallenge2 → Submitted → Extracted → Done
//
// with Aborted reachable from any state on a fatal failure. The browser is
// released exactly once on every path.
type Workflow struct {
	cfg    config.Interface
	open   Opener
	diag   Diagnostics
	logger *zap.Logger
	runID  string
	now    func() time.Time

	resolver      *selector.Resolver
	interstitials *InterstitialHandler
	credentials   *CredentialStep
	extractor     *Extractor
	widget        *WidgetCheck
}

// NewWorkflow wires the steps. Selector overrides from the portal config
// replace the built-in candidate lists per role.
func NewWorkflow(cfg config.Interface, open Opener, logger *zap.Logger, opts ...Option) (*Workflow, error) {
	if open == nil {
		return nil, fmt.Errorf("workflow requires a browser opener")
	}
	catalog, err := selector.DefaultCatalog().WithOverrides(cfg.Portal().Selectors)
	if err != nil {
		return nil, fmt.Errorf("invalid selector overrides: %w", err)
	}

	w := &Workflow{
		cfg:    cfg,
		open:   open,
		diag:   NopDiagnostics{},
		logger: logger.Named("workflow"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.diag == nil {
		w.diag = NopDiagnostics{}
	}

	w.resolver = selector.NewResolver(catalog, w.logger)
	w.interstitials = NewInterstitialHandler(w.resolver, cfg, w.diag, w.logger)
	w.credentials = NewCredentialStep(w.resolver, cfg, w.diag, w.logger)
	w.extractor = NewExtractor(w.resolver, cfg, w.logger)
	if cfg.Portal().WidgetCheck {
		w.widget = NewWidgetCheck(cfg, w.logger)
	}
	return w, nil
}

// Plan lists the steps every run records, in order.
func (w *Workflow) Plan() []StepName {
	plan := []StepName{
		StepLaunch, StepHomePage, StepInterstitials, StepLoginPage,
		StepInterstitialsLogin, StepCredentials, StepExtraction,
	}
	if w.widget != nil {
		plan = append(plan, StepWidget)
	}
	return append(plan, StepTeardown)
}

// Run executes one login attempt. It never returns an error: every failure
// is described by the result's step log.
func (w *Workflow) Run(ctx context.Context) WorkflowResult {
	id := w.runID
	if id == "" {
		id = uuid.NewString()
	}
	r := &run{
		w:      w,
		id:     id,
		logger: w.logger.With(zap.String("run_id", id)),
		plan:   w.Plan(),
		state:  StateInit,
		states: []State{StateInit},
		art:    NewSessionArtifacts(),
	}

	started := w.now()
	r.logger.Info("Starting login workflow.", zap.String("home", w.cfg.Portal().HomeURL))

	r.execute(ctx)
	r.teardown(ctx)

	res := WorkflowResult{
		RunID:      r.id,
		Success:    r.login == LoggedIn,
		FinalState: r.state,
		States:     append([]State(nil), r.states...),
		Login:      r.login,
		Artifacts:  r.art,
		Steps:      r.log.Entries(),
		Warnings:   r.warnings,
		Widget:     r.widget,
		Browser:    r.product,
		Error:      r.failure,
		Timestamp:  started.UTC(),
		Duration:   w.now().Sub(started),
	}
	res.Degraded = res.Success && r.degraded

	r.logger.Info("Login workflow finished.",
		zap.Bool("success", res.Success),
		zap.Bool("degraded", res.Degraded),
		zap.Stringer("state", res.FinalState),
		zap.Int("steps", len(res.Steps)),
		zap.Duration("duration", res.Duration))
	return res
}

// run is the mutable state of one Run call.
type run struct {
	w      *Workflow
	id     string
	logger *zap.Logger
	log    StepLog
	plan   []StepName

	state  State
	states []State

	page    Browser
	product string
	current StepName
	// docStatus is the HTTP status of the last document the run navigated to.
	docStatus int64

	art      SessionArtifacts
	login    LoginState
	widget   *WidgetReport
	warnings []string
	degraded bool
	failure  string
}

func (r *run) execute(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Workflow step panicked.", zap.String("step", string(r.current)), zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			r.abort(r.begin(r.current), fmt.Errorf("panic: %v", p))
		}
	}()

	if !r.launch(ctx) || !r.homePage(ctx) {
		return
	}
	r.dismiss(ctx, StepInterstitials, StatePostChallenge)
	if !r.loginPage(ctx) {
		return
	}
	r.dismiss(ctx, StepInterstitialsLogin, StatePostChallenge2)
	if !r.submit(ctx) {
		return
	}
	r.extract(ctx)
	if r.w.widget != nil {
		r.checkWidget(ctx)
	}
	r.transition(StateDone)
}

func (r *run) transition(to State) {
	if r.state.Terminal() {
		return
	}
	r.logger.Debug("State transition.", zap.Stringer("from", r.state), zap.Stringer("to", to))
	r.state = to
	r.states = append(r.states, to)
}

func (r *run) begin(step StepName) StepOutcome {
	r.current = step
	return StepOutcome{Step: step, StartedAt: r.w.now()}
}

// finish appends o, capturing a snapshot first if the step failed.
func (r *run) finish(o StepOutcome) {
	o.Duration = r.w.now().Sub(o.StartedAt)
	if !o.Success && !o.Skipped && r.page != nil {
		if _, done := o.Data["screenshot"]; !done {
			if path := capture(context.Background(), r.w.diag, r.page, string(o.Step), r.logger); path != "" {
				o.Data = withData(o.Data, "screenshot", path)
			}
		}
	}
	r.log.Append(o)

	fields := []zap.Field{zap.String("step", string(o.Step)), zap.Bool("success", o.Success), zap.Duration("duration", o.Duration)}
	if o.Error != "" {
		fields = append(fields, zap.String("error", o.Error))
	}
	if o.Success {
		r.logger.Info("Step complete.", fields...)
	} else {
		r.logger.Warn("Step failed.", fields...)
	}
}

// abort records o as the fatal failure, moves to Aborted, and logs every
// remaining planned step as skipped.
func (r *run) abort(o StepOutcome, err error) {
	o.Success = false
	o.Fatal = true
	o.Error = err.Error()
	r.finish(o)
	r.failure = fmt.Sprintf("%s: %s", o.Step, o.Error)
	r.transition(StateAborted)

	for _, step := range r.plan {
		if step == StepTeardown || r.log.Has(step) {
			continue
		}
		r.log.Append(StepOutcome{
			Step:      step,
			Skipped:   true,
			Error:     "skipped: " + string(o.Step) + " failed",
			StartedAt: r.w.now(),
		})
	}
}

func (r *run) launch(ctx context.Context) bool {
	o := r.begin(StepLaunch)
	b, err := r.w.open(ctx)
	if err != nil {
		r.abort(o, fmt.Errorf("browser launch failed: %w", err))
		return false
	}
	r.page = b
	if p, ok := b.(interface{ Product() string }); ok {
		r.product = p.Product()
		o.Data = withData(o.Data, "browser", r.product)
	}
	o.Success = true
	r.finish(o)
	return true
}

func (r *run) homePage(ctx context.Context) bool {
	o := r.begin(StepHomePage)
	p := r.w.cfg.Portal()

	nav, err := r.page.Navigate(ctx, p.HomeURL, settleOf(p.HomeSettle), r.w.cfg.Network().NavigationTimeout)
	o.URL, o.Status, o.Elapsed = nav.URL, nav.Status, ElapsedCategory(nav.Elapsed, err)
	if o.URL == "" {
		o.URL = p.HomeURL
	}
	if err != nil {
		r.abort(o, fmt.Errorf("home page: %w", err))
		return false
	}
	if nav.Status >= 400 {
		// Challenge pages answer with 4xx; the interstitial pass deals with them.
		o.Data = withData(o.Data, "note", fmt.Sprintf("HTTP %d", nav.Status))
	}
	r.docStatus = nav.Status
	o.Success = true
	r.finish(o)

	if err := r.page.Sleep(ctx, r.w.cfg.Timings().InitialWait); err != nil {
		r.logger.Debug("Initial wait interrupted.", zap.Error(err))
	}
	r.transition(StateHomePage)
	return true
}

// dismiss runs the interstitial handler. Its failures never abort the run.
func (r *run) dismiss(ctx context.Context, step StepName, next State) {
	o := r.begin(step)
	report, err := r.w.interstitials.DismissAfter(ctx, r.page, r.docStatus)

	clicked := make([]string, 0, len(report.Clicked))
	for _, role := range report.Clicked {
		clicked = append(clicked, string(role))
	}
	o.Data = withData(o.Data, "clicked", clicked)
	if report.ChallengeDetected {
		o.Data = withData(o.Data, "challenge_detected", true)
	}
	if report.Snapshot != "" {
		o.Data = withData(o.Data, "screenshot", report.Snapshot)
	}
	if err != nil {
		o.Error = err.Error()
	} else {
		o.Success = true
	}
	r.finish(o)
	r.transition(next)
}

// loginPage reaches the login form through the portal's login control and
// falls back to loading the login URL directly.
func (r *run) loginPage(ctx context.Context) bool {
	o := r.begin(StepLoginPage)
	p := r.w.cfg.Portal()
	timeout := r.w.cfg.Network().NavigationTimeout
	settle := settleOf(p.LoginSettle)

	h, err := r.w.resolver.Resolve(ctx, r.page, selector.LoginEntry)
	if err == nil {
		nav, navErr := r.page.ClickAndWait(ctx, h, settle, timeout)
		if navErr == nil {
			o.URL, o.Status, o.Elapsed = nav.URL, nav.Status, ElapsedCategory(nav.Elapsed, nil)
			o.Data = withData(o.Data, "via", "control")
			o.Data = withData(o.Data, "matcher", h.Matcher.String())
			r.docStatus = nav.Status
			o.Success = true
			r.finish(o)
			r.transition(StateLoginPage)
			return true
		}
		err = navErr
	}
	if ctx.Err() != nil {
		r.abort(o, fmt.Errorf("login page: %w", ctx.Err()))
		return false
	}
	r.logger.Info("Login control unusable, loading login page directly.", zap.Error(err))
	o.Data = withData(o.Data, "control_error", err.Error())
	o.Data = withData(o.Data, "via", "direct")

	nav, err := r.page.Navigate(ctx, p.LoginURL, settle, timeout)
	o.URL, o.Status, o.Elapsed = nav.URL, nav.Status, ElapsedCategory(nav.Elapsed, err)
	if o.URL == "" {
		o.URL = p.LoginURL
	}
	if err != nil {
		r.abort(o, fmt.Errorf("login page: %w", err))
		return false
	}
	r.docStatus = nav.Status
	o.Success = true
	r.finish(o)
	r.transition(StateLoginPage)
	return true
}

func (r *run) submit(ctx context.Context) bool {
	o := r.begin(StepCredentials)
	res := r.w.credentials.Submit(ctx, r.page, r.art)

	r.art = res.Artifacts
	r.login = res.State
	o.Login = res.State
	o.URL, o.Status = res.URL, res.Status
	o.Elapsed = ElapsedCategory(res.Elapsed, res.Err)
	o.Data = withData(o.Data, "csrf_source", res.CSRFSource)
	if res.ErrorMessage != "" {
		o.Data = withData(o.Data, "error_message", res.ErrorMessage)
	}
	if res.Screenshot != "" {
		o.Data = withData(o.Data, "screenshot", res.Screenshot)
	}

	if res.State != LoggedIn {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("%w: ended in state %s", ErrLoginRejected, res.State)
		}
		r.abort(o, err)
		return false
	}
	o.Success = true
	r.finish(o)
	r.transition(StateSubmitted)
	return true
}

// extract never fails; missing optional artifacts mark the run degraded.
func (r *run) extract(ctx context.Context) {
	o := r.begin(StepExtraction)
	art, warnings := r.w.extractor.Extract(ctx, r.page, r.art)
	r.art = art

	o.Data = withData(o.Data, "cookies", len(art.Cookies))
	o.Data = withData(o.Data, "accounts", len(art.Accounts))
	o.Data = withData(o.Data, "bearer_token", art.BearerToken != "")
	o.Data = withData(o.Data, "csrf_token", art.CSRFToken != "")
	if len(warnings) > 0 {
		o.Data = withData(o.Data, "warnings", warnings)
		r.warnings = append(r.warnings, warnings...)
		r.degraded = true
	}
	if u, err := r.page.URL(ctx); err == nil {
		o.URL = u
	}
	o.Success = true
	r.finish(o)
	r.transition(StateExtracted)
}

func (r *run) checkWidget(ctx context.Context) {
	o := r.begin(StepWidget)
	report, err := r.w.widget.Run(ctx, r.page)
	r.widget = &report
	o.URL, o.Status = report.URL, report.Status

	switch {
	case err != nil:
		o.Error = err.Error()
	case !report.Loaded:
		o.Error = "widget did not render"
	default:
		o.Success = true
	}
	if o.Error != "" {
		r.warnings = append(r.warnings, "widget: "+o.Error)
	}
	r.finish(o)
}

// teardown releases the browser. It runs once per Run, after the state
// machine reached Done or Aborted.
func (r *run) teardown(ctx context.Context) {
	o := r.begin(StepTeardown)
	if r.page == nil {
		o.Skipped = true
		o.Success = true
		o.Data = withData(o.Data, "reason", "no browser session")
		r.log.Append(o)
		return
	}

	closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), teardownTimeout)
	defer cancel()
	if err := r.page.Close(closeCtx); err != nil {
		o.Error = err.Error()
		r.warnings = append(r.warnings, "teardown: "+err.Error())
		r.logger.Warn("Browser teardown reported an error.", zap.Error(err))
	} else {
		o.Success = true
	}
	o.Duration = r.w.now().Sub(o.StartedAt)
	r.log.Append(o)
	r.page = nil
}

func settleOf(s string) browser.Settle {
	settle, err := browser.ParseSettle(s)
	if err != nil {
		return browser.SettleNetworkIdle
	}
	return settle
}

func withData(data map[string]interface{}, key string, value interface{}) map[string]interface{} {
	if data == nil {
		data = make(map[string]interface{}, 4)
	}
	data[key] = value
	return data
}
