package scan

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var errEmptyCapture = errors.New("provider returned no capture result")

// Controller drives one scan session. It is the only writer of the session
// state; every public method reads and modifies it under one lock. Provider
// calls are made outside the lock.
type Controller struct {
	provider          Provider
	policy            Policy
	logger            *slog.Logger
	permissionTimeout time.Duration
	captureTimeout    time.Duration
	now               func() time.Time

	mu         sync.Mutex
	state      State
	progress   int
	present    bool
	sctx       SessionContext
	lastSample *DetectionSample
	hint       CaptureHint
	result     *CaptureResult
	err        error
	listeners  []Listener

	sub         Subscription
	sessionCtx  context.Context
	cancelCalls context.CancelFunc
	done        chan struct{}
}

// New creates an idle controller bound to provider.
func New(provider Provider, opts ...Option) *Controller {
	c := &Controller{
		provider: provider,
		policy:   DefaultPolicy(),
		logger:   defaultLogger(),
		now:      time.Now,
		state:    StateIdle,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the session: Idle → RequestingPermission, then asks the
// provider for permission in the background.
func (c *Controller) Start(ctx context.Context, sc SessionContext) error {
	c.mu.Lock()
	if c.state != StateIdle {
		from := c.state
		c.mu.Unlock()
		return &TransitionError{Op: "start", From: from}
	}
	if c.provider == nil {
		c.mu.Unlock()
		return ErrNoProvider
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = c.now()
	}
	c.sctx = sc
	// The session outlives the caller's request; only Cancel or a terminal
	// state ends it.
	c.sessionCtx, c.cancelCalls = context.WithCancel(context.WithoutCancel(ctx))
	sessionCtx := c.sessionCtx
	c.setState(StateRequestingPermission)
	c.mu.Unlock()

	c.logger.Info("scan session started", "merchant", sc.MerchantName, "amount", sc.PaymentAmount)
	go c.requestPermission(sessionCtx)
	return nil
}

func (c *Controller) requestPermission(ctx context.Context) {
	defer c.recoverLog("permission goroutine panic")
	if c.permissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.permissionTimeout)
		defer cancel()
	}
	granted, err := c.provider.RequestPermission(ctx)
	if err != nil {
		c.onPermissionError(err)
		return
	}
	c.OnPermissionResult(granted)
}

func (c *Controller) onPermissionError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRequestingPermission {
		c.logger.Debug("discarding stale permission error", "state", c.state, "error", err)
		return
	}
	ce := AsCaptureError(err)
	if ce.Reason == ReasonUnknown {
		ce = NewCaptureError(ReasonPermissionUnavailable, err)
	}
	c.err = ce
	c.setState(StateFailed)
	c.finish()
}

// OnPermissionResult applies the provider's permission answer. It is a
// no-op unless the session is RequestingPermission.
func (c *Controller) OnPermissionResult(granted bool) {
	c.mu.Lock()
	if c.state != StateRequestingPermission {
		c.logger.Debug("discarding stale permission result", "state", c.state, "granted", granted)
		c.mu.Unlock()
		return
	}
	if !granted {
		c.setState(StatePermissionDenied)
		c.finish()
		c.mu.Unlock()
		return
	}
	c.progress = 0
	c.present = false
	c.setState(StateAwaitingFace)
	ctx := c.sessionCtx
	c.mu.Unlock()

	c.subscribe(ctx)
}

// subscribe opens the detection stream. A stream that opens after the
// session left the detecting states is closed straight away.
func (c *Controller) subscribe(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	sub, err := c.provider.SubscribeDetection(ctx, c.OnDetectionSample)

	c.mu.Lock()
	if err != nil {
		if c.state.Detecting() {
			c.err = NewCaptureError(ReasonHardwareFault, err)
			c.setState(StateFailed)
			c.finish()
		}
		c.mu.Unlock()
		c.logger.Warn("detection subscription failed", "error", err)
		return
	}
	if !c.state.Detecting() {
		c.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
		return
	}
	c.sub = sub
	c.mu.Unlock()
}

// OnDetectionSample folds one sample into presence and progress. Samples
// are ignored outside AwaitingFace, FaceAcquired and Scanning.
func (c *Controller) OnDetectionSample(s DetectionSample) {
	c.mu.Lock()
	if !c.state.Detecting() {
		c.mu.Unlock()
		return
	}
	s.Confidence = clampUnit(s.Confidence)
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now()
	}
	sample := s
	c.lastSample = &sample
	c.present = s.Present

	switch c.state {
	case StateAwaitingFace:
		if !s.Present {
			c.mu.Unlock()
			return
		}
		// FaceAcquired and the start of Scanning happen in one step.
		c.setState(StateFaceAcquired)
		if c.policy.Accepts(s) {
			c.progress = c.policy.Accrue(c.progress)
		}
		c.setState(StateScanning)

	case StateFaceAcquired, StateScanning:
		if !s.Present {
			c.progress = 0
			c.setState(StateAwaitingFace)
			c.mu.Unlock()
			return
		}
		if c.policy.Accepts(s) {
			prev := c.progress
			c.progress = c.policy.Accrue(prev)
			if c.progress != prev {
				c.emitFrom(EventProgress, c.state)
			}
		}
	}

	if c.progress < MaxProgress {
		c.mu.Unlock()
		return
	}

	c.hint = CaptureHint{Region: s.Region, Confidence: s.Confidence}
	hint := c.hint
	c.setState(StateCapturing)
	sub := c.sub
	c.sub = nil
	ctx := c.sessionCtx
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	go c.capture(ctx, hint)
}

func (c *Controller) capture(ctx context.Context, hint CaptureHint) {
	defer c.recoverLog("capture goroutine panic")
	if ctx == nil {
		ctx = context.Background()
	}
	if c.captureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.captureTimeout)
		defer cancel()
	}
	started := c.now()
	res, err := c.provider.Capture(ctx, hint)
	c.logger.Debug("capture returned", "elapsed", c.now().Sub(started), "error", err)
	c.OnCaptureResult(res, err)
}

// OnCaptureResult records the capture outcome. It is a no-op unless the
// session is Capturing, so results arriving after Cancel are dropped.
func (c *Controller) OnCaptureResult(res *CaptureResult, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateCapturing {
		c.logger.Debug("discarding stale capture result", "state", c.state, "error", err)
		return
	}
	if err == nil && res == nil {
		err = NewCaptureError(ReasonUnknown, errEmptyCapture)
	}
	if err != nil {
		c.err = AsCaptureError(err)
		c.setState(StateFailed)
		c.finish()
		return
	}

	result := *res
	result.Quality = clampUnit(result.Quality)
	if result.Quality == 0 {
		result.Quality = c.hint.Confidence
	}
	if result.CapturedAt.IsZero() {
		result.CapturedAt = c.now()
	}
	c.result = &result
	c.setState(StateCompleted)
	c.finish()
}

// Cancel ends a non-terminal session immediately. In-flight permission or
// capture calls are cancelled and their results discarded.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.state.Terminal() {
		from := c.state
		c.mu.Unlock()
		return &TransitionError{Op: "cancel", From: from}
	}
	c.setState(StateCancelled)
	sub := c.sub
	c.sub = nil
	c.finish()
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	return nil
}

// AddListener registers l for all subsequent events.
func (c *Controller) AddListener(l Listener) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns the current scan progress (0-100).
func (c *Controller) Progress() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Context returns the session's payment context.
func (c *Controller) Context() SessionContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sctx
}

// Err returns the failure attached to a Failed session.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed once the session reaches a terminal state.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns a consistent copy of the observable state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        c.state,
		Progress:     c.progress,
		FaceDetected: c.present,
		Context:      c.sctx,
		Err:          c.err,
	}
	if c.lastSample != nil {
		s := *c.lastSample
		snap.LastSample = &s
	}
	if c.result != nil {
		r := *c.result
		snap.Result = &r
	}
	return snap
}

// setState must be called with mu held.
func (c *Controller) setState(next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	c.logger.Debug("scan state transition", "from", prev, "to", next, "progress", c.progress)
	if next.Terminal() {
		c.logger.Info("scan session finished", "state", next, "error", c.err)
	}
	c.emitFrom(EventTransition, prev)
}

func (c *Controller) emitFrom(kind EventKind, from State) {
	if len(c.listeners) == 0 {
		return
	}
	snap := c.snapshotLocked()
	ev := Event{
		Kind:         kind,
		From:         from,
		State:        snap.State,
		Progress:     snap.Progress,
		FaceDetected: snap.FaceDetected,
		Sample:       snap.LastSample,
		Result:       snap.Result,
		Err:          snap.Err,
		At:           c.now(),
	}
	for _, l := range c.listeners {
		c.notify(l, ev)
	}
}

func (c *Controller) notify(l Listener, ev Event) {
	defer c.recoverLog("scan listener panic")
	l(ev)
}

// finish must be called with mu held, after entering a terminal state.
func (c *Controller) finish() {
	if c.cancelCalls != nil {
		c.cancelCalls()
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Controller) recoverLog(msg string) {
	if r := recover(); r != nil {
		c.logger.Error(msg, "error", r, "stack", string(debug.Stack()))
	}
}
