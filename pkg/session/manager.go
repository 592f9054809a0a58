package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/metrics"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("session: manager closed")

const defaultSaveTimeout = 5 * time.Second

// ProviderFactory returns the provider for a new session.
type ProviderFactory func(ctx context.Context, req StartRequest) (scan.Provider, error)

// Option configures a Manager.
type Option func(*Manager)

// WithStore sets where finished sessions are kept. Default is an
// in-memory store with DefaultTTL.
func WithStore(s Store) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithEventSink sets the receiver of session updates.
func WithEventSink(s EventSink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithProviderName sets the provider name recorded on each session.
func WithProviderName(name string) Option {
	return func(m *Manager) {
		m.providerName = name
	}
}

// WithScanOptions passes options to every session's Controller.
func WithScanOptions(opts ...scan.Option) Option {
	return func(m *Manager) {
		m.scanOpts = append(m.scanOpts, opts...)
	}
}

// Manager runs concurrent scan sessions, one Controller each. Finished
// sessions are saved to the Store and dropped from memory.
type Manager struct {
	factory      ProviderFactory
	store        Store
	sink         EventSink
	metrics      *metrics.Metrics
	logger       *slog.Logger
	providerName string
	scanOpts     []scan.Option
	saveTimeout  time.Duration

	mu     sync.Mutex
	live   map[string]*liveSession
	closed bool
	wg     sync.WaitGroup
}

type liveSession struct {
	id        string
	deviceID  string
	sctx      scan.SessionContext
	startedAt time.Time
	ctrl      *scan.Controller
}

// NewManager creates a Manager that builds providers with factory.
func NewManager(factory ProviderFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:     factory,
		store:       NewMemoryStore(DefaultTTL),
		sink:        EventSinkFunc(func(Update) {}),
		logger:      log.With("component", "session"),
		saveTimeout: defaultSaveTimeout,
		live:        make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New()
	}
	return m
}

// Metrics returns the collectors the manager records to.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Start creates a session for req and starts its scan. The session keeps
// running after ctx ends; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Record, error) {
	req.MerchantName = strings.TrimSpace(req.MerchantName)
	req.PaymentAmount = strings.TrimSpace(req.PaymentAmount)
	if req.MerchantName == "" || req.PaymentAmount == "" {
		return nil, fmt.Errorf("%w: merchant_name and payment_amount are required", ErrInvalidRequest)
	}
	if m.factory == nil {
		return nil, scan.ErrNoProvider
	}

	provider, err := m.factory(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("session: provider: %w", err)
	}
	if provider == nil {
		return nil, scan.ErrNoProvider
	}

	now := time.Now()
	ls := &liveSession{
		id:        uuid.NewString(),
		deviceID:  req.DeviceID,
		startedAt: now,
		sctx: scan.SessionContext{
			MerchantName:  req.MerchantName,
			PaymentAmount: req.PaymentAmount,
			CreatedAt:     now,
		},
	}
	opts := slices.Clone(m.scanOpts)
	opts = append(opts,
		scan.WithLogger(m.logger.With("session", ls.id)),
		scan.WithListener(func(ev scan.Event) { m.onEvent(ls, ev) }),
	)
	ls.ctrl = scan.New(instrumented{Provider: provider, metrics: m.metrics}, opts...)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.live[ls.id] = ls
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.Started()
	if err := ls.ctrl.Start(ctx, ls.sctx); err != nil {
		m.mu.Lock()
		delete(m.live, ls.id)
		m.mu.Unlock()
		m.metrics.Finished(scan.StateFailed.String())
		m.wg.Done()
		return nil, err
	}

	m.logger.Info("session started", "session", ls.id, "merchant", req.MerchantName, "device", req.DeviceID)
	rec := m.recordOf(ls)
	return &rec, nil
}

// onEvent runs with the session's controller locked.
func (m *Manager) onEvent(ls *liveSession, ev scan.Event) {
	m.sink.Publish(newUpdate(ls.id, ev))

	if ev.Kind != scan.EventTransition || !ev.State.Terminal() {
		return
	}
	rec := ls.baseRecord(m.providerName)
	rec.State = ev.State
	rec.Progress = ev.Progress
	rec.FaceDetected = ev.FaceDetected
	rec.setOutcome(ev.Result, ev.Err)
	finished := ev.At
	rec.FinishedAt = &finished

	go m.finish(ls, rec)
}

func (m *Manager) finish(ls *liveSession, rec Record) {
	defer m.wg.Done()
	m.metrics.Finished(rec.State.String())

	ctx, cancel := context.WithTimeout(context.Background(), m.saveTimeout)
	defer cancel()
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Error("failed to save session", "session", rec.ID, "error", err)
	}

	m.mu.Lock()
	delete(m.live, ls.id)
	m.mu.Unlock()

	m.logger.Info("session finished", "session", rec.ID, "state", rec.State, "reason", rec.Reason)
}

// Get returns the session with id, live or finished.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if ls := m.lookup(id); ls != nil {
		rec := m.recordOf(ls)
		return &rec, nil
	}
	return m.store.Get(ctx, id)
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []Record {
	m.mu.Lock()
	sessions := make([]*liveSession, 0, len(m.live))
	for _, ls := range m.live {
		sessions = append(sessions, ls)
	}
	m.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].startedAt.Before(sessions[j].startedAt) })
	out := make([]Record, len(sessions))
	for i, ls := range sessions {
		out[i] = m.recordOf(ls)
	}
	return out
}

// Cancel cancels the session with id. Finished sessions return a
// *scan.TransitionError.
func (m *Manager) Cancel(ctx context.Context, id string) (*Record, error) {
	ls := m.lookup(id)
	if ls == nil {
		rec, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &scan.TransitionError{Op: "cancel", From: rec.State}
	}
	if err := ls.ctrl.Cancel(); err != nil {
		return nil, err
	}
	rec := m.recordOf(ls)
	return &rec, nil
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Shutdown cancels every live session and waits for them to be saved.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*liveSession, 0, len(m.live))
	for _, ls := range m.live {
		sessions = append(sessions, ls)
	}
	m.mu.Unlock()

	for _, ls := range sessions {
		_ = ls.ctrl.Cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) lookup(id string) *liveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}

func (m *Manager) recordOf(ls *liveSession) Record {
	snap := ls.ctrl.Snapshot()
	rec := ls.baseRecord(m.providerName)
	rec.State = snap.State
	rec.Progress = snap.Progress
	rec.FaceDetected = snap.FaceDetected
	rec.setOutcome(snap.Result, snap.Err)
	return rec
}

func (ls *liveSession) baseRecord(provider string) Record {
	return Record{
		ID:        ls.id,
		Provider:  provider,
		DeviceID:  ls.deviceID,
		Context:   ls.sctx,
		StartedAt: ls.startedAt,
	}
}
