package capability

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

// ErrNotConfigured is returned by Mock operations without a Func.
var ErrNotConfigured = errors.New("capability: mock operation not configured")

// Mock implements scan.Provider for testing. Samples are pushed by the test
// through Emit.
type Mock struct {
	// PermissionFunc is called when RequestPermission is invoked.
	PermissionFunc func(ctx context.Context) (bool, error)

	// SubscribeFunc, if set, can fail SubscribeDetection.
	SubscribeFunc func(ctx context.Context) error

	// CaptureFunc is called when Capture is invoked.
	CaptureFunc func(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error)

	mu         sync.Mutex
	calls      []MockCall
	subscriber func(scan.DetectionSample)
	subID      int
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Hint   *scan.CaptureHint
	Time   time.Time
}

// NewMock creates a mock that grants permission and captures successfully.
func NewMock() *Mock {
	return &Mock{
		PermissionFunc: func(ctx context.Context) (bool, error) {
			return true, nil
		},
		CaptureFunc: func(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
			return &scan.CaptureResult{
				Reference:      "mock-capture",
				Quality:        hint.Confidence,
				SourcePlatform: "mock",
			}, nil
		},
	}
}

// RequestPermission calls PermissionFunc and records the call.
func (m *Mock) RequestPermission(ctx context.Context) (bool, error) {
	m.record("RequestPermission", nil)
	if m.PermissionFunc != nil {
		return m.PermissionFunc(ctx)
	}
	return false, ErrNotConfigured
}

// SubscribeDetection stores fn as the active subscriber.
func (m *Mock) SubscribeDetection(ctx context.Context, fn func(scan.DetectionSample)) (scan.Subscription, error) {
	m.record("SubscribeDetection", nil)
	if m.SubscribeFunc != nil {
		if err := m.SubscribeFunc(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.subID++
	id := m.subID
	m.subscriber = fn
	m.mu.Unlock()

	return scan.SubscriptionFunc(func() {
		m.record("Unsubscribe", nil)
		m.mu.Lock()
		if m.subID == id {
			m.subscriber = nil
		}
		m.mu.Unlock()
	}), nil
}

// Capture calls CaptureFunc and records the call with its hint.
func (m *Mock) Capture(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
	m.record("Capture", &hint)
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, hint)
	}
	return nil, ErrNotConfigured
}

// Emit delivers s to the active subscriber. It reports false when nothing
// is subscribed.
func (m *Mock) Emit(s scan.DetectionSample) bool {
	m.mu.Lock()
	fn := m.subscriber
	m.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(s)
	return true
}

// Subscribed reports whether a detection subscription is open.
func (m *Mock) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriber != nil
}

func (m *Mock) record(method string, hint *scan.CaptureHint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Hint: hint, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// FaceSample returns a present sample in the simulator's default region.
func FaceSample() scan.DetectionSample {
	r := DefaultRegion()
	return scan.DetectionSample{Present: true, Region: &r, Confidence: DefaultConfidence, Timestamp: time.Now()}
}

// NoFaceSample returns an absent sample.
func NoFaceSample() scan.DetectionSample {
	return scan.DetectionSample{Present: false, Timestamp: time.Now()}
}
