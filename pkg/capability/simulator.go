package capability

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// Simulated face defaults.
const (
	DefaultSampleInterval = time.Second
	DefaultConfidence     = 0.95
	SimulatorPlatform     = "simulator"
)

// DefaultRegion is the face box reported for every simulated sample.
func DefaultRegion() scan.Rect {
	return scan.Rect{X: 144, Y: 160, W: 100, H: 120}
}

// SimulatorConfig tunes a Simulator.
type SimulatorConfig struct {
	Interval   time.Duration
	Region     scan.Rect
	Confidence float64

	DenyPermission  bool
	PermissionDelay time.Duration

	// PresenceRate is the chance a sample contains a face. 0 means always.
	PresenceRate float64
	// ConfidenceJitter spreads confidence uniformly by ± this amount.
	ConfidenceJitter float64
	// Seed fixes the random sequence; 0 seeds from the clock.
	Seed uint64

	CaptureDelay time.Duration
	// FailCapture makes Capture fail with this reason when set.
	FailCapture scan.CaptureReason

	Logger *slog.Logger
}

// DefaultSimulatorConfig emits a face every second at
// confidence 0.95, permission granted, instant capture.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Interval:   DefaultSampleInterval,
		Region:     DefaultRegion(),
		Confidence: DefaultConfidence,
	}
}

// Simulator is a scan.Provider that synthesizes detection samples on a timer.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	wg sync.WaitGroup
}

// NewSimulator creates a Simulator. Zero fields take their defaults.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	def := DefaultSimulatorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Region == (scan.Rect{}) {
		cfg.Region = def.Region
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = def.Confidence
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.With("component", "simulator")
	}
	return &Simulator{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// RequestPermission answers after PermissionDelay.
func (s *Simulator) RequestPermission(ctx context.Context) (bool, error) {
	if err := sleep(ctx, s.cfg.PermissionDelay); err != nil {
		return false, err
	}
	return !s.cfg.DenyPermission, nil
}

// SubscribeDetection emits one sample per Interval until unsubscribed or
// ctx is done.
func (s *Simulator) SubscribeDetection(ctx context.Context, fn func(scan.DetectionSample)) (scan.Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				fn(s.sample(now))
			}
		}
	}()
	s.logger.Debug("simulated detection started", "interval", s.cfg.Interval)
	return scan.SubscriptionFunc(cancel), nil
}

func (s *Simulator) sample(now time.Time) scan.DetectionSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.PresenceRate > 0 && s.rng.Float64() >= s.cfg.PresenceRate {
		return scan.DetectionSample{Present: false, Timestamp: now}
	}
	conf := s.cfg.Confidence
	if s.cfg.ConfidenceJitter > 0 {
		conf += (s.rng.Float64()*2 - 1) * s.cfg.ConfidenceJitter
	}
	conf = min(max(conf, 0), 1)
	region := s.cfg.Region
	return scan.DetectionSample{Present: true, Region: &region, Confidence: conf, Timestamp: now}
}

// Capture returns a synthetic capture after CaptureDelay.
func (s *Simulator) Capture(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
	if err := sleep(ctx, s.cfg.CaptureDelay); err != nil {
		return nil, err
	}
	if s.cfg.FailCapture != "" {
		return nil, scan.NewCaptureError(s.cfg.FailCapture, nil)
	}
	return &scan.CaptureResult{
		Reference:      "sim-capture-" + uuid.NewString(),
		Quality:        hint.Confidence,
		CapturedAt:     time.Now(),
		SourcePlatform: SimulatorPlatform,
	}, nil
}

// Wait blocks until every sample loop has exited.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
