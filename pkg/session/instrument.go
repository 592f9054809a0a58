package session

import (
	"context"
	"time"

	"github.com/teslashibe/go-facepay/pkg/metrics"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// instrumented counts detection samples and times captures.
type instrumented struct {
	scan.Provider
	metrics *metrics.Metrics
}

func (p instrumented) SubscribeDetection(ctx context.Context, fn func(scan.DetectionSample)) (scan.Subscription, error) {
	return p.Provider.SubscribeDetection(ctx, func(s scan.DetectionSample) {
		p.metrics.Sample(s.Present)
		fn(s)
	})
}

func (p instrumented) Capture(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
	start := time.Now()
	res, err := p.Provider.Capture(ctx, hint)
	p.metrics.Captured(time.Since(start))
	return res, err
}
