package scan

import (
	"math"
	"time"
)

// MaxProgress is the progress value that triggers a capture.
const MaxProgress = 100

// Policy holds the tunable progress parameters.
type Policy struct {
	// Increment is added to progress for each present sample while scanning.
	Increment int `json:"increment" yaml:"increment"`

	// SampleInterval is the expected detection cadence. Providers that
	// synthesize or poll samples use it; the controller does not.
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`

	// MinConfidence holds progress for present samples below it (0 disables).
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultPolicy is one sample per second and ten samples to a full scan.
func DefaultPolicy() Policy {
	return Policy{
		Increment:      10,
		SampleInterval: time.Second,
		MinConfidence:  0,
	}
}

// FastPolicy is a short scan for kiosks with a steady camera.
func FastPolicy() Policy {
	p := DefaultPolicy()
	p.Increment = 20
	p.SampleInterval = 250 * time.Millisecond
	return p
}

// normalized returns p with out-of-range values replaced by defaults.
func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Increment <= 0 {
		p.Increment = def.Increment
	}
	if p.Increment > MaxProgress {
		p.Increment = MaxProgress
	}
	if p.SampleInterval <= 0 {
		p.SampleInterval = def.SampleInterval
	}
	p.MinConfidence = clampUnit(p.MinConfidence)
	return p
}

// Accrue returns progress after one accepted sample, clamped to [0,100].
func (p Policy) Accrue(progress int) int {
	return clampProgress(progress + p.Increment)
}

// Accepts reports whether a present sample may advance progress.
func (p Policy) Accepts(s DetectionSample) bool {
	return s.Present && s.Confidence >= p.MinConfidence
}

// SamplesToComplete is the number of accepted samples a full scan takes.
func (p Policy) SamplesToComplete() int {
	p = p.normalized()
	return (MaxProgress + p.Increment - 1) / p.Increment
}

func clampProgress(v int) int {
	if v < 0 {
		return 0
	}
	if v > MaxProgress {
		return MaxProgress
	}
	return v
}

// clampUnit maps v into [0,1]. NaN becomes 0.
func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
