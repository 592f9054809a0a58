package scan

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Accrue(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 10, p.Accrue(0))
	assert.Equal(t, 100, p.Accrue(90))
	assert.Equal(t, 100, p.Accrue(95), "clamped at the maximum")

	p.Increment = 30
	assert.Equal(t, 100, p.Accrue(90))
}

func TestPolicy_Normalized(t *testing.T) {
	tests := []struct {
		name string
		in   Policy
		want Policy
	}{
		{
			name: "zero value gets defaults",
			in:   Policy{},
			want: DefaultPolicy(),
		},
		{
			name: "oversized increment capped",
			in:   Policy{Increment: 250, SampleInterval: time.Second},
			want: Policy{Increment: 100, SampleInterval: time.Second},
		},
		{
			name: "confidence clamped",
			in:   Policy{Increment: 5, SampleInterval: time.Millisecond, MinConfidence: 3},
			want: Policy{Increment: 5, SampleInterval: time.Millisecond, MinConfidence: 1},
		},
		{
			name: "NaN confidence is zero",
			in:   Policy{Increment: 5, SampleInterval: time.Millisecond, MinConfidence: math.NaN()},
			want: Policy{Increment: 5, SampleInterval: time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.normalized())
		})
	}
}

func TestPolicy_Accepts(t *testing.T) {
	p := Policy{Increment: 10, MinConfidence: 0.5}
	assert.True(t, p.Accepts(DetectionSample{Present: true, Confidence: 0.5}))
	assert.False(t, p.Accepts(DetectionSample{Present: true, Confidence: 0.49}))
	assert.False(t, p.Accepts(DetectionSample{Present: false, Confidence: 0.9}))
}

func TestPolicy_SamplesToComplete(t *testing.T) {
	assert.Equal(t, 10, DefaultPolicy().SamplesToComplete())
	assert.Equal(t, 5, FastPolicy().SamplesToComplete())
	assert.Equal(t, 4, Policy{Increment: 30}.SamplesToComplete())
	assert.Equal(t, 10, Policy{}.SamplesToComplete())
}
