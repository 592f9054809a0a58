package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Names(t *testing.T) {
	for st, name := range stateNames {
		parsed, err := ParseState(name)
		require.NoError(t, err)
		assert.Equal(t, st, parsed)
		assert.Equal(t, name, st.String())
	}
	assert.Equal(t, "unknown", State(99).String())

	_, err := ParseState("sleeping")
	assert.Error(t, err)
}

func TestState_Classification(t *testing.T) {
	terminal := []State{StatePermissionDenied, StateCompleted, StateFailed, StateCancelled}
	for _, st := range terminal {
		assert.True(t, st.Terminal(), st.String())
		assert.False(t, st.Detecting(), st.String())
	}
	for _, st := range []State{StateAwaitingFace, StateFaceAcquired, StateScanning} {
		assert.True(t, st.Detecting(), st.String())
		assert.False(t, st.Terminal(), st.String())
	}
	for _, st := range []State{StateIdle, StateRequestingPermission, StateCapturing} {
		assert.False(t, st.Detecting(), st.String())
		assert.False(t, st.Terminal(), st.String())
	}
}

func TestSnapshot_JSON(t *testing.T) {
	snap := Snapshot{State: StateScanning, Progress: 30, FaceDetected: true}
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"scanning"`)
	assert.Contains(t, string(b), `"progress":30`)

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, StateScanning, back.State)
}

func TestAsCaptureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want CaptureReason
	}{
		{"deadline", context.DeadlineExceeded, ReasonTimeout},
		{"wrapped deadline", fmt.Errorf("capture: %w", context.DeadlineExceeded), ReasonTimeout},
		{"cancelled", context.Canceled, ReasonCancelled},
		{"typed", NewCaptureError(ReasonLowQuality, nil), ReasonLowQuality},
		{"plain", errors.New("boom"), ReasonUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := AsCaptureError(tt.err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.want, ce.Reason)
			assert.Equal(t, tt.want, ReasonOf(ce))
		})
	}
	assert.Nil(t, AsCaptureError(nil))
	assert.Equal(t, CaptureReason(""), ReasonOf(errors.New("plain")))
}

func TestCaptureError_Unwrap(t *testing.T) {
	cause := errors.New("lens cap on")
	err := NewCaptureError(ReasonHardwareFault, cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "scan: capture failed (hardware_fault): lens cap on", err.Error())
	assert.Equal(t, "scan: capture failed (timeout)", NewCaptureError(ReasonTimeout, nil).Error())
}
