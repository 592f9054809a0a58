package protocol

import (
	"errors"
	"time"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

// =============================================================================
// Server → Device
// =============================================================================

// NewPermissionRequest asks the device for camera access.
func NewPermissionRequest(id string) (*Message, error) {
	return NewMessage(TypePermissionRequest, id, nil)
}

// NewDetectStart opens detection stream id at the given cadence.
func NewDetectStart(id string, interval time.Duration) (*Message, error) {
	return NewMessage(TypeDetectStart, id, DetectStartData{IntervalMs: interval.Milliseconds()})
}

// NewDetectStop closes detection stream id.
func NewDetectStop(id string) (*Message, error) {
	return NewMessage(TypeDetectStop, id, nil)
}

// NewCaptureRequest asks the device for the biometric capture.
func NewCaptureRequest(id string, hint scan.CaptureHint) (*Message, error) {
	return NewMessage(TypeCaptureRequest, id, hint)
}

// =============================================================================
// Device → Server
// =============================================================================

// NewPermissionResult answers permission request id.
func NewPermissionResult(id string, granted bool, err error) (*Message, error) {
	data := PermissionResultData{Granted: granted}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(TypePermissionResult, id, data)
}

// NewDetection reports one sample on stream id.
func NewDetection(id string, s scan.DetectionSample) (*Message, error) {
	return NewMessage(TypeDetection, id, s)
}

// NewCaptureResult answers capture request id. A failure is reported by its
// CaptureReason.
func NewCaptureResult(id string, res *scan.CaptureResult, err error) (*Message, error) {
	data := CaptureResultData{Result: res}
	if err != nil {
		data.Result = nil
		data.Reason = scan.AsCaptureError(err).Reason
		data.Error = err.Error()
	}
	return NewMessage(TypeCaptureResult, id, data)
}

// NewPong answers a ping sent at pingTS.
func NewPong(id string, pingTS int64) (*Message, error) {
	now := time.Now().UnixMilli()
	return NewMessage(TypePong, id, PongData{PingTS: pingTS, PongTS: now, LatencyMs: now - pingTS})
}

// =============================================================================
// Parsing
// =============================================================================

// GetDetection extracts the detection sample from a message.
func (m *Message) GetDetection() (*scan.DetectionSample, error) {
	var s scan.DetectionSample
	if err := m.ParseData(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetCaptureHint extracts the capture hint from a capture_request.
func (m *Message) GetCaptureHint() (scan.CaptureHint, error) {
	var hint scan.CaptureHint
	err := m.ParseData(&hint)
	return hint, err
}

// GetDetectStart extracts detection stream settings.
func (m *Message) GetDetectStart() (*DetectStartData, error) {
	var data DetectStartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPermissionResult returns the permission answer, or the device's error.
func (m *Message) GetPermissionResult() (bool, error) {
	var data PermissionResultData
	if err := m.ParseData(&data); err != nil {
		return false, err
	}
	if data.Error != "" {
		return false, errors.New(data.Error)
	}
	return data.Granted, nil
}

// GetCaptureResult returns the capture, or a *scan.CaptureError carrying the
// device's failure reason.
func (m *Message) GetCaptureResult() (*scan.CaptureResult, error) {
	var data CaptureResultData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	if data.Reason != "" || data.Error != "" {
		reason := data.Reason
		if reason == "" {
			reason = scan.ReasonUnknown
		}
		var cause error
		if data.Error != "" {
			cause = errors.New(data.Error)
		}
		return nil, scan.NewCaptureError(reason, cause)
	}
	return data.Result, nil
}
