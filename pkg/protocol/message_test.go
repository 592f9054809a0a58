package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
	}{
		{"detect start", TypeDetectStart, DetectStartData{IntervalMs: 1000}},
		{"detection", TypeDetection, scan.DetectionSample{Present: true, Confidence: 0.95}},
		{"nil data", TypePing, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, "req-1", tt.data)
			if err != nil {
				t.Fatalf("NewMessage() error = %v", err)
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.ID != "req-1" {
				t.Errorf("NewMessage() id = %q", msg.ID)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
			if tt.data == nil && msg.Data != nil {
				t.Error("NewMessage() nil data should stay empty")
			}
		})
	}
}

func TestNewMessageUnmarshalable(t *testing.T) {
	if _, err := NewMessage(TypePing, "", make(chan int)); err == nil {
		t.Error("NewMessage() should fail on unmarshalable data")
	}
}

func TestDetectionMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sample := scan.DetectionSample{
		Present:    true,
		Region:     &scan.Rect{X: 144, Y: 160, W: 100, H: 120},
		Confidence: 0.95,
		Timestamp:  at,
	}
	msg, err := NewDetection("sub-1", sample)
	if err != nil {
		t.Fatal(err)
	}
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Type != TypeDetection || parsed.ID != "sub-1" {
		t.Errorf("ParseMessage() = %s/%s", parsed.Type, parsed.ID)
	}
	got, err := parsed.GetDetection()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Present || got.Confidence != 0.95 || *got.Region != *sample.Region || !got.Timestamp.Equal(at) {
		t.Errorf("GetDetection() = %+v", got)
	}
}

func TestPermissionResult(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
		err     error
		wantErr bool
	}{
		{"granted", true, nil, false},
		{"denied", false, nil, false},
		{"failed", false, errors.New("no camera"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, _ := NewPermissionResult("p-1", tt.granted, tt.err)
			granted, err := msg.GetPermissionResult()
			if granted != tt.granted {
				t.Errorf("granted = %v, want %v", granted, tt.granted)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCaptureResult(t *testing.T) {
	res := &scan.CaptureResult{Payload: []byte{1, 2, 3}, Reference: "ref", Quality: 0.9, SourcePlatform: "ios"}
	msg, _ := NewCaptureResult("c-1", res, nil)
	got, err := msg.GetCaptureResult()
	if err != nil {
		t.Fatal(err)
	}
	if got.Reference != "ref" || string(got.Payload) != string(res.Payload) {
		t.Errorf("GetCaptureResult() = %+v", got)
	}

	msg, _ = NewCaptureResult("c-2", nil, scan.NewCaptureError(scan.ReasonLowQuality, errors.New("blurry")))
	_, err = msg.GetCaptureResult()
	if scan.ReasonOf(err) != scan.ReasonLowQuality {
		t.Errorf("reason = %q, want low_quality", scan.ReasonOf(err))
	}

	msg, _ = NewCaptureResult("c-3", nil, context.DeadlineExceeded)
	_, err = msg.GetCaptureResult()
	if scan.ReasonOf(err) != scan.ReasonTimeout {
		t.Errorf("reason = %q, want timeout", scan.ReasonOf(err))
	}
}

func TestCaptureRequest(t *testing.T) {
	hint := scan.CaptureHint{Region: &scan.Rect{W: 10, H: 10}, Confidence: 0.8}
	msg, _ := NewCaptureRequest("c-1", hint)
	got, err := msg.GetCaptureHint()
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != 0.8 || got.Region.W != 10 {
		t.Errorf("GetCaptureHint() = %+v", got)
	}
}

func TestDetectStart(t *testing.T) {
	msg, _ := NewDetectStart("s-1", 250*time.Millisecond)
	data, err := msg.GetDetectStart()
	if err != nil {
		t.Fatal(err)
	}
	if data.IntervalMs != 250 {
		t.Errorf("IntervalMs = %d", data.IntervalMs)
	}
}

func TestPong(t *testing.T) {
	ping := time.Now().Add(-15 * time.Millisecond).UnixMilli()
	msg, _ := NewPong("x", ping)
	var data PongData
	if err := msg.ParseData(&data); err != nil {
		t.Fatal(err)
	}
	if data.PingTS != ping || data.LatencyMs < 15 {
		t.Errorf("PongData = %+v", data)
	}
}

func TestParseInvalidMessage(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"missing type", `{"id":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.data)); err == nil {
				t.Error("ParseMessage() should fail")
			}
		})
	}
}

func TestMessageJSON(t *testing.T) {
	msg, _ := NewPermissionRequest("p-9")
	data, _ := msg.Bytes()

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != "permission_request" || raw["id"] != "p-9" {
		t.Errorf("JSON = %s", data)
	}
	if _, ok := raw["data"]; ok {
		t.Error("permission_request should carry no data")
	}
}
