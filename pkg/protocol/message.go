// Package protocol defines the WebSocket messages exchanged between the
// facepay server and a remote scanning device (phone or kiosk).
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → Device
	TypePermissionRequest MessageType = "permission_request" // Ask for camera access
	TypeDetectStart       MessageType = "detect_start"       // Start streaming detections
	TypeDetectStop        MessageType = "detect_stop"        // Stop streaming detections
	TypeCaptureRequest    MessageType = "capture_request"    // Take the biometric capture

	// Device → Server
	TypePermissionResult MessageType = "permission_result"
	TypeDetection        MessageType = "detection"
	TypeCaptureResult    MessageType = "capture_result"

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages. ID correlates a
// request with its reply, and detections with their subscription.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, id string, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("protocol: message without type")
	}
	return &msg, nil
}

// DetectStartData configures a detection stream.
type DetectStartData struct {
	IntervalMs int64 `json:"interval_ms"`
}

// PermissionResultData answers a permission_request.
type PermissionResultData struct {
	Granted bool   `json:"granted"`
	Error   string `json:"error,omitempty"` // device could not ask at all
}

// CaptureResultData answers a capture_request. Either Result or Reason is set.
type CaptureResultData struct {
	Result *scan.CaptureResult `json:"result,omitempty"`
	Reason scan.CaptureReason  `json:"reason,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// PongData answers a ping.
type PongData struct {
	PingTS    int64 `json:"ping_ts"`
	PongTS    int64 `json:"pong_ts"`
	LatencyMs int64 `json:"latency_ms"`
}
