// Package scan implements the biometric scan session controller.
//
// A Controller owns the lifecycle of one face scan: it asks a Provider for
// camera permission, consumes the provider's detection samples, accumulates
// scan progress while a face stays in frame, and requests exactly one capture
// once progress reaches 100. The outcome is reported as a terminal State.
package scan

import (
	"fmt"
	"time"
)

// State enumerates the session lifecycle states.
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StatePermissionDenied
	StateAwaitingFace
	StateFaceAcquired
	StateScanning
	StateCapturing
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateIdle:                 "idle",
	StateRequestingPermission: "requesting_permission",
	StatePermissionDenied:     "permission_denied",
	StateAwaitingFace:         "awaiting_face",
	StateFaceAcquired:         "face_acquired",
	StateScanning:             "scanning",
	StateCapturing:            "capturing",
	StateCompleted:            "completed",
	StateFailed:               "failed",
	StateCancelled:            "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StatePermissionDenied, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Detecting reports whether detection samples are consumed in s.
func (s State) Detecting() bool {
	switch s {
	case StateAwaitingFace, StateFaceAcquired, StateScanning:
		return true
	}
	return false
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState returns the State with the given name.
func ParseState(name string) (State, error) {
	for st, n := range stateNames {
		if n == name {
			return st, nil
		}
	}
	return StateIdle, fmt.Errorf("scan: unknown state %q", name)
}

// Rect is a bounding region in the provider's frame coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// DetectionSample is one face detection observation pushed by a Provider.
type DetectionSample struct {
	Present    bool      `json:"present"`
	Region     *Rect     `json:"region,omitempty"`
	Confidence float64   `json:"confidence"` // 0-1
	Timestamp  time.Time `json:"timestamp"`
}

// CaptureHint carries the triggering sample's detection data into Capture.
type CaptureHint struct {
	Region     *Rect   `json:"region,omitempty"`
	Confidence float64 `json:"confidence"`
}

// CaptureResult is the biometric capture produced by a Provider.
type CaptureResult struct {
	Payload        []byte    `json:"payload,omitempty"`   // raw image bytes, if any
	Reference      string    `json:"reference,omitempty"` // path or id of stored capture
	Quality        float64   `json:"quality"`
	CapturedAt     time.Time `json:"captured_at"`
	SourcePlatform string    `json:"source_platform"`
}

// SessionContext is the payment context shown during a scan.
// It is fixed for the lifetime of a session.
type SessionContext struct {
	MerchantName  string    `json:"merchant_name"`
	PaymentAmount string    `json:"payment_amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Snapshot is a consistent read of the controller's observable state.
type Snapshot struct {
	State        State            `json:"state"`
	Progress     int              `json:"progress"`
	FaceDetected bool             `json:"face_detected"`
	Context      SessionContext   `json:"context"`
	LastSample   *DetectionSample `json:"last_sample,omitempty"`
	Result       *CaptureResult   `json:"result,omitempty"`
	Err          error            `json:"-"`
}

// EventKind distinguishes state transitions from progress-only updates.
type EventKind string

const (
	EventTransition EventKind = "transition"
	EventProgress   EventKind = "progress"
)

// Event is emitted to listeners after every transition or progress change.
type Event struct {
	Kind         EventKind        `json:"kind"`
	From         State            `json:"from"`
	State        State            `json:"state"`
	Progress     int              `json:"progress"`
	FaceDetected bool             `json:"face_detected"`
	Sample       *DetectionSample `json:"sample,omitempty"`
	Result       *CaptureResult   `json:"result,omitempty"`
	Err          error            `json:"-"`
	At           time.Time        `json:"at"`
}

// Listener receives controller events. Listeners run with the controller
// locked and must not call back into it.
type Listener func(Event)
