// Package session runs scan sessions for the POS: it creates a Controller
// per payment, fans its events out to listeners, tracks metrics, and keeps
// a Record of every finished session in a Store.
package session

import (
	"errors"
	"time"

	"github.com/teslashibe/go-facepay/pkg/scan"
)

var (
	// ErrNotFound is returned for unknown session IDs.
	ErrNotFound = errors.New("session: not found")

	// ErrInvalidRequest is returned by Start for incomplete requests.
	ErrInvalidRequest = errors.New("session: invalid request")
)

// StartRequest describes a payment awaiting a face scan.
type StartRequest struct {
	MerchantName  string `json:"merchant_name"`
	PaymentAmount string `json:"payment_amount"`
	DeviceID      string `json:"device_id,omitempty"` // bridge provider only
}

// Record is the externally visible view of a session, live or finished.
// Capture payloads are never stored; only their size is kept.
type Record struct {
	ID           string              `json:"id"`
	Provider     string              `json:"provider"`
	DeviceID     string              `json:"device_id,omitempty"`
	State        scan.State          `json:"state"`
	Progress     int                 `json:"progress"`
	FaceDetected bool                `json:"face_detected"`
	Context      scan.SessionContext `json:"context"`
	Result       *scan.CaptureResult `json:"result,omitempty"`
	PayloadSize  int                 `json:"payload_size,omitempty"`
	Reason       scan.CaptureReason  `json:"reason,omitempty"`
	Error        string              `json:"error,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   *time.Time          `json:"finished_at,omitempty"`
}

// Terminal reports whether the session has finished.
func (r Record) Terminal() bool {
	return r.State.Terminal()
}

func (r *Record) setOutcome(res *scan.CaptureResult, err error) {
	if res != nil {
		stripped := *res
		r.PayloadSize = len(stripped.Payload)
		stripped.Payload = nil
		r.Result = &stripped
	}
	if err != nil {
		r.Reason = scan.ReasonOf(err)
		r.Error = err.Error()
	}
}

// Update is one controller event tagged with its session.
type Update struct {
	SessionID    string                `json:"session_id"`
	Kind         scan.EventKind        `json:"kind"`
	From         scan.State            `json:"from"`
	State        scan.State            `json:"state"`
	Progress     int                   `json:"progress"`
	FaceDetected bool                  `json:"face_detected"`
	Sample       *scan.DetectionSample `json:"sample,omitempty"`
	Result       *scan.CaptureResult   `json:"result,omitempty"`
	Reason       scan.CaptureReason    `json:"reason,omitempty"`
	At           time.Time             `json:"at"`
}

func newUpdate(id string, ev scan.Event) Update {
	u := Update{
		SessionID:    id,
		Kind:         ev.Kind,
		From:         ev.From,
		State:        ev.State,
		Progress:     ev.Progress,
		FaceDetected: ev.FaceDetected,
		Sample:       ev.Sample,
		At:           ev.At,
	}
	if ev.Result != nil {
		r := *ev.Result
		r.Payload = nil
		u.Result = &r
	}
	if ev.Err != nil {
		u.Reason = scan.ReasonOf(ev.Err)
	}
	return u
}

// EventSink receives every session update. Publish is called with the
// session's controller locked and must not block.
type EventSink interface {
	Publish(Update)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Update)

// Publish calls f.
func (f EventSinkFunc) Publish(u Update) { f(u) }
