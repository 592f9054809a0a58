package scan

import "context"

// Provider supplies camera permission, a detection stream and a capture
// operation. It may be backed by a real sensor, a remote device or a
// simulator; the controller treats them all the same.
type Provider interface {
	// RequestPermission asks for access to the capture device.
	// It completes once; an error is distinct from a denial.
	RequestPermission(ctx context.Context) (bool, error)

	// SubscribeDetection starts pushing samples to fn at the provider's own
	// cadence until the returned Subscription is closed or ctx ends.
	SubscribeDetection(ctx context.Context, fn func(DetectionSample)) (Subscription, error)

	// Capture takes the biometric capture. Failures should be *CaptureError.
	Capture(ctx context.Context, hint CaptureHint) (*CaptureResult, error)
}

// Subscription is an open detection stream.
type Subscription interface {
	// Unsubscribe stops delivery. It must not wait for an in-flight
	// callback to return.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }
