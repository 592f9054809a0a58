package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-facepay/pkg/protocol"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// DeviceProvider is a scan.Provider backed by a connected device.
type DeviceProvider struct {
	hub      *Hub
	deviceID string
	interval time.Duration
}

// Provider returns a scan.Provider that drives deviceID. interval is passed
// to the device as the requested detection cadence.
func (h *Hub) Provider(deviceID string, interval time.Duration) *DeviceProvider {
	return &DeviceProvider{hub: h, deviceID: deviceID, interval: interval}
}

// DeviceID returns the device this provider drives.
func (p *DeviceProvider) DeviceID() string {
	return p.deviceID
}

// RequestPermission asks the device for camera access and waits for its answer.
func (p *DeviceProvider) RequestPermission(ctx context.Context) (bool, error) {
	msg, err := protocol.NewPermissionRequest(uuid.NewString())
	if err != nil {
		return false, err
	}
	reply, err := p.hub.request(ctx, p.deviceID, msg)
	if err != nil {
		return false, err
	}
	return reply.GetPermissionResult()
}

// SubscribeDetection opens a detection stream on the device. The stream
// survives reconnects of the same device ID and closes when ctx is done.
func (p *DeviceProvider) SubscribeDetection(ctx context.Context, fn func(scan.DetectionSample)) (scan.Subscription, error) {
	dev := p.hub.device(p.deviceID)
	if dev == nil {
		return nil, ErrDeviceNotConnected
	}

	id := uuid.NewString()
	p.hub.mu.Lock()
	p.hub.streams[id] = &stream{deviceID: p.deviceID, interval: p.interval, fn: fn}
	p.hub.mu.Unlock()

	if err := p.hub.startStream(dev, id, p.interval); err != nil {
		p.hub.mu.Lock()
		delete(p.hub.streams, id)
		p.hub.mu.Unlock()
		return nil, wrapSend(protocol.TypeDetectStart, err)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { p.hub.stopStream(p.deviceID, id) })
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return scan.SubscriptionFunc(func() {
		stop()
		unsubscribe()
	}), nil
}

// Capture asks the device for the biometric capture.
func (p *DeviceProvider) Capture(ctx context.Context, hint scan.CaptureHint) (*scan.CaptureResult, error) {
	msg, err := protocol.NewCaptureRequest(uuid.NewString(), hint)
	if err != nil {
		return nil, err
	}
	reply, err := p.hub.request(ctx, p.deviceID, msg)
	if errors.Is(err, ErrDeviceDisconnected) || errors.Is(err, ErrDeviceNotConnected) {
		return nil, scan.NewCaptureError(scan.ReasonHardwareFault, err)
	}
	if err != nil {
		return nil, err
	}
	return reply.GetCaptureResult()
}

// request sends msg and waits for the reply carrying the same ID.
func (h *Hub) request(ctx context.Context, deviceID string, msg *protocol.Message) (*protocol.Message, error) {
	dev := h.device(deviceID)
	if dev == nil {
		return nil, ErrDeviceNotConnected
	}

	reply := dev.await(msg.ID)
	defer dev.forget(msg.ID)

	if err := h.send(dev, msg); err != nil {
		return nil, wrapSend(msg.Type, err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-dev.closed:
		return nil, ErrDeviceDisconnected
	}
}

// stopStream forgets stream id and tells the device, if still connected.
func (h *Hub) stopStream(deviceID, id string) {
	h.mu.Lock()
	delete(h.streams, id)
	dev := h.devices[deviceID]
	h.mu.Unlock()

	if dev == nil {
		return
	}
	msg, err := protocol.NewDetectStop(id)
	if err != nil {
		return
	}
	if err := h.send(dev, msg); err != nil {
		h.logger.Debug("detect_stop not delivered", "device", deviceID, "error", err)
	}
}
