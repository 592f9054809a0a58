package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/protocol"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// Device is the device side of the bridge: it dials the hub and answers
// its requests with a local scan.Provider.
type Device struct {
	ID       string
	Server   string // base URL, e.g. ws://pos.local:8080
	Provider scan.Provider
	Logger   *slog.Logger
	Dialer   *websocket.Dialer

	mu      sync.Mutex // serializes writes
	conn    *websocket.Conn
	streams map[string]scan.Subscription
	smu     sync.Mutex
	wg      sync.WaitGroup
}

// URL returns the device endpoint on the hub.
func (d *Device) URL() (string, error) {
	u, err := url.Parse(d.Server)
	if err != nil {
		return "", fmt.Errorf("bridge: server url: %w", err)
	}
	return u.JoinPath("ws", "device", d.ID).String(), nil
}

// Run connects and serves requests until ctx is done or the connection
// drops. It returns nil when ctx ends the session.
func (d *Device) Run(ctx context.Context) error {
	if d.Provider == nil {
		return scan.ErrNoProvider
	}
	logger := d.Logger
	if logger == nil {
		logger = log.With("component", "device", "device", d.ID)
	}
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	endpoint, err := d.URL()
	if err != nil {
		return err
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("bridge: dial %s: %w", endpoint, err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	d.smu.Lock()
	d.streams = make(map[string]scan.Subscription)
	d.smu.Unlock()
	logger.Info("connected to hub", "url", endpoint)

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		cancel()
		_ = conn.Close()
		d.stopAll()
		d.wg.Wait()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("bridge: read: %w", err)
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			logger.Warn("bad message from hub", "error", err)
			continue
		}
		d.dispatch(ctx, logger, msg)
	}
}

func (d *Device) dispatch(ctx context.Context, logger *slog.Logger, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypePermissionRequest:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			granted, err := d.Provider.RequestPermission(ctx)
			d.reply(logger, func() (*protocol.Message, error) {
				return protocol.NewPermissionResult(msg.ID, granted, err)
			})
		}()

	case protocol.TypeDetectStart:
		id := msg.ID
		sub, err := d.Provider.SubscribeDetection(ctx, func(s scan.DetectionSample) {
			d.reply(logger, func() (*protocol.Message, error) {
				return protocol.NewDetection(id, s)
			})
		})
		if err != nil {
			logger.Warn("detection unavailable", "error", err)
			return
		}
		d.smu.Lock()
		if prev := d.streams[id]; prev != nil {
			prev.Unsubscribe()
		}
		d.streams[id] = sub
		d.smu.Unlock()

	case protocol.TypeDetectStop:
		d.smu.Lock()
		sub := d.streams[msg.ID]
		delete(d.streams, msg.ID)
		d.smu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}

	case protocol.TypeCaptureRequest:
		hint, err := msg.GetCaptureHint()
		if err != nil {
			logger.Warn("bad capture request", "error", err)
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			res, err := d.Provider.Capture(ctx, hint)
			if err == nil && res == nil {
				err = errors.New("provider returned no capture")
			}
			d.reply(logger, func() (*protocol.Message, error) {
				return protocol.NewCaptureResult(msg.ID, res, err)
			})
		}()

	case protocol.TypePong:

	default:
		logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (d *Device) reply(logger *slog.Logger, build func() (*protocol.Message, error)) {
	msg, err := build()
	if err != nil {
		logger.Warn("encode reply", "error", err)
		return
	}
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.Debug("write to hub failed", "type", msg.Type, "error", err)
	}
}

// Ping sends a ping; the hub answers with a pong.
func (d *Device) Ping() error {
	msg, err := protocol.NewMessage(protocol.TypePing, "", nil)
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return ErrDeviceNotConnected
	}
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *Device) stopAll() {
	d.smu.Lock()
	subs := d.streams
	d.streams = make(map[string]scan.Subscription)
	d.smu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
