// Package bridge lets remote devices act as scan providers. A phone or
// kiosk connects over WebSocket to /ws/device/:id; the hub relays
// permission, detection and capture traffic between the device and the
// scan controller through DeviceProvider.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-facepay/internal/log"
	"github.com/teslashibe/go-facepay/pkg/protocol"
	"github.com/teslashibe/go-facepay/pkg/scan"
)

// Detection messages beyond this rate are dropped per device.
const (
	DefaultDetectionRate  rate.Limit = 20
	DefaultDetectionBurst            = 10
)

var (
	// ErrDeviceNotConnected is returned when no device has the requested ID.
	ErrDeviceNotConnected = errors.New("bridge: device not connected")

	// ErrDeviceDisconnected fails requests whose device dropped before replying.
	ErrDeviceDisconnected = errors.New("bridge: device disconnected")
)

// deviceConn is one connected device.
type deviceConn struct {
	ID        string
	Connected time.Time

	conn *websocket.Conn
	mu   sync.Mutex // serializes writes, guards lastSeen
	seen time.Time

	pmu     sync.Mutex
	pending map[string]chan *protocol.Message

	limiter *rate.Limiter

	closed chan struct{}
}

func (d *deviceConn) send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.WriteMessage(websocket.TextMessage, data)
}

func (d *deviceConn) touch() {
	d.mu.Lock()
	d.seen = time.Now()
	d.mu.Unlock()
}

func (d *deviceConn) lastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen
}

func (d *deviceConn) await(id string) chan *protocol.Message {
	ch := make(chan *protocol.Message, 1)
	d.pmu.Lock()
	d.pending[id] = ch
	d.pmu.Unlock()
	return ch
}

func (d *deviceConn) forget(id string) {
	d.pmu.Lock()
	delete(d.pending, id)
	d.pmu.Unlock()
}

// resolve hands a reply to its waiting request. Replies nobody waits for
// are dropped.
func (d *deviceConn) resolve(msg *protocol.Message) bool {
	d.pmu.Lock()
	ch, ok := d.pending[msg.ID]
	delete(d.pending, msg.ID)
	d.pmu.Unlock()
	if !ok {
		return false
	}
	ch <- msg
	return true
}

// stream is an open detection subscription.
type stream struct {
	deviceID string
	interval time.Duration
	fn       func(scan.DetectionSample)
}

// Hub manages WebSocket connections from scanning devices.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	devices map[string]*deviceConn
	streams map[string]*stream

	onConnect    func(deviceID string)
	onDisconnect func(deviceID string)

	detectionRate  rate.Limit
	detectionBurst int

	messagesReceived   atomic.Uint64
	messagesSent       atomic.Uint64
	detectionsReceived atomic.Uint64
	detectionsDropped  atomic.Uint64
}

// NewHub creates a new device hub. A nil logger uses the global one.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = log.With("component", "bridge")
	}
	return &Hub{
		logger:         logger,
		devices:        make(map[string]*deviceConn),
		streams:        make(map[string]*stream),
		detectionRate:  DefaultDetectionRate,
		detectionBurst: DefaultDetectionBurst,
	}
}

// SetDetectionLimit caps detection messages per device for connections
// made afterwards.
func (h *Hub) SetDetectionLimit(r rate.Limit, burst int) {
	h.mu.Lock()
	h.detectionRate = r
	h.detectionBurst = burst
	h.mu.Unlock()
}

// OnConnect sets the callback for device connections.
func (h *Hub) OnConnect(callback func(deviceID string)) {
	h.mu.Lock()
	h.onConnect = callback
	h.mu.Unlock()
}

// OnDisconnect sets the callback for device disconnections.
func (h *Hub) OnDisconnect(callback func(deviceID string)) {
	h.mu.Lock()
	h.onDisconnect = callback
	h.mu.Unlock()
}

// RegisterRoutes registers the device WebSocket endpoint.
func (h *Hub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws/device", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/device/:id", websocket.New(h.handleDevice))
}

func (h *Hub) handleDevice(c *websocket.Conn) {
	deviceID := c.Params("id")
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := time.Now()
	dev := &deviceConn{
		ID:        deviceID,
		Connected: now,
		conn:      c,
		seen:      now,
		pending:   make(map[string]chan *protocol.Message),
		closed:    make(chan struct{}),
	}

	h.mu.Lock()
	dev.limiter = rate.NewLimiter(h.detectionRate, h.detectionBurst)
	old := h.devices[deviceID]
	h.devices[deviceID] = dev
	resume := h.streamsForLocked(deviceID)
	count := len(h.devices)
	onConnect := h.onConnect
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("device reconnected, closing previous connection", "device", deviceID)
		_ = old.conn.Close()
	}
	h.logger.Info("device connected", "device", deviceID, "total", count)

	// A device that reconnects mid-scan picks its detection streams back up.
	for id, s := range resume {
		if err := h.startStream(dev, id, s.interval); err != nil {
			h.logger.Warn("resume detection failed", "device", deviceID, "stream", id, "error", err)
		}
	}
	if onConnect != nil {
		onConnect(deviceID)
	}

	defer h.disconnect(dev)

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			h.logger.Debug("device read ended", "device", deviceID, "error", err)
			return
		}
		dev.touch()
		h.messagesReceived.Add(1)
		h.handleMessage(dev, data)
	}
}

func (h *Hub) disconnect(dev *deviceConn) {
	h.mu.Lock()
	current := h.devices[dev.ID] == dev
	if current {
		delete(h.devices, dev.ID)
	}
	orphaned := h.streamsForLocked(dev.ID)
	count := len(h.devices)
	onDisconnect := h.onDisconnect
	h.mu.Unlock()

	close(dev.closed)
	if !current {
		return
	}
	h.logger.Info("device disconnected", "device", dev.ID, "total", count)

	// The face is no longer visible to anyone.
	for _, s := range orphaned {
		s.fn(scan.DetectionSample{Present: false, Timestamp: time.Now()})
	}
	if onDisconnect != nil {
		onDisconnect(dev.ID)
	}
}

// handleMessage processes an incoming message from a device
func (h *Hub) handleMessage(dev *deviceConn, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Warn("bad message from device", "device", dev.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeDetection:
		h.detectionsReceived.Add(1)
		if !dev.limiter.Allow() {
			h.detectionsDropped.Add(1)
			return
		}
		h.mu.RLock()
		s := h.streams[msg.ID]
		h.mu.RUnlock()
		if s == nil || s.deviceID != dev.ID {
			return
		}
		sample, err := msg.GetDetection()
		if err != nil {
			h.logger.Warn("bad detection from device", "device", dev.ID, "error", err)
			return
		}
		s.fn(*sample)

	case protocol.TypePermissionResult, protocol.TypeCaptureResult:
		if !dev.resolve(msg) {
			h.logger.Debug("unsolicited reply", "device", dev.ID, "type", msg.Type, "id", msg.ID)
		}

	case protocol.TypePing:
		if pong, err := protocol.NewPong(msg.ID, msg.Timestamp); err == nil {
			_ = h.send(dev, pong)
		}

	default:
		h.logger.Debug("ignoring message", "device", dev.ID, "type", msg.Type)
	}
}

func (h *Hub) device(deviceID string) *deviceConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.devices[deviceID]
}

func (h *Hub) streamsForLocked(deviceID string) map[string]*stream {
	out := make(map[string]*stream)
	for id, s := range h.streams {
		if s.deviceID == deviceID {
			out[id] = s
		}
	}
	return out
}

func (h *Hub) send(dev *deviceConn, msg *protocol.Message) error {
	h.messagesSent.Add(1)
	return dev.send(msg)
}

func (h *Hub) startStream(dev *deviceConn, id string, interval time.Duration) error {
	msg, err := protocol.NewDetectStart(id, interval)
	if err != nil {
		return err
	}
	return h.send(dev, msg)
}

// Connected reports whether deviceID is connected.
func (h *Hub) Connected(deviceID string) bool {
	return h.device(deviceID) != nil
}

// DeviceCount returns the number of connected devices
func (h *Hub) DeviceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices)
}

// DeviceInfo contains info about a connected device
type DeviceInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Streams   int       `json:"streams"`
}

// Devices returns info about all connected devices
func (h *Hub) Devices() []DeviceInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]DeviceInfo, 0, len(h.devices))
	for _, d := range h.devices {
		infos = append(infos, DeviceInfo{
			ID:        d.ID,
			Connected: d.Connected,
			LastSeen:  d.lastSeen(),
			Streams:   len(h.streamsForLocked(d.ID)),
		})
	}
	return infos
}

// Stats contains hub statistics
type Stats struct {
	DeviceCount        int    `json:"device_count"`
	Streams            int    `json:"streams"`
	MessagesReceived   uint64 `json:"messages_received"`
	MessagesSent       uint64 `json:"messages_sent"`
	DetectionsReceived uint64 `json:"detections_received"`
	DetectionsDropped  uint64 `json:"detections_dropped"`
}

// GetStats returns hub statistics
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	devices, streams := len(h.devices), len(h.streams)
	h.mu.RUnlock()
	return Stats{
		DeviceCount:        devices,
		Streams:            streams,
		MessagesReceived:   h.messagesReceived.Load(),
		MessagesSent:       h.messagesSent.Load(),
		DetectionsReceived: h.detectionsReceived.Load(),
		DetectionsDropped:  h.detectionsDropped.Load(),
	}
}

// RegisterAPIRoutes registers API routes for device management
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	devices := api.Group("/devices")

	devices.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"devices": h.Devices(),
			"count":   h.DeviceCount(),
		})
	})

	devices.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})
}

// Close drops every device connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*deviceConn, 0, len(h.devices))
	for _, d := range h.devices {
		conns = append(conns, d)
	}
	h.mu.RUnlock()

	for _, d := range conns {
		_ = d.conn.Close()
	}
}

func wrapSend(msgType protocol.MessageType, err error) error {
	return fmt.Errorf("bridge: send %s: %w", msgType, err)
}
