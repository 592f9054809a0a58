// Package hub fans JSON events out to websocket clients. A client follows
// every topic or a single one; the server uses session IDs as topics.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-facepay/internal/log"
)

// frame is one published event.
type frame struct {
	topic string
	data  []byte
}

// Hub owns the client set. Only Run mutates it; Publish never blocks.
type Hub struct {
	name   string
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}

	publish chan frame
	join    chan *Client
	leave   chan *Client
	stopped chan struct{}

	dropped atomic.Uint64
}

// New creates a hub. Call Run to start delivering.
func New(name string) *Hub {
	return &Hub{
		name:    name,
		logger:  log.With("component", "hub", "hub", name),
		clients: make(map[*Client]struct{}),
		publish: make(chan frame, 256),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		stopped: make(chan struct{}),
	}
}

// WithLogger replaces the hub's logger. Call before Run.
func (h *Hub) WithLogger(l *slog.Logger) *Hub {
	if l != nil {
		h.logger = l.With("hub", h.name)
	}
	return h
}

// Run delivers published frames until ctx is done, then closes every
// client queue.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.removeLocked(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client joined", "topic", c.topic, "clients", n)

		case c := <-h.leave:
			h.mu.Lock()
			h.removeLocked(c)
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client left", "clients", n)

		case f := <-h.publish:
			h.deliver(f)
		}
	}
}

func (h *Hub) deliver(f frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.follows(f.topic) {
			continue
		}
		select {
		case c.queue <- f.data:
		default:
			h.removeLocked(c)
			h.logger.Warn("client queue full, disconnecting", "topic", c.topic)
		}
	}
}

// removeLocked must be called with mu held.
func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.queue)
	}
}

// Publish queues data for clients following topic. The frame is dropped
// if the hub is backed up.
func (h *Hub) Publish(topic string, data []byte) {
	select {
	case h.publish <- frame{topic: topic, data: data}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("publish queue full, dropping event", "topic", topic)
	}
}

// PublishJSON encodes v and publishes it.
func (h *Hub) PublishJSON(topic string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(topic, data)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames Publish discarded.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Stopped is closed once Run has returned.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}
