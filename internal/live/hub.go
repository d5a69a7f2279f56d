package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crm-telephony/internal/observability"
)

// Relay forwards encoded frames to other processes.
type Relay interface {
	Publish(ctx context.Context, event string, frame []byte) error
}

// Hub tracks connected sessions on this process.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	sendBuffer int
	relay      Relay
	log        *slog.Logger
	clock      func() time.Time
}

func NewHub(sendBuffer int, log *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		sessions:   map[string]*Session{},
		sendBuffer: sendBuffer,
		log:        log,
		clock:      time.Now,
	}
}

// SetRelay enables cross-process fan-out.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	n := len(h.sessions)
	h.mu.Unlock()
	observability.LiveSessions.Set(float64(n))
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.ID]; ok && cur == s {
		delete(h.sessions, s.ID)
	}
	n := len(h.sessions)
	h.mu.Unlock()
	observability.LiveSessions.Set(float64(n))
	s.close()
}

// Len reports connected sessions on this process.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast sends event to every local session and hands it to the relay.
// It never blocks on a slow session or on Redis.
func (h *Hub) Broadcast(event string, data any) {
	frame, err := encode(event, data, h.clock())
	if err != nil {
		h.log.Error("live encode failed", "event", event, "err", err)
		return
	}
	h.deliver(event, frame)

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := relay.Publish(ctx, event, frame); err != nil {
			h.log.Warn("live relay publish failed", "event", event, "err", err)
		}
	}()
}

// deliver writes an encoded frame to local sessions only.
func (h *Hub) deliver(event string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	observability.Broadcasts.WithLabelValues(event).Inc()
	for _, s := range targets {
		if !s.enqueue(frame) {
			observability.LiveDropped.Inc()
			h.log.Debug("live frame dropped", "session_id", s.ID, "event", event)
		}
	}
}

// Close disconnects every session.
func (h *Hub) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = map[string]*Session{}
	h.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
	observability.LiveSessions.Set(0)
}
