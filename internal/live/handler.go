package live

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"crm-telephony/internal/audit"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxCommandSize = 4096
	commandTimeout = 15 * time.Second
)

// Client command types.
const (
	CommandAnswer = "answer-call"
	CommandEnd    = "end-call"
	CommandMute   = "mute-call"
	CommandHold   = "hold-call"
)

// Command is a call-control request sent by a client over its session.
type Command struct {
	Type    string `json:"type"`
	CallID  string `json:"callId"`
	PartyID string `json:"partyId"`
	Muted   *bool  `json:"muted,omitempty"`
	Hold    *bool  `json:"hold,omitempty"`
}

// Controller is the call-control surface commands are dispatched to.
type Controller interface {
	Answer(ctx context.Context, actor audit.Actor, callID, partyID string) (telephony.ControlResult, error)
	Hangup(ctx context.Context, actor audit.Actor, callID, partyID string) (telephony.ControlResult, error)
	SetMuted(ctx context.Context, actor audit.Actor, callID, partyID string, muted bool) (telephony.ControlResult, error)
	SetHold(ctx context.Context, actor audit.Actor, callID, partyID string, hold bool) (telephony.ControlResult, error)
}

// IdentifyFunc resolves the authenticated caller of a request.
type IdentifyFunc func(c *gin.Context) (audit.Actor, bool)

// Handler upgrades authenticated requests into live sessions.
type Handler struct {
	hub      *Hub
	control  Controller
	identify IdentifyFunc
	upgrader websocket.Upgrader
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins keeps
// the same-host origin check; "*" accepts any origin.
func NewHandler(hub *Hub, control Controller, identify IdentifyFunc, allowedOrigins []string) *Handler {
	h := &Handler{hub: hub, control: control, identify: identify}
	h.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = originChecker(allowedOrigins)
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := map[string]struct{}{}
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	_, wildcard := set["*"]
	return func(r *http.Request) bool {
		if wildcard {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	actor, ok := h.identify(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	actor.IP = c.ClientIP()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Warn("live upgrade failed", "err", err)
		return
	}

	s := newSession(newID(time.Now()), actor, h.hub.sendBuffer, conn)
	h.hub.register(s)
	log = log.With("session_id", s.ID, "user_id", actor.UserID)
	log.Info("live session connected")

	ctx := logger.With(context.WithoutCancel(c.Request.Context()), log)
	go h.writeLoop(s)
	h.readLoop(ctx, s)

	h.hub.unregister(s)
	log.Info("live session closed")
}

func (h *Handler) writeLoop(s *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, s *Session) {
	log := logger.From(ctx)
	s.conn.SetReadLimit(maxCommandSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("live read failed", "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.replyError(s, Command{Type: "invalid"}, "invalid command")
			continue
		}
		h.dispatch(ctx, s, cmd)
	}
}

// dispatch runs one client command. Success is broadcast by the call
// controller; failures go back to the issuing session only.
func (h *Handler) dispatch(ctx context.Context, s *Session, cmd Command) {
	if h.control == nil {
		h.replyError(s, cmd, "call control unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd.Type {
	case CommandAnswer:
		_, err = h.control.Answer(ctx, s.Actor, cmd.CallID, cmd.PartyID)
	case CommandEnd:
		_, err = h.control.Hangup(ctx, s.Actor, cmd.CallID, cmd.PartyID)
	case CommandMute:
		_, err = h.control.SetMuted(ctx, s.Actor, cmd.CallID, cmd.PartyID, boolOr(cmd.Muted, true))
	case CommandHold:
		_, err = h.control.SetHold(ctx, s.Actor, cmd.CallID, cmd.PartyID, boolOr(cmd.Hold, true))
	default:
		h.replyError(s, cmd, "unknown command")
		return
	}
	if err != nil {
		h.replyError(s, cmd, err.Error())
	}
}

func (h *Handler) replyError(s *Session, cmd Command, msg string) {
	frame, err := encode(EventError, ErrorData{Command: cmd.Type, CallID: cmd.CallID, Error: msg}, time.Now())
	if err != nil {
		return
	}
	if !s.enqueue(frame) {
		h.hub.log.Debug("live error frame dropped", "session_id", s.ID)
	}
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
