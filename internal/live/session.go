package live

import (
	"sync"

	"crm-telephony/internal/audit"

	"github.com/gorilla/websocket"
)

// Session is one connected client. Frames queue in a bounded buffer;
// when it is full the frame is dropped rather than blocking the sender.
type Session struct {
	ID    string
	Actor audit.Actor

	send chan []byte
	done chan struct{}
	once sync.Once
	conn *websocket.Conn
}

func newSession(id string, actor audit.Actor, buffer int, conn *websocket.Conn) *Session {
	return &Session{
		ID:    id,
		Actor: actor,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
		conn:  conn,
	}
}

func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}
