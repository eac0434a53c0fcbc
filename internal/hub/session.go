package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Skipper-Assistant-1968/skipper-mobile/internal/models"
)

const (
	writeTimeout = 10 * time.Second

	// sendBuffer bounds the per-session outbound queue. A session that
	// can't keep up is dropped rather than stalling fan-out.
	sendBuffer = 64
)

// Session is one open websocket connection. Closed is terminal: a new
// physical connection always gets a new Session, never a reused one.
type Session struct {
	ID string

	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(id string, conn *websocket.Conn) *Session {
	return &Session{
		ID:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues an envelope for this session only. Returns false when the
// session is closed or its buffer is full.
func (s *Session) Send(eventType string, payload any) bool {
	env, err := models.NewEnvelope(eventType, payload)
	if err != nil {
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		return false
	}
	return s.enqueue(data)
}

func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// close tears down the connection. Safe to call more than once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump drains the outbound queue onto the wire.
func (s *Session) writePump() {
	defer s.close()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
