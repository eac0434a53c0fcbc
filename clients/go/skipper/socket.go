package skipper

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qmuntal/stateless"
)

// ConnState is the connection manager's externally visible state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	// StateFailed is terminal: reconnect attempts are exhausted and the
	// socket must be recreated.
	StateFailed ConnState = "failed"
)

// FSM triggers.
const (
	triggerDial      = "Dial"
	triggerDialOK    = "DialSucceeded"
	triggerDialFail  = "DialFailed"
	triggerLost      = "ConnectionLost"
	triggerExhausted = "RetriesExhausted"
)

// ErrSocketClosed is returned by Dial after Close.
var ErrSocketClosed = errors.New("socket closed")

const (
	socketWriteTimeout = 10 * time.Second
	backoffJitterMax   = 300 * time.Millisecond
)

// SocketConfig tunes the connection manager. Zero values take the
// defaults noted on each field.
type SocketConfig struct {
	URL string

	MaxAttempts int           // reconnect attempts before failing; default 10
	BackoffBase time.Duration // default 1s
	BackoffCap  time.Duration // default 30s
	Keepalive   time.Duration // ping interval; default 30s
	DialTimeout time.Duration // default 10s

	// EventBuffer bounds the inbound event channel; default 64.
	EventBuffer int
}

func (c *SocketConfig) withDefaults() SocketConfig {
	out := *c
	if out.MaxAttempts == 0 {
		out.MaxAttempts = 10
	}
	if out.BackoffBase == 0 {
		out.BackoffBase = time.Second
	}
	if out.BackoffCap == 0 {
		out.BackoffCap = 30 * time.Second
	}
	if out.Keepalive == 0 {
		out.Keepalive = 30 * time.Second
	}
	if out.DialTimeout == 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.EventBuffer == 0 {
		out.EventBuffer = 64
	}
	return out
}

// reconnectDelay computes the backoff before reconnect attempt n
// (0-based): min(base * 2^n + jitter, cap). Jitter is a bounded random
// slice so simultaneous drops don't reconnect in lockstep.
func reconnectDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	d += time.Duration(rand.Int63n(int64(backoffJitterMax)))
	if d > cap {
		return cap
	}
	return d
}

// Socket maintains one bidirectional session with the server and the
// reconnect/keepalive state machine around it. All timers are owned by
// the socket and cancelled on Close, so teardown is structural rather
// than convention.
type Socket struct {
	cfg SocketConfig

	mu      sync.Mutex
	fsm     *stateless.StateMachine
	conn    *websocket.Conn
	attempt int
	closed  bool

	writeMu sync.Mutex // gorilla allows one concurrent writer

	reconnectTimer *time.Timer
	lastPingSentAt time.Time
	lastActivity   time.Time

	events chan Envelope
	states chan ConnState
}

// NewSocket creates a connection manager. Call Dial to start it.
func NewSocket(cfg SocketConfig) *Socket {
	s := &Socket{cfg: cfg.withDefaults()}
	s.events = make(chan Envelope, s.cfg.EventBuffer)
	s.states = make(chan ConnState, 8)

	// Queued firing lets entry actions fire follow-up triggers without
	// re-entering the machine.
	fsm := stateless.NewStateMachineWithMode(StateDisconnected, stateless.FiringQueued)

	fsm.Configure(StateDisconnected).
		Permit(triggerDial, StateConnecting).
		Permit(triggerExhausted, StateFailed).
		OnEntry(func(_ context.Context, _ ...any) error {
			s.onDisconnected()
			return nil
		})

	fsm.Configure(StateConnecting).
		Permit(triggerDialOK, StateConnected).
		Permit(triggerDialFail, StateDisconnected).
		OnEntry(func(_ context.Context, _ ...any) error {
			go s.doDial()
			return nil
		})

	fsm.Configure(StateConnected).
		Permit(triggerLost, StateDisconnected).
		OnEntry(func(_ context.Context, args ...any) error {
			s.onConnected(args[0].(*websocket.Conn))
			return nil
		})

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		if state, ok := t.Destination.(ConnState); ok {
			s.pushState(state)
		}
	})

	s.fsm = fsm
	return s
}

// Dial starts connecting. Reconnection after that is automatic until
// attempts are exhausted or Close is called.
func (s *Socket) Dial() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	return s.fsm.Fire(triggerDial)
}

// Close tears down the connection and every outstanding timer.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Events is the inbound envelope stream. Events arriving while the
// buffer is full are dropped; the reconciler recovers via history
// polling.
func (s *Socket) Events() <-chan Envelope {
	return s.events
}

// StateChanges surfaces transitions for a passive connectivity
// indicator. Best-effort: unread transitions are dropped.
func (s *Socket) StateChanges() <-chan ConnState {
	return s.states
}

// State returns the current connection state.
func (s *Socket) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.MustState().(ConnState)
}

// Send transmits a user message over the live session. Returns false
// immediately, without attempting transmission, when not connected; the
// caller falls back to the stateless transport.
func (s *Socket) Send(content, ref string) bool {
	s.mu.Lock()
	conn := s.conn
	connected := !s.closed && conn != nil && s.fsm.MustState() == StateConnected
	s.mu.Unlock()
	if !connected {
		return false
	}

	payload, err := json.Marshal(chatMessagePayload{Message: content, Ref: ref})
	if err != nil {
		return false
	}
	return s.writeEnvelope(conn, Envelope{Type: EventChatMessage, Payload: payload}) == nil
}

// SendTyping relays a typing indicator. Best-effort.
func (s *Socket) SendTyping(active bool) {
	s.mu.Lock()
	conn := s.conn
	connected := !s.closed && conn != nil && s.fsm.MustState() == StateConnected
	s.mu.Unlock()
	if !connected {
		return
	}

	payload, _ := json.Marshal(map[string]bool{"active": active})
	_ = s.writeEnvelope(conn, Envelope{Type: EventChatTyping, Payload: payload})
}

func (s *Socket) writeEnvelope(conn *websocket.Conn, env Envelope) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	return conn.WriteJSON(env)
}

// onDisconnected runs on every transition into StateDisconnected: the
// old session is gone for good, so schedule the next attempt or give up.
func (s *Socket) onDisconnected() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.closed {
		return
	}

	if s.attempt >= s.cfg.MaxAttempts {
		_ = s.fsm.Fire(triggerExhausted)
		return
	}

	delay := reconnectDelay(s.attempt, s.cfg.BackoffBase, s.cfg.BackoffCap)
	s.attempt++

	// Never two reconnects in flight: cancel before scheduling.
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.fire(triggerDial)
	})
}

// onConnected runs when a dial succeeds: adopt the new conn and start
// its pumps. The attempt counter resets so the next outage backs off
// from the base again.
func (s *Socket) onConnected(conn *websocket.Conn) {
	if s.closed {
		conn.Close()
		return
	}
	s.conn = conn
	s.attempt = 0
	s.lastActivity = time.Now()

	quit := make(chan struct{})
	go s.readLoop(conn, quit)
	go s.keepalive(conn, quit)
}

func (s *Socket) doDial() {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	conn, resp, err := dialer.Dial(s.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.fire(triggerDialFail)
		return
	}
	s.fire(triggerDialOK, conn)
}

func (s *Socket) fire(trigger string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && trigger != triggerLost {
		// A dial that races Close still owns its conn; release it.
		if trigger == triggerDialOK {
			args[0].(*websocket.Conn).Close()
		}
		return
	}
	_ = s.fsm.Fire(trigger, args...)
}

// fireLost reports a dead session, but only if conn is still the
// current one; a stale read loop must not kill its successor.
func (s *Socket) fireLost(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn != conn {
		return
	}
	_ = s.fsm.Fire(triggerLost)
}

func (s *Socket) readLoop(conn *websocket.Conn, quit chan struct{}) {
	defer close(quit)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.fireLost(conn)
			return
		}

		s.mu.Lock()
		s.lastActivity = time.Now()
		s.mu.Unlock()

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if env.Type == EventPong {
			continue
		}

		select {
		case s.events <- env:
		default:
		}
	}
}

// keepalive pings on a fixed interval while the session lives. It also
// watches for a silently dead peer: when nothing (pong or otherwise)
// has arrived within two intervals, the conn is force-closed and the
// normal reconnect path takes over.
func (s *Socket) keepalive(conn *websocket.Conn, quit chan struct{}) {
	ticker := time.NewTicker(s.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastPingSentAt = time.Now()
			stale := time.Since(s.lastActivity) > 2*s.cfg.Keepalive
			s.mu.Unlock()

			if stale {
				conn.Close()
				return
			}
			_ = s.writeEnvelope(conn, Envelope{Type: EventPing})
		}
	}
}

func (s *Socket) pushState(state ConnState) {
	select {
	case s.states <- state:
	default:
	}
}
