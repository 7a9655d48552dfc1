package coordinator

import (
	"sync"
	"time"

	"realtime-board/internal/model"
)

// State 연결의 프로토콜 상태
type State int

const (
	StateUnbound State = iota // 세션 없음
	StateBound                // 세션에 참가 중
)

// String 상태를 문자열로 반환
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	default:
		return "unknown"
	}
}

// Connection 라이브 연결 하나의 상태 (Thread-Safe)
type Connection struct {
	ID          string
	ConnectedAt time.Time

	mu          sync.RWMutex
	state       State
	sessionID   string
	participant model.Participant
}

// NewConnection 새 연결 (Unbound)
func NewConnection(id string) *Connection {
	return &Connection{
		ID:          id,
		ConnectedAt: time.Now(),
		state:       StateUnbound,
	}
}

// State 현재 상태
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SessionID 바인딩된 세션 (Unbound면 "")
func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Participant 현재 참가자 정보
func (c *Connection) Participant() model.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.participant
}

func (c *Connection) bind(sessionID string, p model.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateBound
	c.sessionID = sessionID
	c.participant = p
}

// unbind Unbound로 전환하고 이전 세션 반환
func (c *Connection) unbind() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.sessionID
	c.state = StateUnbound
	c.sessionID = ""
	c.participant = model.Participant{}
	return prev
}
