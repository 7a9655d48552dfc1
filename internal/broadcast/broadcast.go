package broadcast

import "context"

// Event 클라이언트로 나가는 메시지 envelope
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Sink 연결 하나의 송신 큐
type Sink interface {
	ID() string
	// Enqueue 블로킹 없이 큐에 넣는다. 큐가 가득 차면 false.
	Enqueue(data []byte) bool
}

// Publisher 세션 단위 발행 인터페이스. Coordinator는 전송 계층을 몰라도 된다.
type Publisher interface {
	Register(sink Sink)
	Unregister(connID string)
	Attach(sessionID, connID string)
	// AttachHeld 세션에 붙이되 Release 전까지 들어오는 방송은 보류
	AttachHeld(sessionID, connID string)
	// Release first를 보낸 뒤 보류된 방송을 순서대로 전달
	Release(ctx context.Context, connID string, first Event) error
	Detach(sessionID, connID string)

	// Broadcast 세션의 모든 연결에 전달. exclude가 비어 있지 않으면 해당 연결은 제외.
	Broadcast(ctx context.Context, sessionID string, ev Event, exclude string) error
	// Send 연결 하나에만 전달
	Send(ctx context.Context, connID string, ev Event) error
}

var (
	_ Publisher = (*Hub)(nil)
	_ Publisher = (*RedisRelay)(nil)
)
