package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"realtime-board/internal/logging"
)

// Hub 프로세스 내 세션별 연결 관리 및 fan-out
type Hub struct {
	conns map[string]Sink
	rooms map[string]map[string]struct{} // sessionID -> connIDs
	mu    sync.RWMutex
	log   *logrus.Entry

	// Release 전까지 보류 중인 방송 (connID -> 메시지)
	held   map[string][][]byte
	heldMu sync.Mutex
}

// NewHub Hub 생성자
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		conns: make(map[string]Sink),
		rooms: make(map[string]map[string]struct{}),
		log:   logging.Component(log, "hub"),
		held:  make(map[string][][]byte),
	}
}

// Register 연결 등록
func (h *Hub) Register(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sink.ID()] = sink
}

// Unregister 연결 제거 (모든 세션에서 분리)
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, connID)
	for sid, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, sid)
		}
	}

	h.heldMu.Lock()
	delete(h.held, connID)
	h.heldMu.Unlock()
}

// Attach 연결을 세션 방송 대상에 추가
func (h *Hub) Attach(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[sessionID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[sessionID] = members
	}
	members[connID] = struct{}{}
}

// AttachHeld Attach와 같지만 Release 전까지 이 연결로 가는 방송은 보류한다.
func (h *Hub) AttachHeld(sessionID, connID string) {
	h.heldMu.Lock()
	if _, ok := h.held[connID]; !ok {
		h.held[connID] = nil
	}
	h.heldMu.Unlock()
	h.Attach(sessionID, connID)
}

// Release first를 먼저 보낸 뒤 보류된 방송을 받은 순서대로 전달
func (h *Hub) Release(_ context.Context, connID string, first Event) error {
	data, err := json.Marshal(first)
	if err != nil {
		return err
	}

	h.mu.RLock()
	sink, ok := h.conns[connID]
	h.mu.RUnlock()

	h.heldMu.Lock()
	defer h.heldMu.Unlock()
	pending := h.held[connID]
	delete(h.held, connID)
	if !ok {
		return nil
	}
	h.enqueue(sink, data)
	for _, msg := range pending {
		h.enqueue(sink, msg)
	}
	return nil
}

// Detach 연결을 세션 방송 대상에서 제거
func (h *Hub) Detach(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[sessionID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, sessionID)
		}
	}
}

// Broadcast 세션 전체에 전달 (exclude 제외)
func (h *Hub) Broadcast(_ context.Context, sessionID string, ev Event, exclude string) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.deliver(sessionID, data, exclude)
	return nil
}

// Send 연결 하나에 전달. 연결이 없으면 조용히 무시.
func (h *Hub) Send(_ context.Context, connID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	h.mu.RLock()
	sink, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		h.enqueue(sink, data)
	}
	return nil
}

// Members 세션에 붙어 있는 로컬 연결 수
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) deliver(sessionID string, data []byte, exclude string) {
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.rooms[sessionID]))
	for connID := range h.rooms[sessionID] {
		if connID == exclude {
			continue
		}
		if sink, ok := h.conns[connID]; ok {
			targets = append(targets, sink)
		}
	}
	h.mu.RUnlock()

	h.heldMu.Lock()
	defer h.heldMu.Unlock()
	for _, sink := range targets {
		if pending, ok := h.held[sink.ID()]; ok {
			h.held[sink.ID()] = append(pending, data)
			continue
		}
		h.enqueue(sink, data)
	}
}

func (h *Hub) enqueue(sink Sink, data []byte) {
	if !sink.Enqueue(data) {
		h.log.WithField("conn_id", sink.ID()).Warn("Send queue full, dropping message")
	}
}
