package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"realtime-board/internal/broadcast"
	"realtime-board/internal/logging"
	"realtime-board/internal/model"
	"realtime-board/internal/registry"
)

// Palette 참가자 표시 색상
var Palette = []string{
	"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4",
	"#FECA57", "#DDA0DD", "#98D8C8", "#F7DC6F",
}

// Registry 세션 멤버십 저장소
type Registry interface {
	Join(ctx context.Context, sessionID string, p model.Participant) (registry.JoinResult, error)
	Leave(ctx context.Context, connID, sessionID string) (registry.LeaveResult, error)
	Roster(ctx context.Context, sessionID string) ([]model.Participant, error)
	SessionsOf(ctx context.Context, connID string) ([]string, error)
}

// BoardStore 공유 보드 저장소
type BoardStore interface {
	Get(ctx context.Context, sessionID string) *model.BoardSnapshot
	AddStroke(ctx context.Context, sessionID string, stroke model.Stroke) (model.Stroke, error)
	RemoveStroke(ctx context.Context, sessionID, strokeID string) (bool, error)
	MoveToken(ctx context.Context, sessionID, tokenID string, pos model.Position) (bool, error)
	PatchToken(ctx context.Context, sessionID, tokenID string, fields map[string]json.RawMessage) (map[string]json.RawMessage, bool, error)
	AddMarker(ctx context.Context, sessionID string, marker model.Marker) (model.Marker, error)
	MoveMarker(ctx context.Context, sessionID, markerID string, pos model.Position) (bool, error)
	RemoveMarker(ctx context.Context, sessionID, markerID string) (bool, error)
	Clear(ctx context.Context, sessionID string) error
	SetBackground(ctx context.Context, sessionID, imageRef string) error
}

// Coordinator 연결별 프로토콜 처리기.
// 연결 간 공유 상태는 두지 않고, 모든 상태는 Registry/BoardStore에 있다.
type Coordinator struct {
	registry Registry
	boards   BoardStore
	pub      broadcast.Publisher
	log      *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New Coordinator 생성자
func New(reg Registry, boards BoardStore, pub broadcast.Publisher, log logrus.FieldLogger) *Coordinator {
	return &Coordinator{
		registry: reg,
		boards:   boards,
		pub:      pub,
		log:      logging.Component(log, "coordinator"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Coordinator) pickColor() string {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return Palette[c.rng.Intn(len(Palette))]
}

// Connect 새 연결 (Unbound 상태로 시작)
func (c *Coordinator) Connect(conn *Connection) {
	c.log.WithField("conn_id", conn.ID).Info("Client connected")
}

// Disconnect 연결이 속한 모든 세션에서 나가고 남은 멤버에게 알림
func (c *Coordinator) Disconnect(ctx context.Context, conn *Connection, reason string) {
	sessions, err := c.registry.SessionsOf(ctx, conn.ID)
	if err != nil {
		c.log.WithFields(logrus.Fields{"conn_id": conn.ID, "error": err}).Warn("Session lookup failed on disconnect")
	}
	if bound := conn.SessionID(); bound != "" && !contains(sessions, bound) {
		sessions = append(sessions, bound)
	}

	for _, sid := range sessions {
		c.leaveSession(ctx, conn.ID, sid)
	}
	conn.unbind()

	c.log.WithFields(logrus.Fields{
		"conn_id":  conn.ID,
		"reason":   reason,
		"sessions": len(sessions),
	}).Info("Client disconnected")
}

// Handle 수신 메시지 디코딩 후 이벤트별 처리
func (c *Coordinator) Handle(ctx context.Context, conn *Connection, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(ctx, conn, "malformed message")
		return
	}

	entry := c.log.WithFields(logrus.Fields{"conn_id": conn.ID, "event": msg.Type})
	entry.Debug("Event received")

	switch msg.Type {
	case EventJoin:
		var p JoinPayload
		if c.decode(ctx, conn, msg, &p) {
			c.Join(ctx, conn, p)
		}
	case EventLeave:
		c.Leave(ctx, conn)
	case EventAddStroke:
		var p AddStrokePayload
		if c.decode(ctx, conn, msg, &p) {
			c.AddStroke(ctx, conn, p)
		}
	case EventRemoveStroke:
		var p RemoveStrokePayload
		if c.decode(ctx, conn, msg, &p) {
			c.RemoveStroke(ctx, conn, p)
		}
	case EventMoveToken:
		var p MoveTokenPayload
		if c.decode(ctx, conn, msg, &p) {
			c.MoveToken(ctx, conn, p)
		}
	case EventPatchTokenState:
		var p PatchTokenPayload
		if c.decode(ctx, conn, msg, &p) {
			c.PatchTokenState(ctx, conn, p)
		}
	case EventAddMarker:
		var p AddMarkerPayload
		if c.decode(ctx, conn, msg, &p) {
			c.AddMarker(ctx, conn, p)
		}
	case EventMoveMarker:
		var p MoveMarkerPayload
		if c.decode(ctx, conn, msg, &p) {
			c.MoveMarker(ctx, conn, p)
		}
	case EventRemoveMarker:
		var p RemoveMarkerPayload
		if c.decode(ctx, conn, msg, &p) {
			c.RemoveMarker(ctx, conn, p)
		}
	case EventLayerChange:
		var p LayerChangePayload
		if c.decode(ctx, conn, msg, &p) {
			c.LayerChange(ctx, conn, p)
		}
	case EventClearBoard:
		var p SessionPayload
		if c.decode(ctx, conn, msg, &p) {
			c.ClearBoard(ctx, conn, p)
		}
	case EventSetBackground:
		var p SetBackgroundPayload
		if c.decode(ctx, conn, msg, &p) {
			c.SetBackground(ctx, conn, p)
		}
	case EventPing:
		c.send(ctx, conn.ID, EventPong, Pong{Time: time.Now().UnixMilli()})
	default:
		entry.Warn("Unknown event type")
		c.sendError(ctx, conn, "unknown event type: "+msg.Type)
	}
}

// decode 페이로드 디코딩. 실패 시 개인 오류 이벤트 전송.
func (c *Coordinator) decode(ctx context.Context, conn *Connection, msg Message, v any) bool {
	if len(msg.Payload) == 0 || string(msg.Payload) == "null" {
		return true
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.sendError(ctx, conn, model.NewValidationError("payload", "malformed "+msg.Type+" payload").Error())
		return false
	}
	return true
}

// =============================================================================
// Session lifecycle
// =============================================================================

// Join 세션 참가. 성공 시 보드 스냅샷(개인), 입장 알림(나머지), 로스터(전체) 전송.
func (c *Coordinator) Join(ctx context.Context, conn *Connection, p JoinPayload) {
	sid := strings.TrimSpace(p.SessionID)
	if err := requireID("sessionId", sid); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = placeholderName(conn.ID)
	}
	participant := model.Participant{
		ID:        conn.ID,
		Name:      name,
		Color:     c.pickColor(),
		SessionID: sid,
		JoinedAt:  time.Now().UTC(),
	}

	entry := c.log.WithFields(logrus.Fields{"conn_id": conn.ID, "session_id": sid})

	res, err := c.registry.Join(ctx, sid, participant)
	if err != nil {
		entry.WithError(err).Error("Join failed")
		// 이전 세션에서는 이미 빠졌으므로 연결 상태도 맞춘다
		if res.Previous != "" {
			c.pub.Detach(res.Previous, conn.ID)
			conn.unbind()
			c.announceLeft(ctx, res.Previous, conn.ID)
		}
		c.sendError(ctx, conn, "failed to join session")
		return
	}
	participant = res.Participant

	// 이전 세션에 남은 멤버에게 퇴장 알림
	if res.Previous != "" {
		c.pub.Detach(res.Previous, conn.ID)
		c.announceLeft(ctx, res.Previous, conn.ID)
	}
	if bound := conn.SessionID(); bound != "" && bound != sid && bound != res.Previous {
		c.pub.Detach(bound, conn.ID)
	}

	conn.bind(sid, participant)

	// 스냅샷보다 늦게 저장된 변경은 스냅샷 뒤에 도착해야 한다
	c.pub.AttachHeld(sid, conn.ID)
	snapshot := broadcast.Event{Type: EventBoardSnapshot, Payload: c.boards.Get(ctx, sid)}
	if err := c.pub.Release(ctx, conn.ID, snapshot); err != nil {
		entry.WithError(err).Warn("Snapshot send failed")
	}
	c.broadcast(ctx, sid, EventParticipantJoined, participant, conn.ID)
	c.broadcastRoster(ctx, sid)

	entry.WithField("name", name).Info("Participant joined session")
}

// Leave 명시적 퇴장 (연결은 유지, Unbound로 전환)
func (c *Coordinator) Leave(ctx context.Context, conn *Connection) {
	sid := conn.SessionID()
	if sid == "" {
		return
	}
	c.leaveSession(ctx, conn.ID, sid)
	conn.unbind()
}

func (c *Coordinator) leaveSession(ctx context.Context, connID, sid string) {
	c.pub.Detach(sid, connID)

	res, err := c.registry.Leave(ctx, connID, sid)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"conn_id":    connID,
			"session_id": sid,
			"error":      err,
		}).Error("Leave failed")
		return
	}
	if res.TornDown {
		return
	}
	c.announceLeft(ctx, sid, connID)
}

func (c *Coordinator) announceLeft(ctx context.Context, sid, connID string) {
	c.broadcast(ctx, sid, EventParticipantLeft, ParticipantLeft{ConnectionID: connID}, connID)
	c.broadcastRoster(ctx, sid)
}

func (c *Coordinator) broadcastRoster(ctx context.Context, sid string) {
	roster, err := c.registry.Roster(ctx, sid)
	if err != nil {
		c.log.WithFields(logrus.Fields{"session_id": sid, "error": err}).Error("Roster lookup failed")
		return
	}
	c.broadcast(ctx, sid, EventRosterUpdate, RosterUpdate{SessionID: sid, Participants: roster}, "")
}

// =============================================================================
// Board mutations
// =============================================================================

// bound 변경 이벤트의 대상 세션. Unbound이거나 다른 세션을 가리키면 조용히 버린다.
func (c *Coordinator) bound(conn *Connection, event, payloadSession string) (string, bool) {
	sid := conn.SessionID()
	entry := c.log.WithFields(logrus.Fields{"conn_id": conn.ID, "event": event})
	if sid == "" {
		entry.Debug("Dropping event from unbound connection")
		return "", false
	}
	if payloadSession != "" && payloadSession != sid {
		entry.WithFields(logrus.Fields{
			"session_id":         sid,
			"payload_session_id": payloadSession,
		}).Warn("Dropping event for a session the connection is not bound to")
		return "", false
	}
	return sid, true
}

// AddStroke 스트로크 추가 후 발신자를 제외하고 방송
func (c *Coordinator) AddStroke(ctx context.Context, conn *Connection, p AddStrokePayload) {
	sid, ok := c.bound(conn, EventAddStroke, p.SessionID)
	if !ok {
		return
	}
	if err := validateStroke(p.Stroke); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	stroke, err := c.boards.AddStroke(ctx, sid, p.Stroke)
	if err != nil {
		c.storeFailed(ctx, conn, sid, EventAddStroke, err)
		return
	}
	c.broadcast(ctx, sid, EventStrokeAdded, StrokeAdded{SenderID: conn.ID, Stroke: stroke}, conn.ID)
}

// RemoveStroke 스트로크 삭제 후 방송
func (c *Coordinator) RemoveStroke(ctx context.Context, conn *Connection, p RemoveStrokePayload) {
	sid, ok := c.bound(conn, EventRemoveStroke, p.SessionID)
	if !ok {
		return
	}
	if err := requireID("strokeId", p.StrokeID); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	if _, err := c.boards.RemoveStroke(ctx, sid, p.StrokeID); err != nil {
		c.storeFailed(ctx, conn, sid, EventRemoveStroke, err)
		return
	}
	c.broadcast(ctx, sid, EventStrokeRemoved, StrokeRemoved{SenderID: conn.ID, StrokeID: p.StrokeID}, conn.ID)
}

// MoveToken 토큰 이동. 없는 토큰이면 no-op.
func (c *Coordinator) MoveToken(ctx context.Context, conn *Connection, p MoveTokenPayload) {
	sid, ok := c.bound(conn, EventMoveToken, p.SessionID)
	if !ok {
		return
	}
	if err := requireID("tokenId", p.TokenID); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}
	pos, err := validatePosition(p.Position)
	if err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	found, err := c.boards.MoveToken(ctx, sid, p.TokenID, pos)
	if err != nil {
		c.storeFailed(ctx, conn, sid, EventMoveToken, err)
		return
	}
	if !found {
		c.notFound(conn, sid, EventMoveToken, p.TokenID)
		return
	}
	c.broadcast(ctx, sid, EventTokenMoved, TokenMoved{SenderID: conn.ID, TokenID: p.TokenID, Position: pos}, conn.ID)
}

// PatchTokenState 토큰 필드 일부 변경 (예: markedOut)
func (c *Coordinator) PatchTokenState(ctx context.Context, conn *Connection, p PatchTokenPayload) {
	sid, ok := c.bound(conn, EventPatchTokenState, p.SessionID)
	if !ok {
		return
	}
	if err := requireID("tokenId", p.TokenID); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}
	if len(p.Fields) == 0 {
		c.sendError(ctx, conn, model.NewValidationError("fields", "must not be empty").Error())
		return
	}

	applied, found, err := c.boards.PatchToken(ctx, sid, p.TokenID, p.Fields)
	if err != nil {
		c.storeFailed(ctx, conn, sid, EventPatchTokenState, err)
		return
	}
	if !found {
		c.notFound(conn, sid, EventPatchTokenState, p.TokenID)
		return
	}
	// 저장된 필드만 방송. 반영된 것이 없으면 알릴 것도 없다.
	if len(applied) == 0 {
		return
	}
	c.broadcast(ctx, sid, EventTokenStateChanged, TokenStateChanged{SenderID: conn.ID, TokenID: p.TokenID, Fields: applied}, conn.ID)
}

// AddMarker 마커 검증 후 저장, 발신자 포함 전체 방송. 저장 실패는 발신자에게만 알림.
func (c *Coordinator) AddMarker(ctx context.Context, conn *Connection, p AddMarkerPayload) {
	sid, ok := c.bound(conn, EventAddMarker, p.SessionID)
	if !ok {
		return
	}
	marker, err := validateMarker(p)
	if err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	marker, err = c.boards.AddMarker(ctx, sid, marker)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"conn_id":    conn.ID,
			"session_id": sid,
			"error":      err,
		}).Error("Marker was not persisted")
		c.sendError(ctx, conn, "marker was not placed: storage failure")
		return
	}
	c.broadcast(ctx, sid, EventMarkerAdded, MarkerAdded{SenderID: conn.ID, Marker: marker}, "")
}

// MoveMarker 마커 이동. 없는 마커면 no-op.
func (c *Coordinator) MoveMarker(ctx context.Context, conn *Connection, p MoveMarkerPayload) {
	sid, ok := c.bound(conn, EventMoveMarker, p.SessionID)
	if !ok {
		return
	}
	if err := requireID("markerId", p.MarkerID); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}
	pos, err := validatePosition(p.Position)
	if err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	found, err := c.boards.MoveMarker(ctx, sid, p.MarkerID, pos)
	if err != nil {
		c.storeFailed(ctx, conn, sid, EventMoveMarker, err)
		return
	}
	if !found {
		c.notFound(conn, sid, EventMoveMarker, p.MarkerID)
		return
	}
	c.broadcast(ctx, sid, EventMarkerMoved, MarkerMoved{SenderID: conn.ID, MarkerID: p.MarkerID, Position: pos}, conn.ID)
}

// RemoveMarker 마커 삭제 후 방송
func (c *Coordinator) RemoveMarker(ctx context.Context, conn *Connection, p RemoveMarkerPayload) {
	sid, ok := c.bound(conn, EventRemoveMarker, p.SessionID)
	if !ok {
		return
	}
	if err := requireID("markerId", p.MarkerID); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}

	if _, err := c.boards.RemoveMarker(ctx, sid, p.MarkerID); err != nil {
		c.storeFailed(ctx, conn, sid, EventRemoveMarker, err)
		return
	}
	c.broadcast(ctx, sid, EventMarkerRemoved, MarkerRemoved{SenderID: conn.ID, MarkerID: p.MarkerID}, conn.ID)
}

// LayerChange 저장하지 않고 그대로 중계
func (c *Coordinator) LayerChange(ctx context.Context, conn *Connection, p LayerChangePayload) {
	sid, ok := c.bound(conn, EventLayerChange, p.SessionID)
	if !ok {
		return
	}
	if err := validateLayerChange(p.Layer.String()); err != nil {
		c.sendError(ctx, conn, err.Error())
		return
	}
	c.broadcast(ctx, sid, EventLayerChanged, LayerChanged{SenderID: conn.ID, Layer: p.Layer}, conn.ID)
}

// ClearBoard 보드 초기화 후 발신자 포함 전체 방송
func (c *Coordinator) ClearBoard(ctx context.Context, conn *Connection, p SessionPayload) {
	sid, ok := c.bound(conn, EventClearBoard, p.SessionID)
	if !ok {
		return
	}
	if err := c.boards.Clear(ctx, sid); err != nil {
		c.storeFailed(ctx, conn, sid, EventClearBoard, err)
		return
	}
	c.broadcast(ctx, sid, EventBoardCleared, BoardCleared{SenderID: conn.ID}, "")
}

// SetBackground 배경 이미지 변경 후 발신자 포함 전체 방송
func (c *Coordinator) SetBackground(ctx context.Context, conn *Connection, p SetBackgroundPayload) {
	sid, ok := c.bound(conn, EventSetBackground, p.SessionID)
	if !ok {
		return
	}
	ref := strings.TrimSpace(p.ImageRef)
	if err := c.boards.SetBackground(ctx, sid, ref); err != nil {
		c.storeFailed(ctx, conn, sid, EventSetBackground, err)
		return
	}
	c.broadcast(ctx, sid, EventBackgroundChanged, BackgroundChanged{SenderID: conn.ID, ImageRef: ref}, "")
}

// =============================================================================
// helpers
// =============================================================================

func (c *Coordinator) storeFailed(ctx context.Context, conn *Connection, sid, event string, err error) {
	if model.IsValidation(err) {
		c.sendError(ctx, conn, err.Error())
		return
	}
	c.log.WithFields(logrus.Fields{
		"conn_id":    conn.ID,
		"session_id": sid,
		"event":      event,
		"error":      err,
	}).Error("Board update failed")
	c.sendError(ctx, conn, event+" failed: storage unavailable")
}

func (c *Coordinator) notFound(conn *Connection, sid, event, id string) {
	c.log.WithFields(logrus.Fields{
		"conn_id":    conn.ID,
		"session_id": sid,
		"event":      event,
		"target":     id,
	}).Debug("Target not found, ignoring")
}

func (c *Coordinator) send(ctx context.Context, connID, typ string, payload any) {
	if err := c.pub.Send(ctx, connID, broadcast.Event{Type: typ, Payload: payload}); err != nil {
		c.log.WithFields(logrus.Fields{"conn_id": connID, "event": typ, "error": err}).Warn("Send failed")
	}
}

func (c *Coordinator) sendError(ctx context.Context, conn *Connection, message string) {
	c.send(ctx, conn.ID, EventError, ErrorPayload{Message: message})
}

func (c *Coordinator) broadcast(ctx context.Context, sid, typ string, payload any, exclude string) {
	err := c.pub.Broadcast(ctx, sid, broadcast.Event{Type: typ, Payload: payload}, exclude)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.WithFields(logrus.Fields{"session_id": sid, "event": typ, "error": err}).Warn("Broadcast failed")
	}
}

// placeholderName 이름 없이 참가한 연결의 표시 이름
func placeholderName(connID string) string {
	short := connID
	if len(short) > 6 {
		short = short[:6]
	}
	return "User-" + short
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
