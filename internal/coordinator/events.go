package coordinator

import (
	"encoding/json"

	"realtime-board/internal/model"
)

// 클라이언트 -> 서버 이벤트
const (
	EventJoin            = "join"
	EventLeave           = "leave"
	EventAddStroke       = "addStroke"
	EventRemoveStroke    = "removeStroke"
	EventMoveToken       = "moveToken"
	EventPatchTokenState = "patchTokenState"
	EventAddMarker       = "addMarker"
	EventMoveMarker      = "moveMarker"
	EventRemoveMarker    = "removeMarker"
	EventLayerChange     = "layerChange"
	EventClearBoard      = "clearBoard"
	EventSetBackground   = "setBackground"
	EventPing            = "ping"
)

// 서버 -> 클라이언트 이벤트
const (
	EventBoardSnapshot     = "boardSnapshot"
	EventParticipantJoined = "participantJoined"
	EventParticipantLeft   = "participantLeft"
	EventRosterUpdate      = "rosterUpdate"
	EventStrokeAdded       = "strokeAdded"
	EventStrokeRemoved     = "strokeRemoved"
	EventTokenMoved        = "tokenMoved"
	EventTokenStateChanged = "tokenStateChanged"
	EventMarkerAdded       = "markerAdded"
	EventMarkerMoved       = "markerMoved"
	EventMarkerRemoved     = "markerRemoved"
	EventLayerChanged      = "layerChanged"
	EventBoardCleared      = "boardCleared"
	EventBackgroundChanged = "backgroundChanged"
	EventError             = "error"
	EventPong              = "pong"
)

// Message 수신 envelope
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// PositionInput 누락 여부를 구분하기 위한 좌표 입력
type PositionInput struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// --- inbound payloads ---

type JoinPayload struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
}

type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

type AddStrokePayload struct {
	SessionID string       `json:"sessionId"`
	Stroke    model.Stroke `json:"stroke"`
}

type RemoveStrokePayload struct {
	SessionID string `json:"sessionId"`
	StrokeID  string `json:"strokeId"`
}

type MoveTokenPayload struct {
	SessionID string         `json:"sessionId"`
	TokenID   string         `json:"tokenId"`
	Position  *PositionInput `json:"position"`
}

type PatchTokenPayload struct {
	SessionID string                     `json:"sessionId"`
	TokenID   string                     `json:"tokenId"`
	Fields    map[string]json.RawMessage `json:"fields"`
}

type AddMarkerPayload struct {
	SessionID string         `json:"sessionId"`
	Type      string         `json:"type"`
	Position  *PositionInput `json:"position"`
	Layer     *float64       `json:"layer"`
	Content   string         `json:"content,omitempty"`
	ImageURL  string         `json:"imageUrl,omitempty"`
}

type MoveMarkerPayload struct {
	SessionID string         `json:"sessionId"`
	MarkerID  string         `json:"markerId"`
	Position  *PositionInput `json:"position"`
}

type RemoveMarkerPayload struct {
	SessionID string `json:"sessionId"`
	MarkerID  string `json:"markerId"`
}

type LayerChangePayload struct {
	SessionID string      `json:"sessionId"`
	Layer     json.Number `json:"layer"`
}

type SetBackgroundPayload struct {
	SessionID string `json:"sessionId"`
	ImageRef  string `json:"imageRef"`
}

// --- outbound payloads ---

type ParticipantLeft struct {
	ConnectionID string `json:"connectionId"`
}

type RosterUpdate struct {
	SessionID    string              `json:"sessionId"`
	Participants []model.Participant `json:"participants"`
}

type StrokeAdded struct {
	SenderID string       `json:"senderId"`
	Stroke   model.Stroke `json:"stroke"`
}

type StrokeRemoved struct {
	SenderID string `json:"senderId"`
	StrokeID string `json:"strokeId"`
}

type TokenMoved struct {
	SenderID string         `json:"senderId"`
	TokenID  string         `json:"tokenId"`
	Position model.Position `json:"position"`
}

type TokenStateChanged struct {
	SenderID string                     `json:"senderId"`
	TokenID  string                     `json:"tokenId"`
	Fields   map[string]json.RawMessage `json:"fields"`
}

type MarkerAdded struct {
	SenderID string       `json:"senderId"`
	Marker   model.Marker `json:"marker"`
}

type MarkerMoved struct {
	SenderID string         `json:"senderId"`
	MarkerID string         `json:"markerId"`
	Position model.Position `json:"position"`
}

type MarkerRemoved struct {
	SenderID string `json:"senderId"`
	MarkerID string `json:"markerId"`
}

type LayerChanged struct {
	SenderID string      `json:"senderId"`
	Layer    json.Number `json:"layer"`
}

type BoardCleared struct {
	SenderID string `json:"senderId"`
}

type BackgroundChanged struct {
	SenderID string `json:"senderId"`
	ImageRef string `json:"imageRef"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type Pong struct {
	Time int64 `json:"time"`
}
