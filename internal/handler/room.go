package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/logging"
	"realtime-board/internal/middleware"
	"realtime-board/internal/model"
)

// RoomReader 세션 조회에 필요한 Registry 기능
type RoomReader interface {
	SessionInfo(ctx context.Context, sessionID string) (*model.Session, error)
	Roster(ctx context.Context, sessionID string) ([]model.Participant, error)
}

// RoomHandler 세션 REST API
type RoomHandler struct {
	rooms RoomReader
	log   *logrus.Entry
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(rooms RoomReader, log logrus.FieldLogger) *RoomHandler {
	return &RoomHandler{rooms: rooms, log: logging.Component(log, "rooms")}
}

// RoomInfoResponse 세션 정보 + 현재 참가자
type RoomInfoResponse struct {
	*model.Session
	Users     []model.Participant `json:"users"`
	UserCount int                 `json:"userCount"`
}

// CreateRoom 새 세션 ID 발급. 세션은 첫 참가 시 만들어진다.
// POST /api/rooms/create
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"roomId": uuid.NewString()})
}

// GetRoom 세션 정보 조회
// GET /api/rooms/:roomId
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	roomID := middleware.RoomID(c)

	info, err := h.rooms.SessionInfo(c.UserContext(), roomID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Room not found"})
		}
		h.log.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("Failed to get room info")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get room info"})
	}

	users, err := h.rooms.Roster(c.UserContext(), roomID)
	if err != nil {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("Failed to get room users")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get room info"})
	}

	return c.JSON(RoomInfoResponse{Session: info, Users: users, UserCount: len(users)})
}

// GetRoomUsers 세션 참가자 목록
// GET /api/rooms/:roomId/users
func (h *RoomHandler) GetRoomUsers(c *fiber.Ctx) error {
	roomID := middleware.RoomID(c)

	users, err := h.rooms.Roster(c.UserContext(), roomID)
	if err != nil {
		h.log.WithFields(logrus.Fields{"room_id": roomID, "error": err}).Error("Failed to get room users")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get room users"})
	}
	return c.JSON(fiber.Map{"users": users})
}
