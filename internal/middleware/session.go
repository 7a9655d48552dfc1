package middleware

import (
	"strings"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// LocalRoomID 검증된 세션 ID를 담는 Locals 키
const LocalRoomID = "roomID"

// maxRoomIDLen 세션 ID 최대 길이
const maxRoomIDLen = 128

// roomIDFromContext URL에서 세션 ID 추출
func roomIDFromContext(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("roomId"))
	if id == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "room ID is required")
	}
	if len(id) > maxRoomIDLen || strings.ContainsAny(id, ": \t\n") {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid room ID")
	}
	return id, nil
}

// RequireRoomID :roomId 파라미터 필수
func RequireRoomID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		roomID, err := roomIDFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}

		c.Locals(LocalRoomID, roomID)
		return c.Next()
	}
}

// RoomID RequireRoomID가 저장한 세션 ID
func RoomID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRoomID).(string)
	return id
}

// RequireUpgrade WebSocket 업그레이드 요청만 통과
func RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}
