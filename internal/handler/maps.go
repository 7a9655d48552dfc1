package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/logging"
	"realtime-board/internal/model"
	"realtime-board/internal/storage"
)

// MapHandler 배경 이미지 업로드/목록
type MapHandler struct {
	svc *storage.Service
	log *logrus.Entry
}

// NewMapHandler MapHandler 생성
func NewMapHandler(svc *storage.Service, log logrus.FieldLogger) *MapHandler {
	return &MapHandler{svc: svc, log: logging.Component(log, "maps")}
}

// UploadMap multipart "map" 필드 업로드
// POST /api/maps/upload
func (h *MapHandler) UploadMap(c *fiber.Ctx) error {
	fh, err := c.FormFile("map")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No file uploaded"})
	}

	f, err := fh.Open()
	if err != nil {
		h.log.WithError(err).Error("Failed to open uploaded file")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload map"})
	}
	defer f.Close()

	up, err := h.svc.Upload(c.UserContext(), fh.Filename, fh.Header.Get("Content-Type"), fh.Size, f)
	if err != nil {
		if model.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		h.log.WithFields(logrus.Fields{"filename": fh.Filename, "error": err}).Error("Failed to upload map")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload map"})
	}
	return c.JSON(up)
}

// ListMaps 업로드된 배경 이미지 목록
// GET /api/maps/list
func (h *MapHandler) ListMaps(c *fiber.Ctx) error {
	maps, err := h.svc.List(c.UserContext())
	if err != nil {
		h.log.WithError(err).Error("Failed to list maps")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list maps"})
	}
	return c.JSON(fiber.Map{"maps": maps})
}
