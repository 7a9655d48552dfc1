package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"realtime-board/internal/database"
)

// healthTimeout 컴포넌트별 확인 제한 시간
const healthTimeout = 2 * time.Second

const (
	statusHealthy       = "healthy"
	statusDegraded      = "degraded"
	statusUnhealthy     = "unhealthy"
	statusNotConfigured = "not_configured"
)

// Pinger 상태 확인 가능한 저장소
type Pinger interface {
	Health(ctx context.Context) error
}

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	store Pinger
	db    *gorm.DB // nil이면 카탈로그 미사용
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(store Pinger, db *gorm.DB) *HealthHandler {
	return &HealthHandler{store: store, db: db}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse /api/health 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// probe check 실행 시간 측정. 실패 시 내부 오류 대신 failMsg만 노출.
func probe(check func() error, failMsg string) ComponentCheck {
	start := time.Now()
	if err := check(); err != nil {
		return ComponentCheck{Status: statusUnhealthy, Error: failMsg}
	}
	return ComponentCheck{Status: statusHealthy, Latency: time.Since(start).String()}
}

func (h *HealthHandler) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return h.store.Health(ctx)
}

// Check Redis + 카탈로그 DB 상태.
// Redis 실패는 503(unhealthy), DB만 실패하면 200(degraded).
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	checks := map[string]ComponentCheck{
		"redis": probe(func() error { return h.pingStore(c.UserContext()) }, "redis ping failed"),
	}
	if h.db != nil {
		checks["database"] = probe(func() error { return database.Ping(h.db) }, "database ping failed")
	} else {
		checks["database"] = ComponentCheck{Status: statusNotConfigured}
	}

	overall := statusHealthy
	switch {
	case checks["redis"].Status != statusHealthy:
		overall = statusUnhealthy
	case checks["database"].Status == statusUnhealthy:
		overall = statusDegraded
	}

	code := fiber.StatusOK
	if overall == statusUnhealthy {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(HealthResponse{
		Status:    overall,
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	})
}

// Liveness 프로세스 생존 여부만 확인
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness Redis에 닿을 수 있을 때만 트래픽 수신
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if err := h.pingStore(c.UserContext()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
