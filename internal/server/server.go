package server

import (
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"realtime-board/internal/broadcast"
	"realtime-board/internal/cache"
	"realtime-board/internal/config"
	"realtime-board/internal/coordinator"
	"realtime-board/internal/handler"
	"realtime-board/internal/logging"
	"realtime-board/internal/middleware"
	"realtime-board/internal/storage"
)

// shutdownTimeout 진행 중인 요청을 기다리는 최대 시간
const shutdownTimeout = 30 * time.Second

// Deps 서버가 라우팅하는 구성 요소
type Deps struct {
	Redis       *cache.RedisClient
	DB          *gorm.DB // nil 가능
	Rooms       handler.RoomReader
	Coordinator *coordinator.Coordinator
	Publisher   broadcast.Publisher
	Maps        *storage.Service
}

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	log           *logrus.Entry
	accessLog     io.WriteCloser
	healthHandler *handler.HealthHandler
	roomHandler   *handler.RoomHandler
	mapHandler    *handler.MapHandler
	boardWS       *handler.BoardWSHandler
	onShutdown    []func()
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, deps Deps, log logrus.FieldLogger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Realtime Board",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             cfg.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	entry := logging.Component(log, "server")
	return &Server{
		app:           app,
		cfg:           cfg,
		log:           entry,
		accessLog:     entry.WriterLevel(logrus.InfoLevel),
		healthHandler: handler.NewHealthHandler(deps.Redis, deps.DB),
		roomHandler:   handler.NewRoomHandler(deps.Rooms, log),
		mapHandler:    handler.NewMapHandler(deps.Maps, log),
		boardWS:       handler.NewBoardWSHandler(deps.Coordinator, deps.Publisher, cfg.WebSocket, log),
	}
}

// App 내부 Fiber 앱 (테스트용)
func (s *Server) App() *fiber.App {
	return s.app
}

// OnShutdown 종료 시 실행할 정리 함수 등록 (등록 역순 실행)
func (s *Server) OnShutdown(fn func()) {
	s.onShutdown = append(s.onShutdown, fn)
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		Output:     s.accessLog,
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: s.cfg.CORS.AllowHeaders,
		AllowMethods: "GET, POST, OPTIONS",
	}))

	// 정적 파일 제공 (디스크 저장소일 때만)
	if s.cfg.Storage.Driver == "disk" {
		s.app.Static(s.cfg.Storage.PublicPath, s.cfg.Storage.UploadDir)
	}
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter (/api 전체, IP 기준)
	apiLimiter := limiter.New(limiter.Config{
		Max:        s.cfg.RateLimit.Max,
		Expiration: s.cfg.RateLimit.Window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	api := s.app.Group("/api", apiLimiter)
	api.Get("/health", s.healthHandler.Check)

	// Room 라우트
	rooms := api.Group("/rooms")
	rooms.Post("/create", s.roomHandler.CreateRoom)
	rooms.Get("/:roomId", middleware.RequireRoomID(), s.roomHandler.GetRoom)
	rooms.Get("/:roomId/users", middleware.RequireRoomID(), s.roomHandler.GetRoomUsers)

	// Map 라우트
	maps := api.Group("/maps")
	maps.Post("/upload", s.mapHandler.UploadMap)
	maps.Get("/list", s.mapHandler.ListMaps)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", middleware.RequireUpgrade())

	// WebSocket 보드 동기화 엔드포인트
	s.app.Get("/ws/board", websocket.New(s.boardWS.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		s.log.WithField("signal", sig.String()).Info("Shutting down server")
		if err := s.Shutdown(); err != nil {
			s.log.WithError(err).Error("Server shutdown error")
		}
	}()

	s.log.WithField("addr", s.cfg.Server.Port).Info("Realtime Board starting")
	return s.app.Listen(s.cfg.Server.Port)
}

// Listener 이미 열린 리스너로 서비스 (테스트용)
func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown 서버 종료 후 정리 함수 실행
func (s *Server) Shutdown() error {
	err := s.app.ShutdownWithTimeout(shutdownTimeout)
	for i := len(s.onShutdown) - 1; i >= 0; i-- {
		s.onShutdown[i]()
	}
	s.onShutdown = nil
	_ = s.accessLog.Close()
	return err
}
