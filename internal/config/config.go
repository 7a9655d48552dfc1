package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Board     BoardConfig
	Fanout    FanoutConfig
	Storage   StorageConfig
	S3        S3Config
	Database  DatabaseConfig
	Log       LogConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BodyLimit    int
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
	SendQueueSize   int
}

// PingPeriod pong 대기 시간보다 짧아야 함
func (w WebSocketConfig) PingPeriod() time.Duration {
	return (w.PongWait * 9) / 10
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// RateLimitConfig /api 요청 제한
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// RedisConfig Redis 설정
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	DialAttempts int
	DialBackoff  time.Duration
}

// BoardConfig 세션/보드 보존 정책
type BoardConfig struct {
	SessionTTL  time.Duration
	BoardTTL    time.Duration
	StrokeLimit int
	MarkerLimit int
	CASRetries  int
}

// FanoutConfig 브로드캐스트 방식 (local | redis)
type FanoutConfig struct {
	Mode    string
	Channel string
}

// StorageConfig 배경 이미지 저장소 설정
type StorageConfig struct {
	Driver        string // disk | s3
	UploadDir     string
	PublicPath    string
	MaxUploadSize int64
}

// S3Config AWS S3 설정
type S3Config struct {
	Region          string
	BucketName      string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	Prefix          string
	Endpoint        string // MinIO 등 S3 호환 스토리지
	UsePathStyle    bool
}

// DatabaseConfig 업로드 카탈로그용 PostgreSQL 설정 (Host가 비어 있으면 사용 안 함)
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string
}

// Enabled 카탈로그 DB 사용 여부
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// DSN PostgreSQL 접속 문자열
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode, d.TimeZone,
	)
}

// LogConfig 로그 설정
type LogConfig struct {
	Level  string
	Format string // text | json
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":4000"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			BodyLimit:    getInt("BODY_LIMIT", 12*1024*1024),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize: getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			WriteTimeout:    getDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			PongWait:        getDuration("WS_PONG_WAIT", 60*time.Second),
			MaxMessageSize:  int64(getInt("WS_MAX_MESSAGE_SIZE", 512*1024)),
			SendQueueSize:   getInt("WS_SEND_QUEUE_SIZE", 256),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept"),
		},
		RateLimit: RateLimitConfig{
			Max:    getInt("RATE_LIMIT_MAX", 100),
			Window: getDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getInt("REDIS_DB", 0),
			KeyPrefix:    getEnv("REDIS_KEY_PREFIX", "tb:"),
			DialAttempts: getInt("REDIS_DIAL_ATTEMPTS", 5),
			DialBackoff:  getDuration("REDIS_DIAL_BACKOFF", 500*time.Millisecond),
		},
		Board: BoardConfig{
			SessionTTL:  getDuration("SESSION_TTL", 7*24*time.Hour),
			BoardTTL:    getDuration("BOARD_TTL", 24*time.Hour),
			StrokeLimit: getInt("BOARD_STROKE_LIMIT", 1000),
			MarkerLimit: getInt("BOARD_MARKER_LIMIT", 500),
			CASRetries:  getInt("BOARD_CAS_RETRIES", 8),
		},
		Fanout: FanoutConfig{
			Mode:    getEnv("FANOUT_MODE", "local"),
			Channel: getEnv("FANOUT_CHANNEL", "board_events"),
		},
		Storage: StorageConfig{
			Driver:        getEnv("STORAGE_DRIVER", "disk"),
			UploadDir:     getEnv("UPLOAD_DIR", "./uploads/maps"),
			PublicPath:    getEnv("UPLOAD_PUBLIC_PATH", "/uploads/maps"),
			MaxUploadSize: int64(getInt("MAX_UPLOAD_SIZE", 10*1024*1024)),
		},
		S3: S3Config{
			Region:          getEnv("AWS_REGION", "ap-northeast-2"),
			BucketName:      getEnv("AWS_S3_BUCKET", ""),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			PublicBaseURL:   getEnv("AWS_S3_PUBLIC_URL", ""),
			Prefix:          getEnv("AWS_S3_PREFIX", "maps/"),
			Endpoint:        getEnv("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getBool("AWS_S3_PATH_STYLE", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			TimeZone: getEnv("DB_TIMEZONE", "Asia/Seoul"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Validate 설정값 검증
func (c *Config) Validate() error {
	switch c.Fanout.Mode {
	case "local", "redis":
	default:
		return fmt.Errorf("config: unknown FANOUT_MODE %q", c.Fanout.Mode)
	}
	switch c.Storage.Driver {
	case "disk":
	case "s3":
		if c.S3.BucketName == "" {
			return fmt.Errorf("config: STORAGE_DRIVER=s3 requires AWS_S3_BUCKET")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	if c.Board.StrokeLimit <= 0 || c.Board.MarkerLimit <= 0 {
		return fmt.Errorf("config: board limits must be positive")
	}
	if c.Board.SessionTTL <= 0 || c.Board.BoardTTL <= 0 {
		return fmt.Errorf("config: TTLs must be positive")
	}
	if c.Board.CASRetries <= 0 {
		return fmt.Errorf("config: BOARD_CAS_RETRIES must be positive")
	}
	return nil
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
