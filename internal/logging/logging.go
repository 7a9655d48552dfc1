package logging

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"realtime-board/internal/config"
)

// New 설정에 맞는 logrus 로거 생성
func New(cfg config.LogConfig) *logrus.Logger {
	return NewWithOutput(cfg, os.Stdout)
}

// NewWithOutput 출력 대상을 지정해 로거 생성
func NewWithOutput(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.Level)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	return log
}

// Component 컴포넌트 필드가 붙은 엔트리
func Component(log logrus.FieldLogger, name string) *logrus.Entry {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}

// Discard 테스트/기본값용 출력 없는 로거
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
