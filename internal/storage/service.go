package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"realtime-board/internal/logging"
	"realtime-board/internal/model"
)

// 허용 확장자 -> MIME
var allowedTypes = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func allowedExt(ext string) bool {
	_, ok := allowedTypes[strings.ToLower(ext)]
	return ok
}

// Upload 업로드 결과
type Upload struct {
	URL          string `json:"url"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
}

// Service 배경 이미지 업로드/목록
type Service struct {
	store   ImageStore
	catalog *Catalog // nil이면 저장소 목록을 그대로 사용
	maxSize int64
	log     *logrus.Entry
	now     func() time.Time
}

// NewService Service 생성자
func NewService(store ImageStore, catalog *Catalog, maxSize int64, log logrus.FieldLogger) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		maxSize: maxSize,
		log:     logging.Component(log, "storage"),
		now:     time.Now,
	}
}

// MaxSize 업로드 최대 크기
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload 검증 후 고유 이름으로 저장
func (s *Service) Upload(ctx context.Context, originalName, contentType string, size int64, body io.Reader) (*Upload, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	mime, ok := allowedTypes[ext]
	if !ok {
		return nil, model.NewValidationError("map", "only image files are allowed (jpeg, jpg, png, gif, webp)")
	}
	if contentType != "" && !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return nil, model.NewValidationError("map", "only image files are allowed (jpeg, jpg, png, gif, webp)")
	}
	if s.maxSize > 0 && size > s.maxSize {
		return nil, model.NewValidationError("map", fmt.Sprintf("file exceeds %d bytes", s.maxSize))
	}
	if contentType == "" {
		contentType = mime
	}

	filename := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:10], ext)
	url, err := s.store.Put(ctx, filename, contentType, body, size)
	if err != nil {
		return nil, err
	}

	if s.catalog != nil {
		err := s.catalog.Record(ctx, &model.BackgroundImage{
			Filename:     filename,
			OriginalName: originalName,
			URL:          url,
			ContentType:  contentType,
			Size:         size,
		})
		if err != nil {
			// 파일은 이미 올라갔으므로 기록 실패는 로그만 남김
			s.log.WithFields(logrus.Fields{"filename": filename, "error": err}).Warn("Catalog record failed")
		}
	}

	s.log.WithFields(logrus.Fields{"filename": filename, "size": size}).Info("Background image uploaded")
	return &Upload{URL: url, Filename: filename, OriginalName: originalName}, nil
}

// List 업로드된 이미지 목록
func (s *Service) List(ctx context.Context) ([]Object, error) {
	if s.catalog == nil {
		return s.store.List(ctx)
	}

	images, err := s.catalog.List(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Catalog list failed, falling back to store listing")
		return s.store.List(ctx)
	}
	objects := make([]Object, 0, len(images))
	for _, img := range images {
		objects = append(objects, Object{Filename: img.Filename, URL: img.URL})
	}
	return objects, nil
}
