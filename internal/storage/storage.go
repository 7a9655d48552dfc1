package storage

import (
	"context"
	"io"
)

// Object 저장소에 있는 이미지 하나
type Object struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// ImageStore 배경 이미지 바이트 저장소 (디스크 또는 S3)
type ImageStore interface {
	// Put 이미지를 저장하고 공개 URL 반환
	Put(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error)
	List(ctx context.Context) ([]Object, error)
}
