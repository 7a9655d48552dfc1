package storage

import (
	"context"

	"gorm.io/gorm"

	"realtime-board/internal/model"
)

// Catalog 업로드 기록 (PostgreSQL)
type Catalog struct {
	db *gorm.DB
}

// NewCatalog Catalog 생성자
func NewCatalog(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Record 업로드 한 건 기록
func (c *Catalog) Record(ctx context.Context, img *model.BackgroundImage) error {
	return c.db.WithContext(ctx).Create(img).Error
}

// List 최근 업로드 순
func (c *Catalog) List(ctx context.Context) ([]model.BackgroundImage, error) {
	var images []model.BackgroundImage
	err := c.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&images).Error
	return images, err
}
