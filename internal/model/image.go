package model

import "time"

// BackgroundImage 업로드된 보드 배경 이미지 카탈로그 항목
type BackgroundImage struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Filename     string    `gorm:"size:255;uniqueIndex;not null" json:"filename"`
	OriginalName string    `gorm:"size:255" json:"originalName,omitempty"`
	URL          string    `gorm:"size:1024;not null" json:"url"`
	ContentType  string    `gorm:"size:100" json:"contentType,omitempty"`
	Size         int64     `json:"size,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

// TableName 테이블명
func (BackgroundImage) TableName() string {
	return "background_images"
}
