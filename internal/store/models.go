package store

import "time"

// Image is one persisted generation result.
type Image struct {
	ID             string    `gorm:"primaryKey;size:36"`
	RequestID      string    `gorm:"size:36;uniqueIndex"`
	UserID         string    `gorm:"size:100;index"`
	Prompt         string    `gorm:"type:text;not null"`
	OriginalPrompt string    `gorm:"type:text"`
	Provider       string    `gorm:"size:50;index"`
	Model          string    `gorm:"size:100"`
	Guidance       float64   `gorm:"default:0"`
	Public         bool      `gorm:"default:false;index"`
	ImageData      string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"index"`
	Tags           []Tag     `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// Tag is a keyword attached to an image by the tagger.
type Tag struct {
	ID        uint   `gorm:"primaryKey"`
	ImageID   string `gorm:"size:36;not null;uniqueIndex:idx_image_tag"`
	Name      string `gorm:"size:64;not null;uniqueIndex:idx_image_tag;index"`
	CreatedAt time.Time
}
