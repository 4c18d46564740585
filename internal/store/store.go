// Package store persists generated images with GORM on SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/observability"
)

// ErrImageNotFound indicates no image exists for the given id.
var ErrImageNotFound = errors.New("image not found")

// Open connects to the database, applies pool settings and migrates the schema.
func Open(config Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(config.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&Image{}, &Tag{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return db, nil
}

// Store implements domain.ResultStore and domain.PromptSource.
type Store struct {
	db      *gorm.DB
	baseURL string
	now     func() time.Time
}

// NewStore creates a store on an open database.
func NewStore(db *gorm.DB, config Config) *Store {
	return &Store{
		db:      db,
		baseURL: strings.TrimSuffix(config.ImageBaseURL, "/"),
		now:     time.Now,
	}
}

// SaveResult persists a generated image and returns its id and URL.
func (s *Store) SaveResult(ctx context.Context, record domain.ImageRecord) (*domain.StoredImage, error) {
	if record.ImageBase64 == "" {
		return nil, errors.New("image data cannot be empty")
	}

	image := Image{
		ID:             uuid.NewString(),
		RequestID:      record.RequestID,
		UserID:         record.UserID,
		Prompt:         record.Prompt,
		OriginalPrompt: record.OriginalPrompt,
		Provider:       record.Provider,
		Model:          record.Model,
		Guidance:       record.Guidance,
		Public:         record.Public,
		ImageData:      record.ImageBase64,
		CreatedAt:      s.now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&image).Error; err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}

	observability.FromContext(ctx).Info("image saved",
		observability.String("image_id", image.ID),
		observability.String("provider", image.Provider),
	)

	return &domain.StoredImage{
		ID:        image.ID,
		ImageURL:  s.ImageURL(image.ID),
		CreatedAt: image.CreatedAt,
	}, nil
}

// DeleteResult removes an image and its tags. Removing a missing image is not an error.
func (s *Store) DeleteResult(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&Tag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Image{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", id, err)
	}
	return nil
}

// ImageURL returns the public URL of a stored image.
func (s *Store) ImageURL(id string) string {
	return s.baseURL + "/" + id
}

// GetImage loads an image by id.
func (s *Store) GetImage(ctx context.Context, id string) (*Image, error) {
	var image Image
	err := s.db.WithContext(ctx).Preload("Tags").First(&image, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return &image, nil
}

// RecentPrompts returns the most recent distinct original prompts, newest first.
func (s *Store) RecentPrompts(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []Image
	err := s.db.WithContext(ctx).
		Select("original_prompt", "prompt", "created_at").
		Order("created_at DESC").
		Limit(limit * 2).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load recent prompts: %w", err)
	}

	seen := make(map[string]struct{}, len(rows))
	prompts := make([]string, 0, limit)
	for _, row := range rows {
		prompt := row.OriginalPrompt
		if prompt == "" {
			prompt = row.Prompt
		}
		if _, ok := seen[prompt]; ok {
			continue
		}
		seen[prompt] = struct{}{}
		prompts = append(prompts, prompt)
		if len(prompts) == limit {
			break
		}
	}
	return prompts, nil
}
