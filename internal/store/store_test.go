package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/davidbz/kiln/internal/domain"
	"github.com/davidbz/kiln/internal/store"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := store.Open(store.Config{
		DSN:          fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func record(requestID, prompt string) domain.ImageRecord {
	return domain.ImageRecord{
		RequestID:      requestID,
		UserID:         "u1",
		Prompt:         prompt + ", enhanced",
		OriginalPrompt: prompt,
		Provider:       "dezgo",
		Model:          "juggernautxl_1024px",
		Guidance:       7,
		Public:         true,
		ImageBase64:    "aGVsbG8=",
	}
}

func TestStore_SaveResult(t *testing.T) {
	db := openDB(t)
	s := store.NewStore(db, store.Config{ImageBaseURL: "https://cdn.test/images/"})
	ctx := context.Background()

	stored, err := s.SaveResult(ctx, record("r1", "a red fox"))
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	require.Equal(t, "https://cdn.test/images/"+stored.ID, stored.ImageURL)
	require.False(t, stored.CreatedAt.IsZero())

	image, err := s.GetImage(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, "r1", image.RequestID)
	require.Equal(t, "a red fox", image.OriginalPrompt)
	require.Equal(t, "aGVsbG8=", image.ImageData)
	require.True(t, image.Public)
}

func TestStore_SaveResultRejectsEmptyImage(t *testing.T) {
	s := store.NewStore(openDB(t), store.Config{})

	rec := record("r1", "a red fox")
	rec.ImageBase64 = ""

	_, err := s.SaveResult(context.Background(), rec)
	require.Error(t, err)
}

func TestStore_SaveResultDuplicateRequest(t *testing.T) {
	s := store.NewStore(openDB(t), store.Config{})
	ctx := context.Background()

	_, err := s.SaveResult(ctx, record("r1", "a red fox"))
	require.NoError(t, err)

	_, err = s.SaveResult(ctx, record("r1", "a red fox"))
	require.Error(t, err)
}

func TestStore_GetImageNotFound(t *testing.T) {
	s := store.NewStore(openDB(t), store.Config{})

	_, err := s.GetImage(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrImageNotFound)
}

func TestStore_RecentPrompts(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, prompt := range []string{"first", "second", "second", "third"} {
		require.NoError(t, db.Create(&store.Image{
			ID:             uuid.NewString(),
			RequestID:      uuid.NewString(),
			Prompt:         prompt,
			OriginalPrompt: prompt,
			ImageData:      "x",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	s := store.NewStore(db, store.Config{})

	t.Run("newest first and distinct", func(t *testing.T) {
		prompts, err := s.RecentPrompts(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, []string{"third", "second", "first"}, prompts)
	})

	t.Run("limit", func(t *testing.T) {
		prompts, err := s.RecentPrompts(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, []string{"third"}, prompts)
	})

	t.Run("zero limit", func(t *testing.T) {
		prompts, err := s.RecentPrompts(ctx, 0)
		require.NoError(t, err)
		require.Empty(t, prompts)
	})
}

func TestStore_DeleteResult(t *testing.T) {
	db := openDB(t)
	s := store.NewStore(db, store.Config{})
	tagger := store.NewKeywordTagger(db, store.Config{})
	ctx := context.Background()

	stored, err := s.SaveResult(ctx, record("r1", "a red fox"))
	require.NoError(t, err)
	require.NoError(t, tagger.TagImage(ctx, stored.ID, "a red fox"))

	require.NoError(t, s.DeleteResult(ctx, stored.ID))

	_, err = s.GetImage(ctx, stored.ID)
	require.ErrorIs(t, err, store.ErrImageNotFound)

	tags, err := tagger.Tags(ctx, stored.ID)
	require.NoError(t, err)
	require.Empty(t, tags)

	require.NoError(t, s.DeleteResult(ctx, "missing"))
}
