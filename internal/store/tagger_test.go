package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidbz/kiln/internal/store"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		limit  int
		want   []string
	}{
		{
			name:   "drops stop words and short tokens",
			prompt: "A portrait of the old fisherman, with a pipe",
			limit:  10,
			want:   []string{"portrait", "old", "fisherman", "pipe"},
		},
		{
			name:   "lowercases and dedupes",
			prompt: "Neon City, neon CITY at night",
			limit:  10,
			want:   []string{"neon", "city", "night"},
		},
		{
			name:   "keeps hyphenated words",
			prompt: "sci-fi landscape",
			limit:  10,
			want:   []string{"sci-fi", "landscape"},
		},
		{
			name:   "limit",
			prompt: "castle dragon knight forest",
			limit:  2,
			want:   []string{"castle", "dragon"},
		},
		{
			name:   "nothing usable",
			prompt: "a of to ,,,",
			limit:  10,
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, store.Keywords(tt.prompt, tt.limit))
		})
	}
}

func TestKeywordTagger_TagImage(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	s := store.NewStore(db, store.Config{})
	stored, err := s.SaveResult(ctx, record("r1", "a red fox in snow"))
	require.NoError(t, err)

	tagger := store.NewKeywordTagger(db, store.Config{MaxTags: 5})

	require.NoError(t, tagger.TagImage(ctx, stored.ID, "a red fox in snow"))
	require.NoError(t, tagger.TagImage(ctx, stored.ID, "a red fox in snow"))

	tags, err := tagger.Tags(ctx, stored.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"red", "fox", "snow"}, tags)

	image, err := s.GetImage(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, image.Tags, 3)
}

func TestKeywordTagger_EmptyPrompt(t *testing.T) {
	tagger := store.NewKeywordTagger(openDB(t), store.Config{})

	require.NoError(t, tagger.TagImage(context.Background(), "img", "  "))
}
