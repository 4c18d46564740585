package store

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	minTagLength     = 3
	maxTagLength     = 32
	defaultMaxTagged = 10
)

//nolint:gochecknoglobals // lookup table
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "with": {}, "for": {}, "from": {}, "into": {}, "onto": {}, "that": {},
	"this": {}, "very": {}, "are": {}, "its": {}, "his": {}, "her": {}, "their": {}, "over": {},
	"under": {}, "while": {}, "who": {}, "has": {}, "have": {}, "was": {}, "were": {}, "image": {},
	"picture": {}, "photo": {}, "style": {}, "highly": {}, "detailed": {}, "quality": {},
}

// KeywordTagger extracts keywords from the prompt and stores them as tags.
type KeywordTagger struct {
	db      *gorm.DB
	maxTags int
}

// NewKeywordTagger creates a tagger writing to db.
func NewKeywordTagger(db *gorm.DB, config Config) *KeywordTagger {
	maxTags := config.MaxTags
	if maxTags <= 0 {
		maxTags = defaultMaxTagged
	}
	return &KeywordTagger{db: db, maxTags: maxTags}
}

// TagImage attaches keyword tags to an image. Repeated calls do not duplicate tags.
func (t *KeywordTagger) TagImage(ctx context.Context, imageID, prompt string) error {
	keywords := Keywords(prompt, t.maxTags)
	if len(keywords) == 0 {
		return nil
	}

	tags := make([]Tag, 0, len(keywords))
	for _, keyword := range keywords {
		tags = append(tags, Tag{ImageID: imageID, Name: keyword})
	}

	err := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&tags).Error
	if err != nil {
		return fmt.Errorf("failed to tag image %s: %w", imageID, err)
	}
	return nil
}

// Tags returns the tag names of an image in insertion order.
func (t *KeywordTagger) Tags(ctx context.Context, imageID string) ([]string, error) {
	var names []string
	err := t.db.WithContext(ctx).
		Model(&Tag{}).
		Where("image_id = ?", imageID).
		Order("id").
		Pluck("name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	return names, nil
}

// Keywords splits a prompt into lowercase distinct words, dropping stop words and very short tokens.
func Keywords(prompt string, limit int) []string {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	seen := make(map[string]struct{}, len(words))
	keywords := make([]string, 0, limit)
	for _, word := range words {
		word = strings.Trim(word, "-")
		if len(word) < minTagLength || len(word) > maxTagLength {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		keywords = append(keywords, word)
		if len(keywords) == limit {
			break
		}
	}
	return keywords
}
