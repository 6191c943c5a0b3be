package app

import (
	"context"
	"strings"

	"video_platform_service/internal/search/domain"
)

// 靜態建議字彙，之後可換成查詢紀錄來源
var defaultVocabulary = []string{
	"tutorial",
	"how to",
	"review",
	"cooking",
	"music",
	"gaming",
	"technology",
	"education",
	"entertainment",
	"news",
}

type staticSuggestionSource struct {
	vocabulary []string
}

// NewStaticSuggestionSource create SuggestionSource，vocabulary 為空時用預設字彙
func NewStaticSuggestionSource(vocabulary []string) domain.SuggestionSource {
	if len(vocabulary) == 0 {
		vocabulary = defaultVocabulary
	}
	return &staticSuggestionSource{vocabulary: vocabulary}
}

// Suggest 回包含 prefix 的字彙，大小寫不敏感
func (s *staticSuggestionSource) Suggest(ctx context.Context, prefix string, limit int) []string {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	out := make([]string, 0, limit)
	for _, word := range s.vocabulary {
		if prefix != "" && !strings.Contains(strings.ToLower(word), prefix) {
			continue
		}
		out = append(out, word)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
