package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

const (
	maxEntryBodyRunes = 1000
	maxSummaryRunes   = 300
)

// Fallback строит детерминированные описания из заголовка активности и меток
// источника/типа, без обращения к внешним сервисам.
type Fallback struct{}

var _ domain.GroupSummarizer = (*Fallback)(nil)

// NewFallback создаёт детерминированный суммаризатор.
func NewFallback() *Fallback {
	return &Fallback{}
}

// SummarizeGroups обрабатывает все группы и никогда не возвращает ошибку.
func (f *Fallback) SummarizeGroups(_ context.Context, groups []domain.SummarizationGroupInput) ([]domain.SummarizationGroupOutput, error) {
	outputs := make([]domain.SummarizationGroupOutput, 0, len(groups))
	for _, group := range groups {
		outputs = append(outputs, f.summarizeGroup(group))
	}
	return outputs, nil
}

func (f *Fallback) summarizeGroup(group domain.SummarizationGroupInput) domain.SummarizationGroupOutput {
	entries := make([]domain.SummarizedEntry, 0, len(group.Entries))
	for _, entry := range group.Entries {
		entries = append(entries, domain.SummarizedEntry{
			ActivityID: entry.ActivityID,
			Title:      sanitizeText(entry.Title, maxSummaryRunes),
			Summary:    fallbackSummary(group, entry),
			URL:        entry.URL,
		})
	}
	return domain.SummarizationGroupOutput{
		GroupID: group.GroupID,
		Entries: entries,
		Stats: domain.GeneratorStats{
			GroupID: group.GroupID,
			Type:    domain.GeneratorTypeFallback,
		},
	}
}

func fallbackSummary(group domain.SummarizationGroupInput, entry domain.SummarizationEntryInput) string {
	title := sanitizeText(entry.Title, maxSummaryRunes)
	if title == "" {
		title = "без названия"
	}
	summary := fmt.Sprintf("%s в %s: %s", activityLabel(group.ActivityType), group.DataSourceName, title)
	return clipRunes(summary, maxSummaryRunes)
}

func activityLabel(activityType domain.ActivityType) string {
	switch activityType {
	case domain.ActivityTypeRelease:
		return "Релиз"
	case domain.ActivityTypeIssue:
		return "Задача"
	case domain.ActivityTypePullRequest:
		return "Pull request"
	default:
		return string(activityType)
	}
}

// sanitizeText убирает управляющие символы, схлопывает переводы строк в
// пробелы и ограничивает длину.
func sanitizeText(s string, limit int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' {
			b.WriteRune(' ')
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return clipRunes(strings.Join(strings.Fields(b.String()), " "), limit)
}

func clipRunes(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
