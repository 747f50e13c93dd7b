package summarizer

import (
	"context"
	"fmt"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

// Stub имитирует работу LLM-провайдера: возвращает детерминированный текст
// без обращения к внешним сервисам. Через FailGroups и SkipGroups можно
// имитировать сбой или потерю отдельных групп в тестах.
type Stub struct {
	// FailGroups перечисляет группы, для которых имитируется сбой live-пути:
	// такие группы деградируют до фолбэка.
	FailGroups map[string]bool
	// SkipGroups перечисляет группы, которые «теряются» из ответа целиком.
	SkipGroups map[string]bool

	fallback *Fallback
}

var _ domain.GroupSummarizer = (*Stub)(nil)

// NewStub создаёт заглушку.
func NewStub() *Stub {
	return &Stub{fallback: NewFallback()}
}

// SummarizeGroups возвращает детерминированные описания по контракту
// domain.GroupSummarizer.
func (s *Stub) SummarizeGroups(_ context.Context, groups []domain.SummarizationGroupInput) ([]domain.SummarizationGroupOutput, error) {
	outputs := make([]domain.SummarizationGroupOutput, 0, len(groups))
	for _, group := range groups {
		if s.SkipGroups[group.GroupID] {
			continue
		}
		if s.FailGroups[group.GroupID] {
			outputs = append(outputs, s.fallback.summarizeGroup(group))
			continue
		}
		entries := make([]domain.SummarizedEntry, 0, len(group.Entries))
		for _, entry := range group.Entries {
			entries = append(entries, domain.SummarizedEntry{
				ActivityID: entry.ActivityID,
				Title:      sanitizeText(entry.Title, maxSummaryRunes),
				Summary:    fmt.Sprintf("stub: %s/%s — %s", group.DataSourceName, group.ActivityType, sanitizeText(entry.Title, maxSummaryRunes)),
				URL:        entry.URL,
			})
		}
		outputs = append(outputs, domain.SummarizationGroupOutput{
			GroupID: group.GroupID,
			Entries: entries,
			Stats: domain.GeneratorStats{
				GroupID: group.GroupID,
				Type:    domain.GeneratorTypeAI,
				Model:   "stub",
			},
		})
	}
	return outputs, nil
}
