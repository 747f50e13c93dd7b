package summarizer

import (
	"context"
	"strings"
	"testing"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

func TestFallbackSummarizeGroups(t *testing.T) {
	fallback := NewFallback()
	outputs, err := fallback.SummarizeGroups(context.Background(), []domain.SummarizationGroupInput{
		{
			GroupID:        "ds1:release",
			DataSourceName: "owner/repo",
			ActivityType:   domain.ActivityTypeRelease,
			Entries: []domain.SummarizationEntryInput{
				{ActivityID: "a1", Title: "v1.0.0", URL: "https://example.com/r/1"},
				{ActivityID: "a2", Title: ""},
			},
		},
	})
	if err != nil {
		t.Fatalf("фолбэк не должен возвращать ошибку: %v", err)
	}
	if len(outputs) != 1 {
		t.Fatalf("ожидали 1 группу, получили %d", len(outputs))
	}
	output := outputs[0]
	if output.Stats.Type != domain.GeneratorTypeFallback {
		t.Fatalf("ожидали тип fallback, получили %q", output.Stats.Type)
	}
	if len(output.Entries) != 2 {
		t.Fatalf("ожидали 2 записи, получили %d", len(output.Entries))
	}
	if output.Entries[0].Summary != "Релиз в owner/repo: v1.0.0" {
		t.Fatalf("неожиданное описание: %q", output.Entries[0].Summary)
	}
	if !strings.Contains(output.Entries[1].Summary, "без названия") {
		t.Fatalf("пустой заголовок должен заменяться заглушкой, получили %q", output.Entries[1].Summary)
	}
	if output.Entries[0].URL != "https://example.com/r/1" {
		t.Fatalf("ссылка должна сохраняться, получили %q", output.Entries[0].URL)
	}
}

func TestSanitizeText(t *testing.T) {
	got := sanitizeText("  строка\nс переводами\t и \x00мусором  ", 0)
	if got != "строка с переводами и мусором" {
		t.Fatalf("неожиданный результат очистки: %q", got)
	}

	long := strings.Repeat("ф", 400)
	if clipped := sanitizeText(long, maxSummaryRunes); len([]rune(clipped)) != maxSummaryRunes {
		t.Fatalf("ожидали обрезку до %d рун, получили %d", maxSummaryRunes, len([]rune(clipped)))
	}
}

func TestClipRunes(t *testing.T) {
	if got := clipRunes("привет", 3); got != "при" {
		t.Fatalf("обрезка должна работать по рунам, получили %q", got)
	}
	if got := clipRunes("привет", 0); got != "привет" {
		t.Fatalf("нулевой лимит не должен обрезать, получили %q", got)
	}
}
