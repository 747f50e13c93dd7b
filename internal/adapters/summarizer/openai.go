package summarizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
	openai "github.com/tri-star/chase-light-sub000/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI реализует domain.GroupSummarizer через OpenAI Chat Completions.
// Каждая группа обрабатывается независимо: сбой сети, разбора или пустой
// ответ деградируют только эту группу до детерминированного фолбэка.
type OpenAI struct {
	client   chatClient
	model    string
	timeout  time.Duration
	fallback *Fallback
}

var _ domain.GroupSummarizer = (*OpenAI)(nil)

// NewOpenAI создаёт провайдер суммаризации.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout, fallback: NewFallback()}
}

type entryPayload struct {
	ActivityID string `json:"activity_id"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	URL        string `json:"url,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type groupPayload struct {
	Entries []summaryPayload `json:"entries"`
}

type summaryPayload struct {
	ActivityID string `json:"activity_id"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
}

// SummarizeGroups обрабатывает группы последовательно и никогда не возвращает
// ошибку из-за сбоя отдельной группы.
func (s *OpenAI) SummarizeGroups(ctx context.Context, groups []domain.SummarizationGroupInput) ([]domain.SummarizationGroupOutput, error) {
	outputs := make([]domain.SummarizationGroupOutput, 0, len(groups))
	for _, group := range groups {
		output, err := s.summarizeGroup(ctx, group)
		if err != nil {
			log.Warn().Err(err).Str("group", group.GroupID).Msg("summarizer: группа деградировала до фолбэка")
			metrics.IncSummarizerFallback()
			output = s.fallback.summarizeGroup(group)
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}

func (s *OpenAI) summarizeGroup(ctx context.Context, group domain.SummarizationGroupInput) (domain.SummarizationGroupOutput, error) {
	if len(group.Entries) == 0 {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("группа %s без записей", group.GroupID)
	}

	payload := make([]entryPayload, 0, len(group.Entries))
	for _, entry := range group.Entries {
		payload = append(payload, entryPayload{
			ActivityID: entry.ActivityID,
			Title:      sanitizeText(entry.Title, maxSummaryRunes),
			Body:       sanitizeText(entry.Body, maxEntryBodyRunes),
			URL:        entry.URL,
			OccurredAt: entry.OccurredAt.UTC().Format(time.RFC3339),
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("marshal entries: %w", err)
	}

	groupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	userPrompt := fmt.Sprintf(`Подготовь краткие описания активностей репозитория %q (тип: %s) на языке %q.
Для каждой записи напиши одно-два предложения по содержанию, без выдумок.
Используй поле "activity_id" из входных данных и не придумывай новых идентификаторов.
Ответ верни строго в формате JSON: {"entries": [{"activity_id": "...", "title": "...", "summary": "..."}]}.

Вот данные записей в JSON:
%s`, group.DataSourceName, group.ActivityType, group.Locale, string(body))

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.2,
		MaxTokens:   1200,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "Ты помощник-редактор дайджеста изменений в репозиториях. Сохраняй факты из входных данных и не добавляй ничего нового.",
			},
			{
				Role:    openai.RoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	}

	resp, err := s.client.CreateChatCompletion(groupCtx, req)
	if err != nil {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("openai completion: пустой ответ")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	var parsed groupPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("распаковка ответа LLM: %w", err)
	}

	summaries := make(map[string]summaryPayload, len(parsed.Entries))
	for _, entry := range parsed.Entries {
		id := strings.TrimSpace(entry.ActivityID)
		if id == "" {
			continue
		}
		summaries[id] = entry
	}
	if len(summaries) == 0 {
		return domain.SummarizationGroupOutput{}, fmt.Errorf("ответ LLM без записей")
	}

	// записи идут в исходном порядке группы; пропущенные LLM позиции
	// достраиваются фолбэком по месту
	entries := make([]domain.SummarizedEntry, 0, len(group.Entries))
	for _, entry := range group.Entries {
		parsedEntry, ok := summaries[entry.ActivityID]
		if !ok {
			entries = append(entries, domain.SummarizedEntry{
				ActivityID: entry.ActivityID,
				Title:      sanitizeText(entry.Title, maxSummaryRunes),
				Summary:    fallbackSummary(group, entry),
				URL:        entry.URL,
			})
			continue
		}
		title := sanitizeText(parsedEntry.Title, maxSummaryRunes)
		if title == "" {
			title = sanitizeText(entry.Title, maxSummaryRunes)
		}
		summary := sanitizeText(parsedEntry.Summary, maxSummaryRunes)
		if summary == "" {
			summary = fallbackSummary(group, entry)
		}
		entries = append(entries, domain.SummarizedEntry{
			ActivityID: entry.ActivityID,
			Title:      title,
			Summary:    summary,
			URL:        entry.URL,
		})
	}

	stats := domain.GeneratorStats{
		GroupID: group.GroupID,
		Type:    domain.GeneratorTypeAI,
		Model:   s.model,
	}
	if resp.Usage != nil {
		stats.PromptTokens = resp.Usage.PromptTokens
		stats.CompletionTokens = resp.Usage.CompletionTokens
		stats.TotalTokens = resp.Usage.TotalTokens
	}
	return domain.SummarizationGroupOutput{GroupID: group.GroupID, Entries: entries, Stats: stats}, nil
}
