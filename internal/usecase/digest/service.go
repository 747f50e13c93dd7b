package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
	"github.com/tri-star/chase-light-sub000/internal/usecase/schedule"
)

// Options задаёт параметры сервиса дайджестов.
type Options struct {
	LookbackDays       int
	MaxEntriesPerGroup int
	DefaultLimit       int
	Concurrency        int
	Locale             string
	Clock              func() time.Time
}

const (
	defaultLookbackDays = 7
	defaultRunLimit     = 200
	defaultConcurrency  = 4
	defaultLocale       = "ru"
)

// Service реализует основной сценарий построения дайджестов: выборка пар
// (активность, получатель), расчёт окна, группировка, суммаризация, сборка
// черновика и конфликт-безопасная запись.
type Service struct {
	activities    domain.ActivityRepo
	notifications domain.NotificationRepo
	states        domain.UserDigestStateRepo
	summarizer    domain.GroupSummarizer
	log           zerolog.Logger
	opts          Options
}

// NewService создаёт сервис дайджестов.
func NewService(activities domain.ActivityRepo, notifications domain.NotificationRepo, states domain.UserDigestStateRepo, summarizer domain.GroupSummarizer, logger zerolog.Logger, opts Options) *Service {
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = defaultLookbackDays
	}
	if opts.MaxEntriesPerGroup <= 0 {
		opts.MaxEntriesPerGroup = DefaultMaxEntriesPerGroup
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = defaultRunLimit
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Locale == "" {
		opts.Locale = defaultLocale
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		activities:    activities,
		notifications: notifications,
		states:        states,
		summarizer:    summarizer,
		log:           logger,
		opts:          opts,
	}
}

// RunParams — параметры одного прогона пайплайна.
type RunParams struct {
	Limit       int
	DryRun      bool
	Since       *time.Time
	Until       *time.Time
	ActivityIDs []string
	UserID      string
}

// WindowSummary — сводка по окну одного получателя внутри прогона.
type WindowSummary struct {
	UserID     string    `json:"user_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Timezone   string    `json:"timezone"`
	Groups     int       `json:"groups"`
	Activities int       `json:"activities"`
	Created    bool      `json:"created"`
}

// RunResult — агрегированный итог прогона.
type RunResult struct {
	Created                 int             `json:"created"`
	SkippedByConflict       int             `json:"skipped_by_conflict"`
	TotalExamined           int             `json:"total_examined"`
	ProcessedUsers          int             `json:"processed_users"`
	FailedUsers             int             `json:"failed_users"`
	LastProcessedActivityID string          `json:"last_processed_activity_id,omitempty"`
	WindowSummaries         []WindowSummary `json:"window_summaries,omitempty"`
}

// recipientBatch — все активности одного получателя из входной выборки,
// в порядке убывания свежести.
type recipientBatch struct {
	recipient  domain.Recipient
	activities []domain.Activity
}

type recipientOutcome struct {
	created   int
	skipped   int
	processed bool
	failed    bool
	summary   *WindowSummary
}

// Run выполняет один прогон пайплайна. Ошибка возвращается только при отказе
// инфраструктуры всего прогона; сбои отдельных получателей считаются в
// FailedUsers и не прерывают обработку остальных.
func (s *Service) Run(ctx context.Context, params RunParams) (RunResult, error) {
	start := time.Now()
	result, err := s.run(ctx, params)
	metrics.ObserveDigestRun(start, err)
	return result, err
}

func (s *Service) run(ctx context.Context, params RunParams) (RunResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	targets, err := s.activities.ListDigestTargets(ctx, domain.ListTargetsParams{
		Limit:       limit,
		Since:       params.Since,
		Until:       params.Until,
		ActivityIDs: params.ActivityIDs,
	})
	if err != nil {
		return RunResult{}, fmt.Errorf("выборка кандидатов: %w", err)
	}
	if params.UserID != "" {
		filtered := targets[:0]
		for _, target := range targets {
			if target.Recipient.ID == params.UserID {
				filtered = append(filtered, target)
			}
		}
		targets = filtered
	}

	result := RunResult{TotalExamined: len(targets)}
	if len(targets) == 0 {
		return result, nil
	}
	result.LastProcessedActivityID = targets[len(targets)-1].Activity.ID

	batches := groupTargetsByRecipient(targets)
	userIDs := make([]string, 0, len(batches))
	for _, batch := range batches {
		userIDs = append(userIDs, batch.recipient.ID)
	}
	states, err := s.states.GetUserStates(ctx, userIDs)
	if err != nil {
		return RunResult{}, fmt.Errorf("чтение курсоров получателей: %w", err)
	}

	now := s.opts.Clock()

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.opts.Concurrency)
	)
	for _, batch := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(batch *recipientBatch) {
			defer wg.Done()
			defer func() { <-sem }()

			state, ok := states[batch.recipient.ID]
			var statePtr *domain.UserDigestState
			if ok {
				statePtr = &state
			}
			outcome := s.processRecipient(ctx, batch, statePtr, now, params)

			mu.Lock()
			result.Created += outcome.created
			result.SkippedByConflict += outcome.skipped
			if outcome.processed {
				result.ProcessedUsers++
			}
			if outcome.failed {
				result.FailedUsers++
			}
			if outcome.summary != nil {
				result.WindowSummaries = append(result.WindowSummaries, *outcome.summary)
			}
			mu.Unlock()
		}(batch)
	}
	wg.Wait()

	return result, nil
}

// groupTargetsByRecipient раскладывает пары по получателям, сохраняя порядок
// убывания свежести как внутри получателя, так и между получателями.
func groupTargetsByRecipient(targets []domain.DigestTarget) []*recipientBatch {
	order := make([]string, 0)
	byUser := make(map[string]*recipientBatch)
	for _, target := range targets {
		batch, ok := byUser[target.Recipient.ID]
		if !ok {
			batch = &recipientBatch{recipient: target.Recipient}
			byUser[target.Recipient.ID] = batch
			order = append(order, target.Recipient.ID)
		}
		batch.activities = append(batch.activities, target.Activity)
	}
	out := make([]*recipientBatch, 0, len(order))
	for _, id := range order {
		out = append(out, byUser[id])
	}
	return out
}

func (s *Service) processRecipient(ctx context.Context, batch *recipientBatch, state *domain.UserDigestState, now time.Time, params RunParams) recipientOutcome {
	rec := batch.recipient
	logger := s.log.With().Str("user", rec.ID).Logger()

	resolved := ResolveRecipientDigest(rec)
	attempted := domain.UserDigestStateUpdate{
		UserID:      rec.ID,
		AttemptedAt: now,
		Timezone:    resolved.Timezone,
	}

	if !resolved.Enabled {
		s.recordState(ctx, logger, attempted, params.DryRun)
		metrics.IncDigestRecipients("disabled")
		return recipientOutcome{}
	}

	var lastSuccess *time.Time
	if state != nil {
		lastSuccess = state.LastSuccessfulRunAt
	}
	window := CalcWindow(WindowParams{
		LastSuccessfulRunAt: lastSuccess,
		Now:                 now,
		LookbackDays:        s.opts.LookbackDays,
		Since:               params.Since,
		Until:               params.Until,
		Timezone:            resolved.Timezone,
	})
	if window == nil {
		s.recordState(ctx, logger, attempted, params.DryRun)
		metrics.IncDigestRecipients("empty_window")
		return recipientOutcome{}
	}

	eligible := make([]domain.Activity, 0, len(batch.activities))
	for _, activity := range batch.activities {
		if activity.OccurredAt.Before(window.From) || !activity.OccurredAt.Before(window.To) {
			continue
		}
		eligible = append(eligible, activity)
	}

	groups, dropped := BuildGroups(eligible, s.opts.MaxEntriesPerGroup)
	if dropped > 0 {
		logger.Debug().Int("dropped", dropped).Msg("дайджест: часть активностей отложена до следующего окна")
	}
	if len(groups) == 0 {
		s.recordState(ctx, logger, attempted, params.DryRun)
		metrics.IncDigestRecipients("no_groups")
		return recipientOutcome{}
	}

	candidate := domain.DigestCandidate{
		UserID:          rec.ID,
		UserTimezone:    resolved.Timezone,
		Window:          *window,
		TotalActivities: len(eligible),
		Groups:          groups,
	}

	outputs, err := s.summarizer.SummarizeGroups(ctx, buildSummarizationInputs(candidate, s.opts.Locale))
	if err != nil {
		// по контракту суммаризатор не падает из-за отдельных групп;
		// сюда попадает только отказ всего батча
		logger.Error().Err(err).Msg("дайджест: суммаризация не удалась")
		s.recordState(ctx, logger, attempted, params.DryRun)
		metrics.IncDigestRecipients("failed")
		return recipientOutcome{failed: true}
	}

	draft := s.buildDraft(candidate, resolved, outputs, now)
	summary := &WindowSummary{
		UserID:     rec.ID,
		From:       window.From,
		To:         window.To,
		Timezone:   window.Timezone,
		Groups:     len(groups),
		Activities: candidate.TotalActivities,
	}

	if params.DryRun {
		metrics.IncDigestRecipients("dry_run")
		return recipientOutcome{processed: true, summary: summary}
	}

	res, err := s.notifications.CreateDigestNotifications(ctx, []domain.DigestNotificationDraft{draft})
	if err != nil {
		logger.Error().Err(err).Msg("дайджест: запись уведомления не удалась")
		s.recordState(ctx, logger, attempted, false)
		metrics.IncDigestRecipients("failed")
		return recipientOutcome{failed: true}
	}

	succeededAt := window.To
	attempted.SucceededAt = &succeededAt
	s.recordState(ctx, logger, attempted, false)

	if res.Created > 0 {
		metrics.AddDigestNotificationsCreated(res.Created)
		metrics.IncDigestRecipients("created")
	} else {
		metrics.IncDigestRecipients("conflict")
	}
	summary.Created = res.Created > 0
	return recipientOutcome{
		created:   res.Created,
		skipped:   res.SkippedByConflict,
		processed: true,
		summary:   summary,
	}
}

// recordState фиксирует курсор получателя. Dry run не оставляет следов вообще.
func (s *Service) recordState(ctx context.Context, logger zerolog.Logger, update domain.UserDigestStateUpdate, dryRun bool) {
	if dryRun {
		return
	}
	if err := s.states.UpdateUserStates(ctx, []domain.UserDigestStateUpdate{update}); err != nil {
		logger.Error().Err(err).Msg("дайджест: не удалось обновить курсор получателя")
	}
}

func buildSummarizationInputs(candidate domain.DigestCandidate, locale string) []domain.SummarizationGroupInput {
	inputs := make([]domain.SummarizationGroupInput, 0, len(candidate.Groups))
	for _, group := range candidate.Groups {
		entries := make([]domain.SummarizationEntryInput, 0, len(group.Entries))
		for _, entry := range group.Entries {
			entries = append(entries, domain.SummarizationEntryInput{
				ActivityID: entry.ActivityID,
				Title:      entry.Title,
				Body:       entry.Body,
				URL:        entry.URL,
				OccurredAt: entry.OccurredAt,
			})
		}
		inputs = append(inputs, domain.SummarizationGroupInput{
			GroupID:        group.ID,
			DataSourceName: group.DataSourceName,
			ActivityType:   group.ActivityType,
			Locale:         locale,
			Entries:        entries,
		})
	}
	return inputs
}

// buildDraft собирает черновик уведомления из кандидата и результатов
// суммаризации. Позиции сквозные, нумерация с нуля, порядок групп и записей
// наследуется от кандидата.
func (s *Service) buildDraft(candidate domain.DigestCandidate, resolved domain.ResolvedDigest, outputs []domain.SummarizationGroupOutput, now time.Time) domain.DigestNotificationDraft {
	byGroup := make(map[string]domain.SummarizationGroupOutput, len(outputs))
	for _, output := range outputs {
		byGroup[output.GroupID] = output
	}

	metadata := domain.NotificationMetadata{
		Range: domain.MetadataRange{
			From:     candidate.Window.From,
			To:       candidate.Window.To,
			Timezone: candidate.Window.Timezone,
		},
		ActivityCount:      candidate.TotalActivities,
		MessagePlaceholder: domain.MessagePlaceholder,
	}

	entries := make([]domain.DigestEntry, 0, candidate.TotalActivities)
	position := 0
	for _, group := range candidate.Groups {
		output := byGroup[group.ID]
		summaries := make(map[string]domain.SummarizedEntry, len(output.Entries))
		for _, entry := range output.Entries {
			summaries[entry.ActivityID] = entry
		}

		activityIDs := make([]string, 0, len(group.Entries))
		for _, entryCandidate := range group.Entries {
			activityIDs = append(activityIDs, entryCandidate.ActivityID)

			summarized, ok := summaries[entryCandidate.ActivityID]
			generator := output.Stats.Type
			if !ok {
				summarized = domain.SummarizedEntry{
					ActivityID: entryCandidate.ActivityID,
					Title:      entryCandidate.Title,
					Summary:    entryCandidate.Title,
					URL:        entryCandidate.URL,
				}
				generator = domain.GeneratorTypeFallback
			}
			entries = append(entries, domain.DigestEntry{
				DataSourceID:   group.DataSourceID,
				DataSourceName: group.DataSourceName,
				ActivityType:   group.ActivityType,
				ActivityID:     summarized.ActivityID,
				Position:       position,
				Title:          summarized.Title,
				Summary:        summarized.Summary,
				URL:            summarized.URL,
				Generator:      generator,
			})
			position++
		}

		metadata.Groups = append(metadata.Groups, domain.MetadataGroup{
			GroupID:      group.ID,
			DataSourceID: group.DataSourceID,
			ActivityType: group.ActivityType,
			ActivityIDs:  activityIDs,
		})
		stats := output.Stats
		if stats.GroupID == "" {
			stats.GroupID = group.ID
			stats.Type = domain.GeneratorTypeFallback
		}
		metadata.GeneratorStats = append(metadata.GeneratorStats, stats)
	}

	loc, err := time.LoadLocation(resolved.Timezone)
	if err != nil {
		loc = time.UTC
	}
	scheduledAt := schedule.NextRun(now, resolved.Times, loc)

	notification := domain.NotificationDraft{
		ID:               uuid.NewString(),
		UserID:           candidate.UserID,
		Title:            fmt.Sprintf("Дайджест: %d новых активностей", candidate.TotalActivities),
		Message:          domain.MessagePlaceholder,
		NotificationType: domain.NotificationTypeDigest,
		ScheduledAt:      scheduledAt,
		Status:           domain.NotificationStatusPending,
		Metadata:         metadata,
	}
	return domain.DigestNotificationDraft{Notification: notification, Entries: entries}
}
