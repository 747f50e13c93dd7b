package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

type stubActivities struct {
	targets []domain.DigestTarget
	params  domain.ListTargetsParams
	err     error
}

func (s *stubActivities) ListDigestTargets(_ context.Context, params domain.ListTargetsParams) ([]domain.DigestTarget, error) {
	s.params = params
	return s.targets, s.err
}

type stubNotifications struct {
	digestDrafts   []domain.DigestNotificationDraft
	activityDrafts []domain.NotificationDraft
	result         *domain.CreateResult
	err            error
}

func (s *stubNotifications) CreateDigestNotifications(_ context.Context, drafts []domain.DigestNotificationDraft) (domain.CreateResult, error) {
	if s.err != nil {
		return domain.CreateResult{}, s.err
	}
	s.digestDrafts = append(s.digestDrafts, drafts...)
	if s.result != nil {
		return *s.result, nil
	}
	return domain.CreateResult{Created: len(drafts)}, nil
}

func (s *stubNotifications) CreateActivityNotifications(_ context.Context, drafts []domain.NotificationDraft) (domain.CreateResult, error) {
	s.activityDrafts = append(s.activityDrafts, drafts...)
	return domain.CreateResult{Created: len(drafts)}, nil
}

type stubStates struct {
	states  map[string]domain.UserDigestState
	updates []domain.UserDigestStateUpdate
}

func (s *stubStates) FetchUserStates(context.Context, int) ([]domain.UserDigestState, error) {
	return nil, nil
}

func (s *stubStates) GetUserStates(_ context.Context, userIDs []string) (map[string]domain.UserDigestState, error) {
	out := make(map[string]domain.UserDigestState)
	for _, id := range userIDs {
		if state, ok := s.states[id]; ok {
			out[id] = state
		}
	}
	return out, nil
}

func (s *stubStates) UpdateUserStates(_ context.Context, updates []domain.UserDigestStateUpdate) error {
	s.updates = append(s.updates, updates...)
	return nil
}

type fakeGroupSummarizer struct {
	failAll bool
	skip    map[string]bool
	calls   int
}

func (f *fakeGroupSummarizer) SummarizeGroups(_ context.Context, groups []domain.SummarizationGroupInput) ([]domain.SummarizationGroupOutput, error) {
	f.calls++
	if f.failAll {
		return nil, errors.New("summarizer down")
	}
	outputs := make([]domain.SummarizationGroupOutput, 0, len(groups))
	for _, group := range groups {
		if f.skip[group.GroupID] {
			continue
		}
		entries := make([]domain.SummarizedEntry, 0, len(group.Entries))
		for _, entry := range group.Entries {
			entries = append(entries, domain.SummarizedEntry{
				ActivityID: entry.ActivityID,
				Title:      entry.Title,
				Summary:    "s: " + entry.Title,
				URL:        entry.URL,
			})
		}
		outputs = append(outputs, domain.SummarizationGroupOutput{
			GroupID: group.GroupID,
			Entries: entries,
			Stats:   domain.GeneratorStats{GroupID: group.GroupID, Type: domain.GeneratorTypeAI, Model: "fake"},
		})
	}
	return outputs, nil
}

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func enabledRecipient(id string) domain.Recipient {
	return domain.Recipient{
		ID:       id,
		Timezone: "UTC",
		Digest:   domain.DigestSettings{Enabled: true, Times: []string{"18:00"}},
	}
}

func target(recipient domain.Recipient, activityID string, occurredAt time.Time) domain.DigestTarget {
	return domain.DigestTarget{
		Activity:  makeActivity(activityID, "ds1", domain.ActivityTypeRelease, occurredAt),
		Recipient: recipient,
	}
}

func newTestService(activities *stubActivities, notifications *stubNotifications, states *stubStates, summarizer domain.GroupSummarizer) *Service {
	return NewService(activities, notifications, states, summarizer, zerolog.Nop(), Options{
		Concurrency: 1,
		Clock:       func() time.Time { return testNow },
	})
}

func TestRunCreatesDigest(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
		target(recipient, "a2", testNow.Add(-2*time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("ожидали 1 созданный дайджест, получили %d", result.Created)
	}
	if result.TotalExamined != 2 {
		t.Fatalf("ожидали 2 рассмотренные пары, получили %d", result.TotalExamined)
	}
	if result.ProcessedUsers != 1 || result.FailedUsers != 0 {
		t.Fatalf("ожидали одного обработанного получателя без сбоев, получили %d/%d",
			result.ProcessedUsers, result.FailedUsers)
	}

	if len(notifications.digestDrafts) != 1 {
		t.Fatalf("ожидали 1 черновик, получили %d", len(notifications.digestDrafts))
	}
	draft := notifications.digestDrafts[0]
	if draft.Notification.NotificationType != domain.NotificationTypeDigest {
		t.Fatalf("ожидали тип digest, получили %q", draft.Notification.NotificationType)
	}
	if draft.Notification.Message != domain.MessagePlaceholder {
		t.Fatalf("текст должен быть плейсхолдером, получили %q", draft.Notification.Message)
	}
	if len(draft.Entries) != 2 {
		t.Fatalf("ожидали 2 позиции, получили %d", len(draft.Entries))
	}
	for i, entry := range draft.Entries {
		if entry.Position != i {
			t.Fatalf("позиции должны быть сквозными с нуля, позиция %d у записи %d", entry.Position, i)
		}
		if entry.Generator != domain.GeneratorTypeAI {
			t.Fatalf("ожидали генератор ai, получили %q", entry.Generator)
		}
	}
	if draft.Notification.Metadata.ActivityCount != 2 {
		t.Fatalf("ожидали 2 активности в метаданных, получили %d", draft.Notification.Metadata.ActivityCount)
	}
	if len(draft.Notification.Metadata.Groups) != 1 {
		t.Fatalf("ожидали 1 группу в метаданных, получили %d", len(draft.Notification.Metadata.Groups))
	}

	if len(states.updates) != 1 {
		t.Fatalf("ожидали одно обновление курсора, получили %d", len(states.updates))
	}
	update := states.updates[0]
	if update.SucceededAt == nil {
		t.Fatalf("успешная запись должна продвигать курсор")
	}
	if !update.SucceededAt.Equal(draft.Notification.Metadata.Range.To) {
		t.Fatalf("курсор должен равняться концу окна, получили %v", update.SucceededAt)
	}
}

func TestRunSkipsDisabledRecipient(t *testing.T) {
	recipient := domain.Recipient{ID: "u1", Digest: domain.DigestSettings{Enabled: false}}
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 || result.ProcessedUsers != 0 {
		t.Fatalf("выключенный получатель не должен обрабатываться, получили %+v", result)
	}
	if len(notifications.digestDrafts) != 0 {
		t.Fatalf("не ожидали записи уведомлений")
	}
	if len(states.updates) != 1 || states.updates[0].SucceededAt != nil {
		t.Fatalf("ожидали только отметку попытки, получили %+v", states.updates)
	}
}

func TestRunDryRunLeavesNoTraces(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{DryRun: true})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 {
		t.Fatalf("dry run не должен ничего создавать, получили %d", result.Created)
	}
	if result.TotalExamined != 1 {
		t.Fatalf("dry run обязан считать рассмотренные пары, получили %d", result.TotalExamined)
	}
	if len(result.WindowSummaries) != 1 {
		t.Fatalf("ожидали сводку окна, получили %d", len(result.WindowSummaries))
	}
	if len(notifications.digestDrafts) != 0 {
		t.Fatalf("dry run не должен писать уведомления")
	}
	if len(states.updates) != 0 {
		t.Fatalf("dry run не должен трогать курсоры, получили %+v", states.updates)
	}
}

func TestRunMixedRecipients(t *testing.T) {
	enabled := enabledRecipient("u1")
	disabled := domain.Recipient{ID: "u2", Digest: domain.DigestSettings{Enabled: false}}
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(enabled, "a1", testNow.Add(-time.Hour)),
		target(disabled, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("ожидали дайджест только для включённого получателя, получили %d", result.Created)
	}
	if len(notifications.digestDrafts) != 1 || notifications.digestDrafts[0].Notification.UserID != "u1" {
		t.Fatalf("дайджест должен принадлежать u1")
	}
}

func TestRunFiltersByUserID(t *testing.T) {
	first := enabledRecipient("u1")
	second := enabledRecipient("u2")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(first, "a1", testNow.Add(-time.Hour)),
		target(second, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{UserID: "u2"})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 1 || len(notifications.digestDrafts) != 1 {
		t.Fatalf("ожидали один дайджест, получили %+v", result)
	}
	if notifications.digestDrafts[0].Notification.UserID != "u2" {
		t.Fatalf("дайджест должен принадлежать u2, получили %q", notifications.digestDrafts[0].Notification.UserID)
	}
}

func TestRunWindowFiltersActivities(t *testing.T) {
	recipient := enabledRecipient("u1")
	last := testNow.Add(-time.Hour)
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "fresh", testNow.Add(-30*time.Minute)),
		target(recipient, "stale", testNow.Add(-2*time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{
		"u1": {UserID: "u1", LastSuccessfulRunAt: &last},
	}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	_, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notifications.digestDrafts) != 1 {
		t.Fatalf("ожидали 1 черновик, получили %d", len(notifications.digestDrafts))
	}
	draft := notifications.digestDrafts[0]
	if len(draft.Entries) != 1 || draft.Entries[0].ActivityID != "fresh" {
		t.Fatalf("активность за пределами окна должна отфильтровываться, получили %+v", draft.Entries)
	}
}

func TestRunSummarizerFailureCountsRecipient(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{failAll: true})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("сбой получателя не должен ронять прогон: %v", err)
	}
	if result.FailedUsers != 1 || result.Created != 0 {
		t.Fatalf("ожидали одного сбойного получателя, получили %+v", result)
	}
	if len(states.updates) != 1 || states.updates[0].SucceededAt != nil {
		t.Fatalf("курсор успеха не должен продвигаться при сбое, получили %+v", states.updates)
	}
}

func TestRunPersistenceFailureCountsRecipient(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{err: errors.New("db down")}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("сбой получателя не должен ронять прогон: %v", err)
	}
	if result.FailedUsers != 1 {
		t.Fatalf("ожидали одного сбойного получателя, получили %+v", result)
	}
	if len(states.updates) != 1 || states.updates[0].SucceededAt != nil {
		t.Fatalf("ожидали только отметку попытки, получили %+v", states.updates)
	}
}

func TestRunConflictAdvancesCursor(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{result: &domain.CreateResult{SkippedByConflict: 1}}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 || result.SkippedByConflict != 1 {
		t.Fatalf("конфликт должен считаться пропуском, получили %+v", result)
	}
	if len(states.updates) != 1 || states.updates[0].SucceededAt == nil {
		t.Fatalf("конфликт означает уже существующий дайджест, курсор продвигается: %+v", states.updates)
	}
}

func TestRunMissingGroupSummaryFallsBack(t *testing.T) {
	recipient := enabledRecipient("u1")
	activities := &stubActivities{targets: []domain.DigestTarget{
		target(recipient, "a1", testNow.Add(-time.Hour)),
	}}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	groupID := GroupID("ds1", domain.ActivityTypeRelease)
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{
		skip: map[string]bool{groupID: true},
	})

	_, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(notifications.digestDrafts) != 1 {
		t.Fatalf("ожидали 1 черновик, получили %d", len(notifications.digestDrafts))
	}
	draft := notifications.digestDrafts[0]
	if draft.Entries[0].Generator != domain.GeneratorTypeFallback {
		t.Fatalf("потерянная группа должна помечаться фолбэком, получили %q", draft.Entries[0].Generator)
	}
	stats := draft.Notification.Metadata.GeneratorStats
	if len(stats) != 1 || stats[0].Type != domain.GeneratorTypeFallback {
		t.Fatalf("метаданные должны отражать фолбэк, получили %+v", stats)
	}
}

func TestRunEmptySelection(t *testing.T) {
	activities := &stubActivities{}
	notifications := &stubNotifications{}
	states := &stubStates{states: map[string]domain.UserDigestState{}}
	service := newTestService(activities, notifications, states, &fakeGroupSummarizer{})

	result, err := service.Run(context.Background(), RunParams{})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.TotalExamined != 0 || result.Created != 0 {
		t.Fatalf("пустая выборка должна давать пустой итог, получили %+v", result)
	}
}
