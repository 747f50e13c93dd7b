package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

// Service реализует немедленные уведомления об отдельных активностях.
// Это legacy-пайплайн, сохранённый параллельно дайджестам: одна активность —
// одно уведомление, без окон и суммаризации. Контракты двух пайплайнов
// намеренно не объединены.
type Service struct {
	notifications domain.NotificationRepo
	log           zerolog.Logger
	clock         func() time.Time
}

// NewService создаёт сервис немедленных уведомлений.
func NewService(notifications domain.NotificationRepo, logger zerolog.Logger) *Service {
	return &Service{
		notifications: notifications,
		log:           logger,
		clock:         func() time.Time { return time.Now().UTC() },
	}
}

// NotifyActivities строит по одному уведомлению на пару (активность,
// получатель) и записывает их конфликт-безопасно: повторный вызов с теми же
// парами не создаёт дубликатов.
func (s *Service) NotifyActivities(ctx context.Context, targets []domain.DigestTarget) (domain.CreateResult, error) {
	if len(targets) == 0 {
		return domain.CreateResult{}, nil
	}
	now := s.clock()
	drafts := make([]domain.NotificationDraft, 0, len(targets))
	for _, target := range targets {
		drafts = append(drafts, buildActivityDraft(target, now))
	}
	result, err := s.notifications.CreateActivityNotifications(ctx, drafts)
	if err != nil {
		return domain.CreateResult{}, fmt.Errorf("запись уведомлений: %w", err)
	}
	s.log.Info().
		Int("created", result.Created).
		Int("skipped", result.SkippedByConflict).
		Msg("notify: немедленные уведомления записаны")
	return result, nil
}

func buildActivityDraft(target domain.DigestTarget, now time.Time) domain.NotificationDraft {
	activity := target.Activity
	return domain.NotificationDraft{
		ID:               uuid.NewString(),
		UserID:           target.Recipient.ID,
		Title:            fmt.Sprintf("%s: %s", activityLabel(activity.Type), activity.Title),
		Message:          domain.MessagePlaceholder,
		NotificationType: domain.NotificationTypeActivity,
		ScheduledAt:      now,
		Status:           domain.NotificationStatusPending,
		Metadata: domain.NotificationMetadata{
			ActivityCount:      1,
			MessagePlaceholder: domain.MessagePlaceholder,
		},
		ActivityID: activity.ID,
	}
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
