package notify

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

type stubNotifications struct {
	activityDrafts []domain.NotificationDraft
}

func (s *stubNotifications) CreateDigestNotifications(context.Context, []domain.DigestNotificationDraft) (domain.CreateResult, error) {
	return domain.CreateResult{}, nil
}

func (s *stubNotifications) CreateActivityNotifications(_ context.Context, drafts []domain.NotificationDraft) (domain.CreateResult, error) {
	s.activityDrafts = append(s.activityDrafts, drafts...)
	return domain.CreateResult{Created: len(drafts)}, nil
}

func TestNotifyActivities(t *testing.T) {
	notifications := &stubNotifications{}
	service := NewService(notifications, zerolog.Nop())

	targets := []domain.DigestTarget{
		{
			Activity: domain.Activity{
				ID:         "a1",
				Type:       domain.ActivityTypeRelease,
				Title:      "v1.2.3",
				OccurredAt: time.Now(),
			},
			Recipient: domain.Recipient{ID: "u1"},
		},
		{
			Activity: domain.Activity{
				ID:    "a2",
				Type:  domain.ActivityTypeIssue,
				Title: "bug",
			},
			Recipient: domain.Recipient{ID: "u2"},
		},
	}

	result, err := service.NotifyActivities(context.Background(), targets)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 2 {
		t.Fatalf("ожидали 2 созданных уведомления, получили %d", result.Created)
	}
	if len(notifications.activityDrafts) != 2 {
		t.Fatalf("ожидали 2 черновика, получили %d", len(notifications.activityDrafts))
	}

	first := notifications.activityDrafts[0]
	if first.NotificationType != domain.NotificationTypeActivity {
		t.Fatalf("ожидали тип activity, получили %q", first.NotificationType)
	}
	if first.ActivityID != "a1" {
		t.Fatalf("черновик должен ссылаться на активность, получили %q", first.ActivityID)
	}
	if first.Title != "Релиз: v1.2.3" {
		t.Fatalf("ожидали заголовок с меткой типа, получили %q", first.Title)
	}
	if first.Message != domain.MessagePlaceholder {
		t.Fatalf("текст должен быть плейсхолдером, получили %q", first.Message)
	}

	second := notifications.activityDrafts[1]
	if second.Title != "Задача: bug" {
		t.Fatalf("ожидали метку задачи, получили %q", second.Title)
	}
}

func TestNotifyActivitiesEmpty(t *testing.T) {
	notifications := &stubNotifications{}
	service := NewService(notifications, zerolog.Nop())

	result, err := service.NotifyActivities(context.Background(), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 || len(notifications.activityDrafts) != 0 {
		t.Fatalf("пустой вход не должен приводить к записи")
	}
}
