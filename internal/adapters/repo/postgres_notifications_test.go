package repo

import (
	"context"
	"testing"
	"time"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

func TestCreateDigestNotificationsEmptyInput(t *testing.T) {
	// пул не задан: пустой вход обязан вернуться до любого обращения к БД
	p := &Postgres{}
	result, err := p.CreateDigestNotifications(context.Background(), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 || result.SkippedByConflict != 0 {
		t.Fatalf("пустой вход должен давать нулевой итог, получили %+v", result)
	}
}

func TestCreateActivityNotificationsEmptyInput(t *testing.T) {
	p := &Postgres{}
	result, err := p.CreateActivityNotifications(context.Background(), nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if result.Created != 0 || result.SkippedByConflict != 0 {
		t.Fatalf("пустой вход должен давать нулевой итог, получили %+v", result)
	}
}

func TestDigestEntriesBatch(t *testing.T) {
	entries := []domain.DigestEntry{
		{
			DataSourceID:   "ds1",
			DataSourceName: "owner/repo",
			ActivityType:   domain.ActivityTypeRelease,
			ActivityID:     "a1",
			Position:       0,
			Title:          "v1.0.0",
			Summary:        "первый релиз",
			URL:            "https://example.com/r/1",
			Generator:      domain.GeneratorTypeAI,
		},
		{
			DataSourceID: "ds1",
			ActivityType: domain.ActivityTypeIssue,
			ActivityID:   "a2",
			Position:     1,
			Title:        "bug",
			Generator:    domain.GeneratorTypeFallback,
		},
	}

	batch := digestEntriesBatch("n1", entries)
	if batch.Len() != len(entries) {
		t.Fatalf("ожидали по запросу на запись, получили %d", batch.Len())
	}
	for i, queued := range batch.QueuedQueries {
		if queued.Arguments[0] != "n1" {
			t.Fatalf("запись %d должна ссылаться на id уведомления, получили %v", i, queued.Arguments[0])
		}
		if queued.Arguments[4] != entries[i].ActivityID {
			t.Fatalf("запись %d должна нести свой activity id, получили %v", i, queued.Arguments[4])
		}
		if queued.Arguments[5] != entries[i].Position {
			t.Fatalf("запись %d должна сохранять позицию, получили %v", i, queued.Arguments[5])
		}
		if queued.Arguments[9] != entries[i].Generator {
			t.Fatalf("запись %d должна нести генератор, получили %v", i, queued.Arguments[9])
		}
	}
}

func TestDigestEntriesBatchNoEntries(t *testing.T) {
	batch := digestEntriesBatch("n1", nil)
	if batch.Len() != 0 {
		t.Fatalf("без записей батч должен быть пустым, получили %d", batch.Len())
	}
}

func TestConnCtxWithParentKeepsDeadline(t *testing.T) {
	p := &Postgres{}

	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	ctx, cancelChild := p.connCtxWithParent(parent)
	defer cancelChild()
	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatalf("дедлайн родителя должен сохраняться")
	}
	parentDeadline, _ := parent.Deadline()
	if !deadline.Equal(parentDeadline) {
		t.Fatalf("дедлайн не должен подменяться, получили %v", deadline)
	}

	ctx, cancelChild = p.connCtxWithParent(context.Background())
	defer cancelChild()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatalf("контекст без дедлайна должен получить таймаут")
	}
}
