package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
)

// CreateDigestNotifications сохраняет черновики дайджестов конфликт-безопасно.
// Каждый черновик пишется в собственной транзакции: сбой одного не откатывает
// остальные. Конфликт по (user_id, notification_type, window_from, window_to)
// считается дубликатом и пропускается без дочерних строк.
func (p *Postgres) CreateDigestNotifications(ctx context.Context, drafts []domain.DigestNotificationDraft) (domain.CreateResult, error) {
	if len(drafts) == 0 {
		return domain.CreateResult{}, nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var result domain.CreateResult
	for _, draft := range drafts {
		inserted, err := p.createDigestNotification(ctx, draft)
		if err != nil {
			return result, fmt.Errorf("создание дайджеста %s: %w", draft.Notification.ID, err)
		}
		if inserted {
			result.Created++
		} else {
			result.SkippedByConflict++
		}
	}
	return result, nil
}

func (p *Postgres) createDigestNotification(ctx context.Context, draft domain.DigestNotificationDraft) (bool, error) {
	metadata, err := json.Marshal(draft.Notification.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "digest_notification_create", "notifications", start, err)
		return false, err
	}
	defer tx.Rollback(ctx)

	var notificationID string
	err = tx.QueryRow(ctx, `
INSERT INTO notifications (id, user_id, title, message, notification_type,
                           scheduled_at, status, status_detail, metadata,
                           window_from, window_to)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
ON CONFLICT (user_id, notification_type, window_from, window_to) DO NOTHING
RETURNING id
`,
		draft.Notification.ID, draft.Notification.UserID, draft.Notification.Title,
		draft.Notification.Message, draft.Notification.NotificationType,
		draft.Notification.ScheduledAt, draft.Notification.Status,
		draft.Notification.StatusDetail, metadata,
		draft.Notification.Metadata.Range.From, draft.Notification.Metadata.Range.To,
	).Scan(&notificationID)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "digest_notification_create", "notifications", start, nil)
		return false, nil
	}
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "digest_notification_create", "notifications", start, err)
		return false, err
	}

	batch := digestEntriesBatch(notificationID, draft.Entries)
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			metrics.ObserveNetworkRequest("postgres", "digest_notification_create", "notifications", start, err)
			return false, fmt.Errorf("запись позиций дайджеста: %w", err)
		}
	}

	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "digest_notification_create", "notifications", start, err)
	if err != nil {
		return false, err
	}
	return true, nil
}

// digestEntriesBatch собирает батч дочерних строк, привязанных к id созданного
// уведомления. Upsert по позиции позволяет повторной записи дописать строки,
// не продублировав уже существующие.
func digestEntriesBatch(notificationID string, entries []domain.DigestEntry) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, entry := range entries {
		batch.Queue(`
INSERT INTO notification_digest_entries (notification_id, data_source_id, data_source_name,
                                         activity_type, activity_id, position,
                                         title, summary, url, generator)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (notification_id, data_source_id, activity_type, position) DO UPDATE
SET activity_id = EXCLUDED.activity_id,
    title       = EXCLUDED.title,
    summary     = EXCLUDED.summary,
    url         = EXCLUDED.url,
    generator   = EXCLUDED.generator
`,
			notificationID, entry.DataSourceID, entry.DataSourceName,
			entry.ActivityType, entry.ActivityID, entry.Position,
			entry.Title, entry.Summary, entry.URL, entry.Generator,
		)
	}
	return batch
}

// CreateActivityNotifications сохраняет немедленные уведомления legacy-пайплайна.
// Конфликт по (user_id, activity_id, notification_type) пропускается.
func (p *Postgres) CreateActivityNotifications(ctx context.Context, drafts []domain.NotificationDraft) (domain.CreateResult, error) {
	if len(drafts) == 0 {
		return domain.CreateResult{}, nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var result domain.CreateResult
	start := time.Now()
	batch := &pgx.Batch{}
	for _, draft := range drafts {
		metadata, err := json.Marshal(draft.Metadata)
		if err != nil {
			return result, fmt.Errorf("marshal metadata: %w", err)
		}
		batch.Queue(`
INSERT INTO notifications (id, user_id, title, message, notification_type,
                           scheduled_at, status, status_detail, metadata, activity_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
ON CONFLICT (user_id, activity_id, notification_type) DO NOTHING
`,
			draft.ID, draft.UserID, draft.Title, draft.Message, draft.NotificationType,
			draft.ScheduledAt, draft.Status, draft.StatusDetail, metadata, draft.ActivityID,
		)
	}

	results := p.pool.SendBatch(ctx, batch)
	var batchErr error
	for range drafts {
		tag, err := results.Exec()
		if err != nil {
			batchErr = err
			break
		}
		if tag.RowsAffected() > 0 {
			result.Created++
		} else {
			result.SkippedByConflict++
		}
	}
	closeErr := results.Close()
	if batchErr == nil {
		batchErr = closeErr
	}
	metrics.ObserveNetworkRequest("postgres", "activity_notifications_create", "notifications", start, batchErr)
	if batchErr != nil {
		return result, batchErr
	}
	return result, nil
}
