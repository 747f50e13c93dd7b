package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ActivityRepo        = (*Postgres)(nil)
	_ domain.RecipientRepo       = (*Postgres)(nil)
	_ domain.NotificationRepo    = (*Postgres)(nil)
	_ domain.UserDigestStateRepo = (*Postgres)(nil)
	_ domain.ScheduleTaskRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// ListDigestTargets возвращает пары (активность, получатель): завершённые
// активности наблюдаемых источников, отфильтрованные по per-type подпискам
// получателя и не покрытые существующими уведомлениями. Порядок — по убыванию
// свежести активности.
func (p *Postgres) ListDigestTargets(ctx context.Context, params domain.ListTargetsParams) ([]domain.DigestTarget, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	limit := params.Limit
	if limit <= 0 {
		limit = 200
	}
	activityIDs := params.ActivityIDs
	if activityIDs == nil {
		activityIDs = []string{}
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT a.id, a.activity_type, a.data_source_id, ds.name, a.title, a.body, a.occurred_at, a.url,
       u.id, COALESCE(u.timezone, ''),
       ns.digest_enabled, ns.digest_times, COALESCE(ns.digest_timezone, ''), ns.channels
FROM activities a
JOIN data_sources ds ON ds.id = a.data_source_id
JOIN user_watches w ON w.data_source_id = a.data_source_id
JOIN users u ON u.id = w.user_id
JOIN user_notification_settings ns ON ns.user_id = u.id
WHERE a.status = 'completed'
  AND ((a.activity_type = 'release' AND w.watch_releases)
    OR (a.activity_type = 'issue' AND w.watch_issues)
    OR (a.activity_type = 'pull_request' AND w.watch_pull_requests))
  AND NOT EXISTS (
      SELECT 1 FROM notifications n
      WHERE n.user_id = u.id AND n.activity_id = a.id)
  AND NOT EXISTS (
      SELECT 1 FROM notifications n
      JOIN notification_digest_entries e ON e.notification_id = n.id
      WHERE n.user_id = u.id AND e.activity_id = a.id)
  AND ($2::timestamptz IS NULL OR a.occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR a.occurred_at < $3)
  AND (cardinality($4::text[]) = 0 OR a.id = ANY($4))
ORDER BY a.occurred_at DESC, a.id, u.id
LIMIT $1
`, limit, params.Since, params.Until, activityIDs)
	metrics.ObserveNetworkRequest("postgres", "digest_targets_list", "activities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []domain.DigestTarget
	for rows.Next() {
		var target domain.DigestTarget
		if err := rows.Scan(
			&target.Activity.ID, &target.Activity.Type, &target.Activity.DataSourceID,
			&target.Activity.DataSourceName, &target.Activity.Title, &target.Activity.Body,
			&target.Activity.OccurredAt, &target.Activity.URL,
			&target.Recipient.ID, &target.Recipient.Timezone,
			&target.Recipient.Digest.Enabled, &target.Recipient.Digest.Times,
			&target.Recipient.Digest.Timezone, &target.Recipient.Channels,
		); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

// ListDigestRecipients возвращает получателей с включённым дайджестом.
func (p *Postgres) ListDigestRecipients(ctx context.Context, limit int) ([]domain.Recipient, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT u.id, COALESCE(u.timezone, ''),
       ns.digest_enabled, ns.digest_times, COALESCE(ns.digest_timezone, ''), ns.channels
FROM users u
JOIN user_notification_settings ns ON ns.user_id = u.id
WHERE ns.digest_enabled
ORDER BY u.id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "digest_recipients_list", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		if err := rows.Scan(&r.ID, &r.Timezone, &r.Digest.Enabled, &r.Digest.Times, &r.Digest.Timezone, &r.Channels); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// Acquire вставляет запись о занятом слоте и возвращает true, если удалось.
// Конфликт означает, что слот уже взят другим инстансом планировщика.
func (p *Postgres) Acquire(ctx context.Context, userID string, slot time.Time) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
INSERT INTO digest_schedule_tasks (user_id, scheduled_for)
VALUES ($1, $2)
ON CONFLICT (user_id, scheduled_for) DO NOTHING
`, userID, slot)
	metrics.ObserveNetworkRequest("postgres", "schedule_tasks_acquire", "digest_schedule_tasks", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}
