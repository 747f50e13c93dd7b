package domain

import (
	"context"
	"time"
)

// DigestTarget — строка входной выборки: активность, соединённая с получателем
// и его настройками дайджеста. Пары приходят отсортированными по убыванию
// свежести активности.
type DigestTarget struct {
	Activity  Activity
	Recipient Recipient
}

// ListTargetsParams задаёт параметры входной выборки.
type ListTargetsParams struct {
	Limit       int
	Since       *time.Time
	Until       *time.Time
	ActivityIDs []string
}

// ActivityRepo — входная граница чтения: завершённые активности,
// отфильтрованные по подпискам получателей и не покрытые существующими
// уведомлениями.
type ActivityRepo interface {
	ListDigestTargets(ctx context.Context, params ListTargetsParams) ([]DigestTarget, error)
}

// RecipientRepo перечисляет получателей с включённым дайджестом;
// используется планировщиком для определения наступивших слотов.
type RecipientRepo interface {
	ListDigestRecipients(ctx context.Context, limit int) ([]Recipient, error)
}

// CreateResult — итог пакетной записи уведомлений.
type CreateResult struct {
	Created           int
	SkippedByConflict int
}

// NotificationRepo — выходная граница записи. Обе разновидности уведомлений
// пишутся конфликт-безопасно: повторный вызов с теми же черновиками не
// создаёт дубликатов.
type NotificationRepo interface {
	CreateDigestNotifications(ctx context.Context, drafts []DigestNotificationDraft) (CreateResult, error)
	CreateActivityNotifications(ctx context.Context, drafts []NotificationDraft) (CreateResult, error)
}

// UserDigestStateUpdate — изменение курсора одного получателя.
type UserDigestStateUpdate struct {
	UserID      string
	AttemptedAt time.Time
	SucceededAt *time.Time
	Timezone    string
}

// UserDigestStateRepo отслеживает курсоры обработок получателей.
type UserDigestStateRepo interface {
	FetchUserStates(ctx context.Context, limit int) ([]UserDigestState, error)
	GetUserStates(ctx context.Context, userIDs []string) (map[string]UserDigestState, error)
	UpdateUserStates(ctx context.Context, updates []UserDigestStateUpdate) error
}

// SummarizationEntryInput — одна активность на входе суммаризации.
type SummarizationEntryInput struct {
	ActivityID string
	Title      string
	Body       string
	URL        string
	OccurredAt time.Time
}

// SummarizationGroupInput — группа активностей на входе суммаризации.
type SummarizationGroupInput struct {
	GroupID        string
	DataSourceName string
	ActivityType   ActivityType
	Locale         string
	Entries        []SummarizationEntryInput
}

// SummarizationGroupOutput — результат суммаризации одной группы.
type SummarizationGroupOutput struct {
	GroupID string
	Entries []SummarizedEntry
	Stats   GeneratorStats
}

// GroupSummarizer строит человекочитаемые позиции дайджеста.
// Сбой одной группы не прерывает обработку остальных: реализация обязана
// вернуть для такой группы детерминированный фолбэк, а не ошибку всего батча.
type GroupSummarizer interface {
	SummarizeGroups(ctx context.Context, groups []SummarizationGroupInput) ([]SummarizationGroupOutput, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	// Once выполняет fn, только если ключ ещё не занят; при ошибке fn ключ
	// освобождается, чтобы следующая попытка могла повторить работу.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}
