package domain

import "time"

// ActivityType описывает тип активности внешнего источника.
type ActivityType string

const (
	// ActivityTypeRelease — выпуск новой версии.
	ActivityTypeRelease ActivityType = "release"
	// ActivityTypeIssue — новая задача.
	ActivityTypeIssue ActivityType = "issue"
	// ActivityTypePullRequest — новый pull request.
	ActivityTypePullRequest ActivityType = "pull_request"
)

// Activity представляет завершённую активность источника данных.
// Запись неизменяема: пайплайн дайджестов её только читает.
type Activity struct {
	ID             string
	Type           ActivityType
	DataSourceID   string
	DataSourceName string
	Title          string
	Body           string
	OccurredAt     time.Time
	URL            string
}

// DigestSettings хранит сырые настройки дайджеста пользователя.
type DigestSettings struct {
	Enabled  bool
	Times    []string
	Timezone string
}

// Recipient описывает получателя дайджеста вместе с его настройками.
type Recipient struct {
	ID       string
	Timezone string
	Digest   DigestSettings
	Channels []string
}

// ResolvedDigest — нормализованное расписание получателя.
type ResolvedDigest struct {
	Enabled  bool
	Times    []string
	Timezone string
}

// DigestWindow задаёт полуинтервал [From, To) отбора активностей.
type DigestWindow struct {
	From     time.Time
	To       time.Time
	Timezone string
}

// DigestEntryCandidate — одна активность внутри группы до суммаризации.
type DigestEntryCandidate struct {
	ActivityID string
	Title      string
	Body       string
	URL        string
	OccurredAt time.Time
}

// DigestGroupCandidate — группа активностей по ключу (источник, тип).
type DigestGroupCandidate struct {
	ID             string
	DataSourceID   string
	DataSourceName string
	ActivityType   ActivityType
	Entries        []DigestEntryCandidate
}

// DigestCandidate — агрегат одного получателя перед суммаризацией.
type DigestCandidate struct {
	UserID          string
	UserTimezone    string
	Window          DigestWindow
	TotalActivities int
	Groups          []DigestGroupCandidate
}

// SummarizedEntry — готовая позиция дайджеста после суммаризации.
type SummarizedEntry struct {
	ActivityID string
	Title      string
	Summary    string
	URL        string
}

// GeneratorType указывает, каким путём получена суммаризация группы.
type GeneratorType string

const (
	// GeneratorTypeAI — группа обработана LLM-провайдером.
	GeneratorTypeAI GeneratorType = "ai"
	// GeneratorTypeFallback — сработал детерминированный фолбэк.
	GeneratorTypeFallback GeneratorType = "fallback"
)

// GeneratorStats несёт статистику генерации для наблюдаемости.
// На управление потоком она никогда не влияет.
type GeneratorStats struct {
	GroupID          string        `json:"group_id"`
	Type             GeneratorType `json:"type"`
	Model            string        `json:"model,omitempty"`
	PromptTokens     int           `json:"prompt_tokens,omitempty"`
	CompletionTokens int           `json:"completion_tokens,omitempty"`
	TotalTokens      int           `json:"total_tokens,omitempty"`
}

// NotificationStatus — статус жизненного цикла уведомления.
type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusQueued    NotificationStatus = "queued"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusCancelled NotificationStatus = "cancelled"
)

const (
	// NotificationTypeDigest — консолидированный дайджест.
	NotificationTypeDigest = "digest"
	// NotificationTypeActivity — немедленное уведомление об одной активности
	// (legacy-пайплайн, сохранён параллельно дайджестам).
	NotificationTypeActivity = "activity"
)

// MessagePlaceholder подставляется в текст уведомления до рендеринга
// финального сообщения нижестоящим сервисом доставки.
const MessagePlaceholder = "__digest_message_pending__"

// MetadataRange описывает окно дайджеста в метаданных уведомления.
type MetadataRange struct {
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Timezone string    `json:"timezone"`
}

// MetadataGroup перечисляет активности одной группы в метаданных.
type MetadataGroup struct {
	GroupID      string       `json:"group_id"`
	DataSourceID string       `json:"data_source_id"`
	ActivityType ActivityType `json:"activity_type"`
	ActivityIDs  []string     `json:"activity_ids"`
}

// NotificationMetadata — метаданные уведомления, хранятся как JSON.
type NotificationMetadata struct {
	Range              MetadataRange    `json:"range"`
	ActivityCount      int              `json:"activity_count"`
	Groups             []MetadataGroup  `json:"groups"`
	GeneratorStats     []GeneratorStats `json:"generator_stats"`
	MessagePlaceholder string           `json:"message_placeholder"`
}

// NotificationDraft — запись уведомления, готовая к сохранению.
// После передачи в персистентный слой черновик не изменяется.
type NotificationDraft struct {
	ID               string
	UserID           string
	Title            string
	Message          string
	NotificationType string
	ScheduledAt      time.Time
	Status           NotificationStatus
	StatusDetail     string
	Metadata         NotificationMetadata
	ActivityID       string
}

// DigestEntry — дочерняя строка дайджеста; Position определяет порядок показа.
type DigestEntry struct {
	DataSourceID   string
	DataSourceName string
	ActivityType   ActivityType
	ActivityID     string
	Position       int
	Title          string
	Summary        string
	URL            string
	Generator      GeneratorType
}

// DigestNotificationDraft объединяет уведомление и его позиции.
type DigestNotificationDraft struct {
	Notification NotificationDraft
	Entries      []DigestEntry
}

// UserDigestState — курсор обработок получателя.
// LastAttemptedRunAt обновляется при каждой попытке,
// LastSuccessfulRunAt — только после чистой записи.
type UserDigestState struct {
	UserID              string
	LastSuccessfulRunAt *time.Time
	LastAttemptedRunAt  *time.Time
	Timezone            string
}
