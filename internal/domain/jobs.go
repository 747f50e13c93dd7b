package domain

import (
	"context"
	"time"
)

// DigestJobCause описывает источник запроса на прогон пайплайна.
type DigestJobCause string

const (
	// DigestCauseManual — прогон запрошен через API вручную.
	DigestCauseManual DigestJobCause = "manual"
	// DigestCauseScheduled — прогон запланирован по расписанию.
	DigestCauseScheduled DigestJobCause = "scheduled"
)

// DigestRunJob содержит параметры одного прогона пайплайна дайджестов.
// Пустой UserID означает прогон по всем получателям выборки.
type DigestRunJob struct {
	ID          string         `json:"job_id,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Limit       int            `json:"limit,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Since       *time.Time     `json:"since,omitempty"`
	Until       *time.Time     `json:"until,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       DigestJobCause `json:"cause"`
}

// RunAckFunc подтверждает успешную обработку или запрашивает повтор доставки.
type RunAckFunc func(success bool) error

// RunQueue описывает очередь задач на прогон пайплайна.
type RunQueue interface {
	Enqueue(ctx context.Context, job DigestRunJob) error
	Receive(ctx context.Context) (DigestRunJob, RunAckFunc, error)
}

// ScheduleTaskRepo отвечает за идемпотентное планирование прогонов.
type ScheduleTaskRepo interface {
	// Acquire помечает слот получателя занятым и возвращает true, если запись
	// была создана. При конфликте возвращает false без ошибки.
	Acquire(ctx context.Context, userID string, slot time.Time) (bool, error)
}
