package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/infra/metrics"
)

// FetchUserStates возвращает курсоры получателей, отсортированные по давности
// последней успешной обработки.
func (p *Postgres) FetchUserStates(ctx context.Context, limit int) ([]domain.UserDigestState, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 1000
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, last_successful_run_at, last_attempted_run_at, COALESCE(timezone, '')
FROM user_digest_states
ORDER BY last_successful_run_at NULLS FIRST, user_id
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "user_states_fetch", "user_digest_states", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.UserDigestState
	for rows.Next() {
		state, err := scanUserState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// GetUserStates возвращает курсоры указанных получателей. Отсутствующие
// пользователи в карте не представлены.
func (p *Postgres) GetUserStates(ctx context.Context, userIDs []string) (map[string]domain.UserDigestState, error) {
	states := make(map[string]domain.UserDigestState, len(userIDs))
	if len(userIDs) == 0 {
		return states, nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, last_successful_run_at, last_attempted_run_at, COALESCE(timezone, '')
FROM user_digest_states
WHERE user_id = ANY($1)
`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "user_states_get", "user_digest_states", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		state, err := scanUserState(rows)
		if err != nil {
			return nil, err
		}
		states[state.UserID] = state
	}
	return states, rows.Err()
}

// UpdateUserStates применяет изменения курсоров одним батчем. Поле
// last_successful_run_at не откатывается: при отсутствии нового значения
// сохраняется существующее.
func (p *Postgres) UpdateUserStates(ctx context.Context, updates []domain.UserDigestStateUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, update := range updates {
		succeededAt := sql.NullTime{}
		if update.SucceededAt != nil {
			succeededAt = sql.NullTime{Time: *update.SucceededAt, Valid: true}
		}
		batch.Queue(`
INSERT INTO user_digest_states (user_id, last_attempted_run_at, last_successful_run_at, timezone)
VALUES ($1, $2, $3, NULLIF($4, ''))
ON CONFLICT (user_id) DO UPDATE
SET last_attempted_run_at  = EXCLUDED.last_attempted_run_at,
    last_successful_run_at = COALESCE(EXCLUDED.last_successful_run_at, user_digest_states.last_successful_run_at),
    timezone               = COALESCE(EXCLUDED.timezone, user_digest_states.timezone)
`, update.UserID, update.AttemptedAt, succeededAt, update.Timezone)
	}

	start := time.Now()
	err := p.pool.SendBatch(ctx, batch).Close()
	metrics.ObserveNetworkRequest("postgres", "user_states_update", "user_digest_states", start, err)
	return err
}

func scanUserState(rows pgx.Rows) (domain.UserDigestState, error) {
	var (
		state       domain.UserDigestState
		succeededAt sql.NullTime
		attemptedAt sql.NullTime
	)
	if err := rows.Scan(&state.UserID, &succeededAt, &attemptedAt, &state.Timezone); err != nil {
		return domain.UserDigestState{}, err
	}
	if succeededAt.Valid {
		t := succeededAt.Time
		state.LastSuccessfulRunAt = &t
	}
	if attemptedAt.Valid {
		t := attemptedAt.Time
		state.LastAttemptedRunAt = &t
	}
	return state, nil
}
