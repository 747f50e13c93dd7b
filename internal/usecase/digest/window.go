package digest

import (
	"time"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

// WindowParams задаёт входные данные расчёта окна прогона.
type WindowParams struct {
	LastSuccessfulRunAt *time.Time
	Now                 time.Time
	LookbackDays        int
	Since               *time.Time
	Until               *time.Time
	Timezone            string
}

// CalcWindow вычисляет полуинтервал [from, to) активностей следующего прогона.
// Начало окна никогда не уходит дальше lookback-границы, поэтому даже давно
// падающий получатель не заставит пайплайн перечитывать произвольно далёкое
// прошлое. Пустое или вывернутое окно возвращается как nil: вызывающий обязан
// пропустить получателя, это не ошибка.
func CalcWindow(p WindowParams) *domain.DigestWindow {
	windowEnd := p.Now
	if p.Until != nil {
		windowEnd = *p.Until
	}
	maxLookbackStart := windowEnd.AddDate(0, 0, -p.LookbackDays)

	windowStart := maxLookbackStart
	if p.LastSuccessfulRunAt != nil && p.LastSuccessfulRunAt.After(windowStart) {
		windowStart = *p.LastSuccessfulRunAt
	}
	if p.Since != nil && p.Since.After(windowStart) {
		windowStart = *p.Since
	}

	if !windowStart.Before(windowEnd) {
		return nil
	}
	return &domain.DigestWindow{From: windowStart, To: windowEnd, Timezone: p.Timezone}
}
