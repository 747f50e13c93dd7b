package digest

import (
	"github.com/tri-star/chase-light-sub000/internal/domain"
)

// DefaultMaxEntriesPerGroup ограничивает число записей в одной группе.
const DefaultMaxEntriesPerGroup = 10

// GroupID строит детерминированный составной ключ группы.
func GroupID(dataSourceID string, activityType domain.ActivityType) string {
	return dataSourceID + ":" + string(activityType)
}

// BuildGroups разбивает активности на группы по ключу (источник, тип).
// Активности обходятся в порядке входной выборки (по убыванию свежести);
// порядок внутри группы не пересортировывается. Записи сверх лимита уже
// заполненной группы выпадают из текущего кандидата, но остаются в источнике
// и будут рассмотрены в следующем окне, пока не выйдут за lookback.
// Второе возвращаемое значение — число отброшенных записей.
func BuildGroups(activities []domain.Activity, maxEntriesPerGroup int) ([]domain.DigestGroupCandidate, int) {
	if maxEntriesPerGroup <= 0 {
		maxEntriesPerGroup = DefaultMaxEntriesPerGroup
	}

	order := make([]string, 0)
	groups := make(map[string]*domain.DigestGroupCandidate)
	dropped := 0

	for _, activity := range activities {
		id := GroupID(activity.DataSourceID, activity.Type)
		group, ok := groups[id]
		if !ok {
			group = &domain.DigestGroupCandidate{
				ID:             id,
				DataSourceID:   activity.DataSourceID,
				DataSourceName: activity.DataSourceName,
				ActivityType:   activity.Type,
			}
			groups[id] = group
			order = append(order, id)
		}
		if len(group.Entries) >= maxEntriesPerGroup {
			dropped++
			continue
		}
		group.Entries = append(group.Entries, domain.DigestEntryCandidate{
			ActivityID: activity.ID,
			Title:      activity.Title,
			Body:       activity.Body,
			URL:        activity.URL,
			OccurredAt: activity.OccurredAt,
		})
	}

	out := make([]domain.DigestGroupCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out, dropped
}
