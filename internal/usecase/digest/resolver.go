package digest

import (
	"sort"
	"strings"

	"github.com/tri-star/chase-light-sub000/internal/domain"
	"github.com/tri-star/chase-light-sub000/internal/usecase/schedule"
)

// DefaultTimezone применяется, когда ни в настройках дайджеста, ни у
// получателя не задан корректный часовой пояс.
const DefaultTimezone = "Asia/Tokyo"

// DefaultDigestTime подставляется при пустом или полностью некорректном
// наборе слотов доставки.
const DefaultDigestTime = "18:00"

// ResolveRecipientDigest нормализует сырые настройки получателя в эффективное
// расписание. Функция тотальна: некорректные значения отфильтровываются и
// заменяются значениями по умолчанию, ошибок не бывает.
func ResolveRecipientDigest(r domain.Recipient) domain.ResolvedDigest {
	timezone := resolveTimezone(r)
	if !r.Digest.Enabled {
		return domain.ResolvedDigest{Enabled: false, Times: []string{}, Timezone: timezone}
	}
	times := normalizeTimes(r.Digest.Times)
	if len(times) == 0 {
		times = []string{DefaultDigestTime}
	}
	return domain.ResolvedDigest{Enabled: true, Times: times, Timezone: timezone}
}

// resolveTimezone выбирает пояс по приоритету: настройки дайджеста,
// затем профиль получателя, затем DefaultTimezone.
func resolveTimezone(r domain.Recipient) string {
	for _, candidate := range []string{r.Digest.Timezone, r.Timezone} {
		normalized, err := schedule.NormalizeTimezone(candidate)
		if err != nil {
			continue
		}
		return normalized
	}
	return DefaultTimezone
}

// normalizeTimes оставляет только строгие значения HH:mm, убирает дубликаты
// и сортирует по возрастанию.
func normalizeTimes(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, value := range raw {
		trimmed := strings.TrimSpace(value)
		if !validSlot(trimmed) {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}

func validSlot(value string) bool {
	if len(value) != 5 || value[2] != ':' {
		return false
	}
	for _, idx := range []int{0, 1, 3, 4} {
		if value[idx] < '0' || value[idx] > '9' {
			return false
		}
	}
	hour := int(value[0]-'0')*10 + int(value[1]-'0')
	minute := int(value[3]-'0')*10 + int(value[4]-'0')
	return hour <= 23 && minute <= 59
}
