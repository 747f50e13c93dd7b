package schedule

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

const fallbackSlot = "18:00"

// NextRun возвращает ближайший слот доставки строго после now для набора
// слотов HH:mm в указанном поясе. Слот текущего дня выбирается только если
// now строго раньше него, иначе расписание переходит на следующий день.
// Арифметика опирается на базу IANA через time.Location, поэтому переходы
// на летнее время обрабатываются корректно.
func NextRun(now time.Time, times []string, loc *time.Location) time.Time {
	if len(times) == 0 {
		times = []string{fallbackSlot}
	}
	local := now.In(loc)
	for day := 0; day <= 1; day++ {
		for _, slot := range times {
			hour, minute, ok := parseSlot(slot)
			if !ok {
				continue
			}
			candidate := time.Date(local.Year(), local.Month(), local.Day()+day, hour, minute, 0, 0, loc)
			if candidate.After(now) {
				return candidate
			}
		}
	}
	// все слоты оказались некорректными
	hour, minute, _ := parseSlot(fallbackSlot)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// SlotMatches сообщает, совпадает ли текущая минута в поясе получателя
// с одним из слотов доставки.
func SlotMatches(now time.Time, times []string, loc *time.Location) (string, bool) {
	current := now.In(loc).Format("15:04")
	for _, slot := range times {
		if slot == current {
			return slot, true
		}
	}
	return "", false
}

func parseSlot(slot string) (int, int, bool) {
	parts := strings.SplitN(slot, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}

// NormalizeTimezone приводит пользовательский ввод к каноничному имени зоны
// IANA. Принимает варианты с пробелами и произвольным регистром.
func NormalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
