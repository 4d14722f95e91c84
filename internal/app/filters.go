package app

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// BuildFilters собирает фильтры оконного режима. Диапазон без поля ограничивает updated_at.
func BuildFilters(equals map[string]string, rangeField, from, to string) (domain.Filters, error) {
	filters := domain.Filters{}
	if len(equals) > 0 {
		filters.Equals = make(map[string]string, len(equals))
		for k, v := range equals {
			key := strings.TrimSpace(k)
			if key == "" {
				return domain.Filters{}, fmt.Errorf("empty filter name")
			}
			filters.Equals[key] = strings.TrimSpace(v)
		}
	}

	field := domain.RangeField(strings.ToLower(strings.TrimSpace(rangeField)))
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if field == "" && from == "" && to == "" {
		return filters, nil
	}
	switch field {
	case "":
		field = domain.FieldUpdatedAt
	case domain.FieldUpdatedAt, domain.FieldCreatedAt:
	default:
		return domain.Filters{}, fmt.Errorf("unsupported range field %q (use updated_at|created_at)", rangeField)
	}
	filters.Range = &domain.RangeFilter{Field: field, From: from, To: to}
	return filters, nil
}

// ParseEquals разбирает пары key=value из флагов командной строки.
func ParseEquals(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}
