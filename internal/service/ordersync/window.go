package ordersync

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Значения по умолчанию для оконного списка.
const (
	DefaultLookback    = 24 * time.Hour
	DefaultWindowWidth = 6 * time.Hour
)

// Форматы, в которых вызывающий может задать границы диапазона.
var rangeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseBound(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range rangeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeRange превращает сырой диапазон в эффективный.
// Пустой или нераспознанный to заменяется на now, такой же from на now минус lookback.
// from позже to исправляется на to минус lookback.
func NormalizeRange(now time.Time, lookback time.Duration, raw domain.RangeFilter, loc *time.Location) domain.SyncRange {
	if loc == nil {
		loc = time.Local
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	field := raw.Field
	if field == "" {
		field = domain.FieldUpdatedAt
	}

	now = now.In(loc).Truncate(time.Second)
	to, ok := parseBound(raw.To, loc)
	if !ok {
		to = now
	}
	from, ok := parseBound(raw.From, loc)
	if !ok {
		from = now.Add(-lookback)
	}
	if from.After(to) {
		from = to.Add(-lookback)
	}
	return domain.SyncRange{Field: field, From: from, To: to}
}

// SplitWindows режет диапазон на смежные включающие окна с точностью до секунды:
// [start, min(to, start+width-1s)], следующее окно начинается через секунду после конца предыдущего.
func SplitWindows(r domain.SyncRange, width time.Duration) []domain.SyncRange {
	if width < time.Second {
		width = DefaultWindowWidth
	}
	if r.From.After(r.To) {
		return nil
	}

	windows := make([]domain.SyncRange, 0, int(r.To.Sub(r.From)/width)+1)
	for start := r.From; !start.After(r.To); {
		end := start.Add(width - time.Second)
		if end.After(r.To) {
			end = r.To
		}
		windows = append(windows, domain.SyncRange{Field: r.Field, From: start, To: end})
		start = end.Add(time.Second)
	}
	return windows
}

// WindowedFetcher получает список заказов по окнам дат.
type WindowedFetcher struct {
	source   domain.OrderSource
	lookback time.Duration
	width    time.Duration
	loc      *time.Location
	now      func() time.Time
	logger   *log.Entry
}

// NewWindowedFetcher создаёт загрузчик списка.
func NewWindowedFetcher(source domain.OrderSource, lookback, width time.Duration, loc *time.Location, logger *log.Entry) *WindowedFetcher {
	if logger == nil {
		logger = log.WithField("component", "ordersync-windows")
	}
	if loc == nil {
		loc = time.Local
	}
	return &WindowedFetcher{
		source:   source,
		lookback: lookback,
		width:    width,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// ListResult итог оконной загрузки.
type ListResult struct {
	Orders        []domain.OrderSummary
	Windows       int
	FailedWindows int
}

// List выполняет запросы по всем окнам и объединяет результаты без дублей,
// сохраняя порядок обнаружения. Упавшее окно пропускается; ошибка авторизации прерывает загрузку.
func (f *WindowedFetcher) List(ctx context.Context, keeper *SessionKeeper, filters domain.Filters) (ListResult, error) {
	var result ListResult

	if filters.Range == nil {
		f.logger.Warn("no date filter given, listing all orders in one request")
		var orders []domain.OrderSummary
		err := keeper.Do(ctx, func(s domain.Session) error {
			var callErr error
			orders, callErr = f.source.ListOrders(ctx, s, domain.ListQuery{Equals: filters.Equals})
			return callErr
		})
		result.Windows = 1
		if err != nil {
			if domain.IsFatal(err) {
				return result, err
			}
			result.FailedWindows++
			f.logger.WithError(err).Warn("order list request failed")
			return result, nil
		}
		result.Orders = dedup(nil, make(map[string]struct{}), orders)
		return result, nil
	}

	effective := NormalizeRange(f.now(), f.lookback, *filters.Range, f.loc)
	f.logger.WithFields(log.Fields{
		"field": effective.Field,
		"from":  effective.From.Format(time.DateTime),
		"to":    effective.To.Format(time.DateTime),
	}).Info("effective sync range")

	seen := make(map[string]struct{})
	for _, window := range SplitWindows(effective, f.width) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Windows++

		var chunk []domain.OrderSummary
		err := keeper.Do(ctx, func(s domain.Session) error {
			var callErr error
			chunk, callErr = f.source.ListOrders(ctx, s, domain.ListQuery{Equals: filters.Equals, Range: &window})
			return callErr
		})
		entry := f.logger.WithFields(log.Fields{
			"from": window.From.Format(time.DateTime),
			"to":   window.To.Format(time.DateTime),
		})
		if err != nil {
			if domain.IsFatal(err) {
				return result, err
			}
			result.FailedWindows++
			entry.WithError(err).Warn("order list window failed, skipping")
			continue
		}

		result.Orders = dedup(result.Orders, seen, chunk)
		entry.WithField("orders", len(chunk)).Debug("order list window fetched")
	}
	return result, nil
}

func dedup(out []domain.OrderSummary, seen map[string]struct{}, chunk []domain.OrderSummary) []domain.OrderSummary {
	for _, order := range chunk {
		if _, ok := seen[order.IncrementID]; ok {
			continue
		}
		seen[order.IncrementID] = struct{}{}
		out = append(out, order)
	}
	return out
}
