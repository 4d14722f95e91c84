package ordersync

import (
	"context"
	"errors"
	"sort"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// DefaultTopN задаёт, сколько последних заказов берёт режим last50.
const DefaultTopN = 50

// IDRange замкнутый интервал числовых increment id.
type IDRange struct {
	Lo int64
	Hi int64
}

// Len возвращает число идентификаторов в интервале.
func (r IDRange) Len() int64 {
	if r.Hi < r.Lo {
		return 0
	}
	return r.Hi - r.Lo + 1
}

func numericIDs(orders []domain.OrderSummary) []int64 {
	ids := make([]int64, 0, len(orders))
	for _, order := range orders {
		if id, ok := order.NumericID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// RangeFromSummaries возвращает [min, max] числовых id. false, если числовых id нет.
func RangeFromSummaries(orders []domain.OrderSummary) (IDRange, bool) {
	ids := numericIDs(orders)
	if len(ids) == 0 {
		return IDRange{}, false
	}
	rng := IDRange{Lo: ids[0], Hi: ids[0]}
	for _, id := range ids[1:] {
		if id < rng.Lo {
			rng.Lo = id
		}
		if id > rng.Hi {
			rng.Hi = id
		}
	}
	return rng, true
}

// TopRange возвращает [min, max] для n наибольших числовых id.
func TopRange(orders []domain.OrderSummary, n int) (IDRange, bool) {
	ids := numericIDs(orders)
	if len(ids) == 0 {
		return IDRange{}, false
	}
	if n <= 0 {
		n = DefaultTopN
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > n {
		ids = ids[:n]
	}
	return IDRange{Lo: ids[len(ids)-1], Hi: ids[0]}, true
}

// ScanKind описывает, что произошло с одним идентификатором при обходе.
type ScanKind string

const (
	ScanApplied ScanKind = "applied"
	ScanDeleted ScanKind = "deleted"
	// ScanAbsent: заказа нет ни в магазине, ни локально.
	ScanAbsent ScanKind = "absent"
	ScanEmpty  ScanKind = "empty"
	ScanFailed ScanKind = "failed"
)

// ScanResult итог обработки одного идентификатора.
type ScanResult struct {
	IncrementID   string
	Kind          ScanKind
	Apply         ApplyResult
	Prior         *domain.PersistedOrderState
	StatusChanged bool
	Err           error
}

// BackfillScanner обходит каждый целый id интервала и запрашивает детали напрямую.
type BackfillScanner struct {
	source     domain.OrderSource
	reconciler *Reconciler
	pacer      *Pacer
	logger     *log.Entry
}

// NewBackfillScanner создаёт сканер.
func NewBackfillScanner(source domain.OrderSource, reconciler *Reconciler, pacer *Pacer, logger *log.Entry) *BackfillScanner {
	if logger == nil {
		logger = log.WithField("component", "ordersync-backfill")
	}
	return &BackfillScanner{source: source, reconciler: reconciler, pacer: pacer, logger: logger}
}

// Scan обходит интервал по возрастанию. visit вызывается для каждого id.
// Возвращает ошибку только при потере сессии или отмене ctx.
func (s *BackfillScanner) Scan(ctx context.Context, keeper *SessionKeeper, rng IDRange, visit func(ScanResult)) error {
	for id := rng.Lo; id <= rng.Hi; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := s.scanOne(ctx, keeper, strconv.FormatInt(id, 10))
		if err != nil {
			return err
		}
		if visit != nil {
			visit(res)
		}

		if err := s.pacer.AfterRecord(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *BackfillScanner) scanOne(ctx context.Context, keeper *SessionKeeper, incrementID string) (ScanResult, error) {
	res := ScanResult{IncrementID: incrementID}
	entry := s.logger.WithField("increment_id", incrementID)

	prior, err := s.reconciler.PriorState(incrementID)
	if err != nil {
		res.Kind, res.Err = ScanFailed, err
		return res, nil
	}
	res.Prior = prior

	var detail domain.OrderDetail
	err = keeper.Do(ctx, func(session domain.Session) error {
		var callErr error
		detail, callErr = s.source.OrderInfo(ctx, session, incrementID)
		return callErr
	})
	switch {
	case err == nil:
	case domain.IsFatal(err):
		return res, err
	case domain.IsNotFound(err):
		if prior == nil {
			entry.Debug("order never existed in the shop")
			res.Kind = ScanAbsent
			return res, nil
		}
		changed, markErr := s.reconciler.MarkDeleted(incrementID, *prior)
		if markErr != nil {
			res.Kind, res.Err = ScanFailed, markErr
			return res, nil
		}
		entry.WithField("from_status", prior.Status).Info("order deleted in the shop, marked canceled")
		res.Kind, res.StatusChanged = ScanDeleted, changed
		return res, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return res, err
	default:
		res.Kind, res.Err = ScanFailed, err
		return res, nil
	}

	if detail.IsEmpty() {
		entry.Debug("empty order response, skipping")
		res.Kind = ScanEmpty
		return res, nil
	}

	applied, err := s.reconciler.apply(ctx, keeper, detail.OrderSummary, prior, ApplyOptions{Detail: &detail})
	if err != nil {
		if domain.IsFatal(err) {
			return res, err
		}
		res.Kind, res.Err = ScanFailed, err
		return res, nil
	}
	res.Kind, res.Apply = ScanApplied, applied
	res.StatusChanged = applied.Outcome == domain.OutcomeStatusChanged
	return res, nil
}
