package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Store объединяет репозитории, с которыми работает синхронизация.
type Store struct {
	Orders    domain.OrderRepository
	Customers domain.CustomerRepository
	Timeline  domain.TimelineRepository
	Outbox    domain.OutboxRepository
	Runs      domain.RunRepository
}

// ApplyOptions управляет сохранением деталей в Apply.
type ApplyOptions struct {
	// Detail: уже полученные детали, сохраняются без повторного запроса.
	Detail *domain.OrderDetail
	// FetchDetail запрашивает детали после сохранения заголовка.
	FetchDetail bool
}

// ApplyResult — итог сверки одного заказа.
type ApplyResult struct {
	Outcome        domain.Outcome
	Prior          *domain.PersistedOrderState
	DetailsFetched bool
	// DetailErr: сбой получения или сохранения деталей. Заголовок при этом уже сохранён.
	DetailErr error
}

// Reconciler сравнивает заказ магазина с сохранённым и записывает разницу.
type Reconciler struct {
	source domain.OrderSource
	store  Store
	logger *log.Entry
	now    func() time.Time
}

// NewReconciler создаёт Reconciler. Timeline и Outbox в store необязательны.
func NewReconciler(source domain.OrderSource, store Store, logger *log.Entry) *Reconciler {
	if logger == nil {
		logger = log.WithField("component", "ordersync-reconciler")
	}
	return &Reconciler{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// PriorState читает сохранённое состояние заказа; nil, если заказа ещё нет.
func (r *Reconciler) PriorState(incrementID string) (*domain.PersistedOrderState, error) {
	state, err := r.store.Orders.GetState(incrementID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read order state: %w", err)
	}
	return &state, nil
}

// Apply сохраняет заголовок заказа и, по опциям, его детали.
// Ошибка возвращается только если заголовок сохранить не удалось или сессия потеряна.
func (r *Reconciler) Apply(ctx context.Context, keeper *SessionKeeper, order domain.OrderSummary, opts ApplyOptions) (ApplyResult, error) {
	prior, err := r.PriorState(order.IncrementID)
	if err != nil {
		return ApplyResult{}, err
	}
	return r.apply(ctx, keeper, order, prior, opts)
}

func (r *Reconciler) apply(ctx context.Context, keeper *SessionKeeper, order domain.OrderSummary, prior *domain.PersistedOrderState, opts ApplyOptions) (ApplyResult, error) {
	entry := r.logger.WithField("increment_id", order.IncrementID)

	if order.MissingEssentialCustomerData() {
		if opts.Detail != nil {
			order.FillCustomerFrom(opts.Detail.OrderSummary)
		} else {
			entry.Debug("customer data missing in list, fetching details")
			detail, fetchErr := r.fetchDetail(ctx, keeper, order.IncrementID)
			switch {
			case fetchErr == nil:
				order.FillCustomerFrom(detail.OrderSummary)
				if opts.FetchDetail {
					opts.Detail = &detail
				}
			case domain.IsFatal(fetchErr):
				return ApplyResult{}, fetchErr
			default:
				entry.WithError(fetchErr).Warn("failed to backfill customer data")
			}
		}
	}

	syncedAt := r.now().UTC()
	customerID := r.ensureCustomer(order, entry)
	header := domain.NewOrderHeader(order, customerID, syncedAt)
	if err := r.store.Orders.UpsertHeader(header); err != nil {
		return ApplyResult{}, fmt.Errorf("upsert order header: %w", err)
	}

	result := ApplyResult{
		Outcome: domain.Classify(prior, header.Status, order.State),
		Prior:   prior,
	}
	r.recordTransition(header, prior, result.Outcome, syncedAt)

	detail := opts.Detail
	if detail == nil && opts.FetchDetail {
		fetched, fetchErr := r.fetchDetail(ctx, keeper, order.IncrementID)
		if fetchErr != nil {
			if domain.IsFatal(fetchErr) {
				return result, fetchErr
			}
			result.DetailErr = fetchErr
			return result, nil
		}
		detail = &fetched
	}
	if detail != nil {
		saved, saveErr := r.SaveDetail(*detail)
		result.DetailsFetched = saved
		result.DetailErr = saveErr
	}
	return result, nil
}

// MarkDeleted отражает удаление заказа в магазине: CANCELED/canceled.
// Возвращает true, если статус действительно сменился.
func (r *Reconciler) MarkDeleted(incrementID string, prior domain.PersistedOrderState) (bool, error) {
	syncedAt := r.now().UTC()
	if err := r.store.Orders.MarkCanceled(incrementID, syncedAt); err != nil {
		return false, fmt.Errorf("mark order canceled: %w", err)
	}

	changed := prior.Status != domain.StatusCanceled
	if !changed {
		return false, nil
	}

	r.appendTimeline(domain.TimelineEvent{
		OrderID:    incrementID,
		Type:       domain.TimelineDeletedUpstream,
		FromStatus: prior.Status,
		ToStatus:   domain.StatusCanceled,
		FromState:  prior.State,
		ToState:    domain.StateCanceled,
		Reason:     "order no longer exists in the shop",
		Occurred:   syncedAt,
	})
	r.emitEvent(incrementID, domain.EventOrderDeletedUpstream, map[string]interface{}{
		"from_status": prior.Status,
		"status":      domain.StatusCanceled,
		"state":       domain.StateCanceled,
		"ts":          syncedAt.Format(time.RFC3339Nano),
	})
	return true, nil
}

// SaveDetail сохраняет адреса и позиции. Без increment id заказ ищется по (order_id, email);
// если найти его не удалось, детали пропускаются и возвращается false.
func (r *Reconciler) SaveDetail(detail domain.OrderDetail) (bool, error) {
	key := strings.TrimSpace(detail.IncrementID)
	if key == "" {
		if detail.OrderID == "" || detail.CustomerEmail == "" {
			r.logger.Warn("order details without increment id, skipping")
			return false, nil
		}
		found, err := r.store.Orders.FindIncrementID(detail.OrderID, detail.CustomerEmail)
		if errors.Is(err, domain.ErrOrderNotFound) {
			r.logger.WithField("order_id", detail.OrderID).Warn("order details without increment id, skipping")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("find order by id and email: %w", err)
		}
		key = found
	}

	if err := r.store.Orders.UpsertDetail(key, detail, r.now().UTC()); err != nil {
		return false, fmt.Errorf("upsert order details: %w", err)
	}
	return true, nil
}

func (r *Reconciler) fetchDetail(ctx context.Context, keeper *SessionKeeper, incrementID string) (domain.OrderDetail, error) {
	var detail domain.OrderDetail
	err := keeper.Do(ctx, func(s domain.Session) error {
		var callErr error
		detail, callErr = r.source.OrderInfo(ctx, s, incrementID)
		return callErr
	})
	return detail, err
}

// ensureCustomer возвращает идентификатор клиента для заголовка или пустую строку,
// если клиента нельзя сопоставить без конфликта. Клиент ищется по id, затем по email;
// неизменившийся клиент не перезаписывается.
func (r *Reconciler) ensureCustomer(order domain.OrderSummary, entry *log.Entry) string {
	if r.store.Customers == nil {
		return ""
	}
	id := strings.TrimSpace(order.CustomerID)
	email := strings.TrimSpace(order.CustomerEmail)
	if id == "" || email == "" || email == "undefined" {
		return ""
	}

	lastname := order.CustomerLastname
	if lastname == "undefined" {
		lastname = ""
	}
	incoming := domain.Customer{
		CustomerID: id,
		Email:      email,
		Firstname:  order.CustomerFirstname,
		Lastname:   lastname,
	}
	conflict := entry.WithFields(log.Fields{
		"customer_id": id,
		"email":       email,
	})

	current, err := r.store.Customers.GetByID(id)
	switch {
	case err == nil:
		if current.Email == incoming.Email && current.Firstname == incoming.Firstname && current.Lastname == incoming.Lastname {
			return id
		}
	case errors.Is(err, domain.ErrCustomerNotFound):
		owner, emailErr := r.store.Customers.GetByEmail(email)
		switch {
		case emailErr == nil && owner.CustomerID != id:
			conflict.Warn("customer email belongs to another customer, order stored without customer link")
			return ""
		case emailErr != nil && !errors.Is(emailErr, domain.ErrCustomerNotFound):
			entry.WithError(emailErr).Warn("failed to look up customer by email")
			return ""
		}
	default:
		entry.WithError(err).Warn("failed to look up customer")
		return ""
	}

	err = r.store.Customers.Upsert(incoming)
	switch {
	case err == nil:
		return id
	case errors.Is(err, domain.ErrCustomerConflict):
		conflict.Warn("customer email belongs to another customer, order stored without customer link")
	default:
		entry.WithError(err).Warn("failed to upsert customer")
	}
	return ""
}

func (r *Reconciler) recordTransition(header domain.OrderHeader, prior *domain.PersistedOrderState, outcome domain.Outcome, at time.Time) {
	inc := header.Summary.IncrementID
	switch outcome {
	case domain.OutcomeNew:
		r.appendTimeline(domain.TimelineEvent{
			OrderID:  inc,
			Type:     domain.TimelineImported,
			ToStatus: header.Status,
			ToState:  header.Summary.State,
			Occurred: at,
		})
	case domain.OutcomeStatusChanged:
		r.appendTimeline(domain.TimelineEvent{
			OrderID:    inc,
			Type:       domain.TimelineStatusChanged,
			FromStatus: prior.Status,
			ToStatus:   header.Status,
			FromState:  prior.State,
			ToState:    header.Summary.State,
			Occurred:   at,
		})
		r.emitEvent(inc, domain.EventOrderStatusChanged, map[string]interface{}{
			"from_status": prior.Status,
			"from_state":  prior.State,
			"status":      header.Status,
			"state":       header.Summary.State,
			"customer_id": header.CustomerID,
			"ts":          at.Format(time.RFC3339Nano),
		})
	}
}

func (r *Reconciler) appendTimeline(event domain.TimelineEvent) {
	if r.store.Timeline == nil {
		return
	}
	if err := r.store.Timeline.Append(event); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"increment_id": event.OrderID,
			"event":        event.Type,
		}).Warn("append timeline event failed")
	}
}

func (r *Reconciler) emitEvent(incrementID, eventType string, payload map[string]interface{}) {
	if r.store.Outbox == nil {
		return
	}
	payload["increment_id"] = incrementID
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"increment_id": incrementID,
			"event":        eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   incrementID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := r.store.Outbox.Enqueue(msg); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"increment_id": incrementID,
			"event":        eventType,
		}).Error("enqueue event failed")
	}
}
