package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type storedOrder struct {
	record domain.OrderRecord
	// items по ключу позиции; порядок вставки хранится отдельно.
	items     map[string]domain.OrderItem
	itemOrder []string
}

// orderRepositoryInMemory простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]*storedOrder
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[string]*storedOrder),
	}
}

// GetState возвращает срез состояния заказа или ErrOrderNotFound.
func (r *orderRepositoryInMemory) GetState(incrementID string) (domain.PersistedOrderState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.items[incrementID]
	if !ok {
		return domain.PersistedOrderState{}, domain.ErrOrderNotFound
	}
	return stored.record.State(), nil
}

// Get возвращает заказ вместе с позициями.
func (r *orderRepositoryInMemory) Get(incrementID string) (domain.OrderRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.items[incrementID]
	if !ok {
		return domain.OrderRecord{}, domain.ErrOrderNotFound
	}
	record := stored.record
	record.Items = make([]domain.OrderItem, 0, len(stored.itemOrder))
	for _, key := range stored.itemOrder {
		record.Items = append(record.Items, stored.items[key])
	}
	return record, nil
}

// UpsertHeader создаёт заказ или перезаписывает его заголовок. Адреса и позиции не трогаются.
func (r *orderRepositoryInMemory) UpsertHeader(header domain.OrderHeader) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[header.Summary.IncrementID]
	if !ok {
		stored = &storedOrder{items: make(map[string]domain.OrderItem)}
		r.items[header.Summary.IncrementID] = stored
	}
	stored.record.Header = header
	return nil
}

// UpsertDetail сохраняет адреса и добавляет или обновляет позиции; удалённые позиции остаются.
func (r *orderRepositoryInMemory) UpsertDetail(incrementID string, detail domain.OrderDetail, fetchedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[incrementID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	stored.record.Billing = detail.Billing
	stored.record.Shipping = detail.Shipping
	stored.record.DetailsFetched = true
	stored.record.DetailsFetchedAt = fetchedAt

	for _, item := range detail.Items {
		key := item.Key(incrementID)
		if _, exists := stored.items[key]; !exists {
			stored.itemOrder = append(stored.itemOrder, key)
		}
		item.ItemID = key
		stored.items[key] = item
	}
	return nil
}

// FindIncrementID ищет заказ по внутреннему id и email клиента.
func (r *orderRepositoryInMemory) FindIncrementID(orderID, customerEmail string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]string, 0, 1)
	for inc, stored := range r.items {
		summary := stored.record.Header.Summary
		if summary.OrderID == orderID && summary.CustomerEmail == customerEmail {
			matches = append(matches, inc)
		}
	}
	if len(matches) == 0 {
		return "", domain.ErrOrderNotFound
	}
	sort.Strings(matches)
	return matches[0], nil
}

// MarkCanceled переводит заказ в CANCELED/canceled.
func (r *orderRepositoryInMemory) MarkCanceled(incrementID string, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.items[incrementID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	stored.record.Header.Status = domain.StatusCanceled
	stored.record.Header.Summary.State = domain.StateCanceled
	stored.record.Header.SyncedAt = syncedAt
	return nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
