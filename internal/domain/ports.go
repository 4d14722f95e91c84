package domain

import (
	"context"
	"time"
)

// OrderSource описывает удалённый API заказов.
type OrderSource interface {
	// Authenticate открывает сессию. Ошибки оборачивают ErrAuth.
	Authenticate(ctx context.Context, creds Credentials) (Session, error)
	// ListOrders выполняет один запрос списка заказов.
	ListOrders(ctx context.Context, session Session, query ListQuery) ([]OrderSummary, error)
	// OrderInfo возвращает детали заказа или ошибку, оборачивающую ErrNotFound.
	OrderInfo(ctx context.Context, session Session, incrementID string) (OrderDetail, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// GetState возвращает состояние для сравнения или ErrOrderNotFound.
	GetState(incrementID string) (PersistedOrderState, error)
	// Get возвращает заказ целиком или ErrOrderNotFound.
	Get(incrementID string) (OrderRecord, error)
	// UpsertHeader создаёт или перезаписывает заголовок заказа по increment id.
	UpsertHeader(header OrderHeader) error
	// UpsertDetail сохраняет адреса и позиции; позиции только добавляются и обновляются.
	UpsertDetail(incrementID string, detail OrderDetail, fetchedAt time.Time) error
	// FindIncrementID ищет заказ по внутреннему id и email клиента.
	FindIncrementID(orderID, customerEmail string) (string, error)
	// MarkCanceled переводит заказ в CANCELED/canceled.
	MarkCanceled(incrementID string, syncedAt time.Time) error
}

// CustomerRepository описывает хранилище клиентов.
type CustomerRepository interface {
	GetByID(customerID string) (Customer, error)
	GetByEmail(email string) (Customer, error)
	// Upsert создаёт или обновляет клиента по идентификатору.
	// Возвращает ErrCustomerConflict, если email занят другим клиентом.
	Upsert(customer Customer) error
}

// TimelineRepository хранит историю статусов заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(incrementID string) ([]TimelineEvent, error)
}

// RunRepository хранит историю прогонов синхронизации.
type RunRepository interface {
	Record(run SyncRun) error
	// Latest возвращает последний прогон режима или ErrRunNotFound.
	Latest(mode SyncMode) (SyncRun, error)
	List(limit int) ([]SyncRun, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPurger реализуется хранилищами, которые умеют удалять опубликованные сообщения.
type OutboxPurger interface {
	// PurgeSent удаляет sent-сообщения, обновлённые раньше before. Возвращает число удалённых.
	PurgeSent(before time.Time) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
