package domain

// Типы событий, которые синхронизация кладёт в outbox.
const (
	EventOrderStatusChanged   = "order.status_changed"
	EventOrderDeletedUpstream = "order.deleted_upstream"
	EventSyncRunCompleted     = "sync.run_completed"
)

// Типы агрегатов outbox-сообщений.
const (
	AggregateOrder   = "order"
	AggregateSyncRun = "sync_run"
)
