package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineImported        = "Imported"
	TimelineStatusChanged   = "StatusChanged"
	TimelineDeletedUpstream = "DeletedUpstream"
)

// TimelineEvent описывает смену статуса заказа, замеченную синхронизацией.
type TimelineEvent struct {
	OrderID    string
	Type       string
	FromStatus CanonicalStatus
	ToStatus   CanonicalStatus
	FromState  string
	ToState    string
	Reason     string
	Occurred   time.Time
}
