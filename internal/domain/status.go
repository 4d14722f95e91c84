package domain

import "strings"

// CanonicalStatus — нормализованный статус заказа. Набор открытый:
// неизвестные статусы сохраняются в верхнем регистре как есть.
type CanonicalStatus string

const (
	StatusPending       CanonicalStatus = "PENDING"
	StatusProcessing    CanonicalStatus = "PROCESSING"
	StatusShipped       CanonicalStatus = "SHIPPED"
	StatusComplete      CanonicalStatus = "COMPLETE"
	StatusCanceled      CanonicalStatus = "CANCELED"
	StatusClosed        CanonicalStatus = "CLOSED"
	StatusRefunded      CanonicalStatus = "REFUNDED"
	StatusHolded        CanonicalStatus = "HOLDED"
	StatusPaymentReview CanonicalStatus = "PAYMENT_REVIEW"
	StatusEmProducao    CanonicalStatus = "EM_PRODUCAO"
)

// StateCanceled: raw state, который ставится заказу, удалённому на стороне магазина.
const StateCanceled = "canceled"

var statusMap = map[string]CanonicalStatus{
	"pending":         StatusPending,
	"pending_payment": StatusPending,
	"processing":      StatusProcessing,
	"shipped":         StatusShipped,
	"complete":        StatusComplete,
	"canceled":        StatusCanceled,
	"cancelled":       StatusCanceled,
	"closed":          StatusClosed,
	"refunded":        StatusRefunded,
	"holded":          StatusHolded,
	"payment_review":  StatusPaymentReview,
	"em_producao":     StatusEmProducao,
}

// NormalizeStatus переводит статус магазина в канонический без учёта регистра.
func NormalizeStatus(raw string) CanonicalStatus {
	if status, ok := statusMap[strings.ToLower(raw)]; ok {
		return status
	}
	return CanonicalStatus(strings.ToUpper(raw))
}
