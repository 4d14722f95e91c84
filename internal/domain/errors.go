package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth: сессию установить не удалось, прогон прерывается.
	ErrAuth = errors.New("remote authentication failed")
	// ErrCredentialsMissing возвращается, если не заданы логин или ключ API.
	ErrCredentialsMissing = fmt.Errorf("%w: credentials are missing", ErrAuth)
	// ErrSessionExpired: удалённая сторона больше не принимает текущую сессию.
	ErrSessionExpired = errors.New("remote session expired")
	// ErrProtocolFault означает SOAP fault от удалённой стороны.
	ErrProtocolFault = errors.New("remote protocol fault")
	// ErrTransport оборачивает неуспешный HTTP-статус или сетевой сбой.
	ErrTransport = errors.New("remote transport error")
	// ErrNotFound: заказа с таким increment id на удалённой стороне нет.
	ErrNotFound = errors.New("remote order not found")
	// ErrInvalidPayload: ответ не распознан ни как fault, ни как валидный ответ.
	ErrInvalidPayload = errors.New("invalid remote payload")
	// ErrOrderNotFound возвращается, если заказа нет в локальном хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrCustomerNotFound возвращается, если клиента нет в локальном хранилище.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerConflict: email уже принадлежит клиенту с другим идентификатором.
	ErrCustomerConflict = errors.New("customer email belongs to another customer")
	// ErrRunNotFound: в истории нет прогонов нужного режима.
	ErrRunNotFound = errors.New("sync run not found")
	// ErrRunInProgress: другой прогон синхронизации ещё не завершился.
	ErrRunInProgress = errors.New("sync run already in progress")
	// ErrOutboxPublish оборачивает ошибку публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// Коды SOAP fault, которые Magento использует для заказов и сессий.
const (
	FaultCodeSessionExpired = "5"
	FaultCodeAccessDenied   = "2"
	FaultCodeOrderNotExists = "100"
)

// Fault описывает SOAP fault удалённой стороны.
type Fault struct {
	Code    string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("soap fault %s: %s", f.Code, f.Message)
}

// Unwrap сопоставляет код fault с доменной ошибкой.
func (f *Fault) Unwrap() error {
	switch f.Code {
	case FaultCodeOrderNotExists:
		return ErrNotFound
	case FaultCodeSessionExpired:
		return ErrSessionExpired
	case FaultCodeAccessDenied:
		return ErrAuth
	default:
		return ErrProtocolFault
	}
}

// IsNotFound проверяет, что удалённая сторона не знает заказ.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal сообщает, должна ли ошибка прервать весь прогон.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsSessionExpired проверяет, нужна ли повторная авторизация.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
