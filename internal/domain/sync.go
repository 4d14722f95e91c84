package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncMode — режим прогона синхронизации.
type SyncMode string

const (
	// ModeWindowed: список по окнам дат с опциональной догрузкой деталей.
	ModeWindowed SyncMode = "windowed"
	// ModeRolling: плотный обход номеров заказов, обновлённых за последние трое суток.
	ModeRolling SyncMode = "rolling"
	// ModeLast50: плотный обход диапазона 50 последних заказов за 48 часов.
	ModeLast50 SyncMode = "last50"
)

// ParseSyncMode разбирает имя режима.
func ParseSyncMode(raw string) (SyncMode, error) {
	switch mode := SyncMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeWindowed, ModeRolling, ModeLast50:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (use windowed|rolling|last50)", raw)
	}
}

// RangeField задаёт поле, по которому ограничивается диапазон дат.
type RangeField string

const (
	FieldUpdatedAt RangeField = "updated_at"
	FieldCreatedAt RangeField = "created_at"
)

// Credentials содержит учётные данные API магазина.
type Credentials struct {
	Username string
	APIKey   string
}

// Empty сообщает, что логин или ключ не заданы.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.APIKey) == ""
}

// Session хранит токен удалённого API и cookie, если она выдана.
type Session struct {
	Token  string
	Cookie string
}

// RangeFilter хранит ограничение по датам в том виде, как его задал вызывающий.
type RangeFilter struct {
	Field RangeField
	From  string
	To    string
}

// Filters ограничивают список заказов: равенства плюс не более одного диапазона дат.
type Filters struct {
	Equals map[string]string
	Range  *RangeFilter
}

// SyncRange описывает эффективный диапазон запроса после нормализации.
type SyncRange struct {
	Field RangeField
	From  time.Time
	To    time.Time
}

// ListQuery описывает один удалённый запрос списка.
type ListQuery struct {
	Equals map[string]string
	// Range nil означает запрос без ограничения по датам.
	Range *SyncRange
}

// RunSummary — итог прогона синхронизации.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Mode           SyncMode  `json:"mode"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Created        int       `json:"created"`
	Updated        int       `json:"updated"`
	StatusChanged  int       `json:"status_changed"`
	DetailsFetched int       `json:"details_fetched"`
	Skipped        int       `json:"skipped"`
	Errors         []string  `json:"errors"`
}

// ErrorCount возвращает число ошибок по отдельным заказам.
func (s RunSummary) ErrorCount() int {
	return len(s.Errors)
}

// Duration возвращает длительность прогона.
func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// RunStatus итоговый статус прогона
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// SyncRun запись истории прогонов.
type SyncRun struct {
	Summary    RunSummary
	Status     RunStatus
	FatalError string
}
