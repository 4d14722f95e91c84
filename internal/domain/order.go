package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Значения-заглушки для заголовка заказа без данных клиента.
const (
	PlaceholderEmail     = "nao-informado@magento.com"
	PlaceholderFirstname = "Não informado"
	// undefinedLiteral: мусорное значение, которое удалённая сторона иногда отдаёт вместо пустоты.
	undefinedLiteral = "undefined"
)

// Totals содержит денежные итоги заказа. nil означает, что поле не пришло.
type Totals struct {
	Subtotal             *float64 `json:"subtotal,omitempty"`
	GrandTotal           *float64 `json:"grand_total,omitempty"`
	TaxAmount            *float64 `json:"tax_amount,omitempty"`
	ShippingAmount       *float64 `json:"shipping_amount,omitempty"`
	DiscountAmount       *float64 `json:"discount_amount,omitempty"`
	TotalPaid            *float64 `json:"total_paid,omitempty"`
	TotalRefunded        *float64 `json:"total_refunded,omitempty"`
	TotalCanceled        *float64 `json:"total_canceled,omitempty"`
	TotalInvoiced        *float64 `json:"total_invoiced,omitempty"`
	TotalOnlineRefunded  *float64 `json:"total_online_refunded,omitempty"`
	TotalOfflineRefunded *float64 `json:"total_offline_refunded,omitempty"`
	TotalQtyOrdered      *float64 `json:"total_qty_ordered,omitempty"`
}

// Rates курсы пересчёта валют магазина.
type Rates struct {
	StoreToBase  *float64 `json:"store_to_base,omitempty"`
	StoreToOrder *float64 `json:"store_to_order,omitempty"`
	BaseToGlobal *float64 `json:"base_to_global,omitempty"`
	BaseToOrder  *float64 `json:"base_to_order,omitempty"`
}

// Currencies коды валют заказа.
type Currencies struct {
	Global string `json:"global,omitempty"`
	Base   string `json:"base,omitempty"`
	Store  string `json:"store,omitempty"`
	Order  string `json:"order,omitempty"`
}

// OrderSummary — заголовок заказа в том виде, в каком его отдаёт список или детальный запрос.
type OrderSummary struct {
	// IncrementID человекочитаемый номер заказа, первичный ключ.
	IncrementID string
	OrderID     string
	ParentID    string
	StoreID     string
	StoreName   string
	QuoteID     string
	RemoteIP    string

	CreatedAt time.Time
	UpdatedAt time.Time

	RawStatus string
	State     string

	CustomerID         string
	CustomerEmail      string
	CustomerFirstname  string
	CustomerLastname   string
	CustomerGroupID    string
	CustomerIsGuest    *bool
	CustomerNoteNotify *bool

	IsActive  *bool
	IsVirtual *bool
	EmailSent *bool

	AppliedRuleIDs string
	GiftMessageID  string
	GiftMessage    string

	ShippingMethod      string
	ShippingDescription string

	BillingAddressID  string
	BillingFirstname  string
	BillingLastname   string
	BillingName       string
	ShippingAddressID string
	ShippingFirstname string
	ShippingLastname  string
	ShippingName      string

	Totals     Totals
	BaseTotals Totals
	Rates      Rates
	Currencies Currencies
	Weight     *float64
}

// Status возвращает канонический статус заказа.
func (o OrderSummary) Status() CanonicalStatus {
	return NormalizeStatus(o.RawStatus)
}

// NumericID возвращает increment id как число, если он числовой.
func (o OrderSummary) NumericID() (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(o.IncrementID), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MissingEssentialCustomerData сообщает, что список не отдал email или имя клиента.
func (o OrderSummary) MissingEssentialCustomerData() bool {
	return isBlank(o.CustomerEmail) || isBlank(o.CustomerFirstname)
}

// FillCustomerFrom дополняет данные клиента значениями из детального ответа.
func (o *OrderSummary) FillCustomerFrom(detail OrderSummary) {
	if !isBlank(detail.CustomerEmail) {
		o.CustomerEmail = detail.CustomerEmail
	}
	if !isBlank(detail.CustomerFirstname) {
		o.CustomerFirstname = detail.CustomerFirstname
	}
	if !isBlank(detail.CustomerLastname) {
		o.CustomerLastname = detail.CustomerLastname
	}
}

func isBlank(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || v == undefinedLiteral
}

// Address адрес оплаты или доставки.
type Address struct {
	AddressID string `json:"address_id,omitempty"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
	Street    string `json:"street,omitempty"`
	City      string `json:"city,omitempty"`
	Region    string `json:"region,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	CountryID string `json:"country_id,omitempty"`
	Telephone string `json:"telephone,omitempty"`
}

// IsZero сообщает, что в адресе нет ни одного поля.
func (a Address) IsZero() bool {
	return a == Address{}
}

// HasLocation сообщает, что в адресе есть хотя бы одно поле местоположения или телефон.
func (a Address) HasLocation() bool {
	return a.Street != "" || a.City != "" || a.Region != "" ||
		a.Postcode != "" || a.CountryID != "" || a.Telephone != ""
}

// OrderItem позиция заказа.
type OrderItem struct {
	ItemID      string
	ProductID   string
	SKU         string
	Name        string
	Description string
	ProductType string
	// Position: порядковый номер позиции в ответе, начиная с нуля.
	Position int

	Weight          *float64
	Qty             *float64
	QtyOrdered      *float64
	QtyShipped      *float64
	QtyInvoiced     *float64
	QtyCanceled     *float64
	QtyRefunded     *float64
	Price           *float64
	BasePrice       *float64
	OriginalPrice   *float64
	TaxAmount       *float64
	TaxPercent      *float64
	DiscountAmount  *float64
	DiscountPercent *float64
	RowTotal        *float64
	BaseRowTotal    *float64
}

// Key возвращает детерминированный идентификатор позиции внутри заказа.
// Если удалённая сторона не прислала item_id, ключ собирается из номера заказа, sku и позиции.
func (i OrderItem) Key(incrementID string) string {
	if id := strings.TrimSpace(i.ItemID); id != "" {
		return id
	}
	sku := strings.TrimSpace(i.SKU)
	if sku == "" {
		sku = "nosku"
	}
	return fmt.Sprintf("%s-%s-%d", incrementID, sku, i.Position)
}

// OrderDetail содержит заказ вместе с адресами и позициями.
type OrderDetail struct {
	OrderSummary
	Billing  Address
	Shipping Address
	Items    []OrderItem
}

// IsEmpty сообщает, что детальный ответ не содержит заказа.
func (d OrderDetail) IsEmpty() bool {
	return strings.TrimSpace(d.IncrementID) == ""
}

// Customer клиент магазина.
type Customer struct {
	CustomerID string
	Email      string
	Firstname  string
	Lastname   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderHeader содержит заголовок заказа, готовый к сохранению.
type OrderHeader struct {
	Summary OrderSummary
	// CustomerID пустой, если клиента не удалось сопоставить.
	CustomerID string
	Status     CanonicalStatus
	SyncedAt   time.Time
}

// NewOrderHeader готовит заголовок: нормализует статус и подставляет заглушки клиента.
func NewOrderHeader(summary OrderSummary, customerID string, syncedAt time.Time) OrderHeader {
	if isBlank(summary.CustomerEmail) {
		summary.CustomerEmail = PlaceholderEmail
	}
	if isBlank(summary.CustomerFirstname) {
		summary.CustomerFirstname = PlaceholderFirstname
	}
	if summary.CustomerLastname == undefinedLiteral {
		summary.CustomerLastname = ""
	}
	return OrderHeader{
		Summary:    summary,
		CustomerID: customerID,
		Status:     summary.Status(),
		SyncedAt:   syncedAt,
	}
}

// PersistedOrderState содержит срез сохранённого заказа, нужный для классификации.
type PersistedOrderState struct {
	Status         CanonicalStatus
	State          string
	DetailsFetched bool
}

// OrderRecord сохранённый заказ целиком.
type OrderRecord struct {
	Header           OrderHeader
	Billing          Address
	Shipping         Address
	Items            []OrderItem
	DetailsFetched   bool
	DetailsFetchedAt time.Time
}

// State возвращает состояние для сравнения.
func (r OrderRecord) State() PersistedOrderState {
	return PersistedOrderState{
		Status:         r.Header.Status,
		State:          r.Header.Summary.State,
		DetailsFetched: r.DetailsFetched,
	}
}

// Outcome описывает результат сверки одного заказа.
type Outcome string

const (
	OutcomeNew           Outcome = "new"
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeStatusChanged Outcome = "status_changed"
	OutcomeCanceled      Outcome = "canceled_upstream"
	OutcomeSkipped       Outcome = "skipped"
)

// Classify сравнивает новое состояние заказа с сохранённым.
func Classify(prior *PersistedOrderState, status CanonicalStatus, state string) Outcome {
	switch {
	case prior == nil:
		return OutcomeNew
	case prior.Status != status || prior.State != state:
		return OutcomeStatusChanged
	default:
		return OutcomeUnchanged
	}
}
