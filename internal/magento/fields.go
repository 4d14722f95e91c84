package magento

import (
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// fieldset: плоский набор тег/значение одной записи ответа.
// Все значения на проводе текстовые; типизация происходит здесь, один раз.
type fieldset map[string]string

func (f fieldset) str(key string) string {
	return f[key]
}

func (f fieldset) num(key string) *float64 {
	raw := strings.TrimSpace(f[key])
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (f fieldset) flag(key string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(f[key])) {
	case "1", "true":
		v = true
	case "0", "false":
		v = false
	default:
		return nil
	}
	return &v
}

func (f fieldset) time(key string, loc *time.Location) time.Time {
	raw := strings.TrimSpace(f[key])
	if raw == "" {
		return time.Time{}
	}
	t, err := ParseTime(raw, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (f fieldset) totals(prefix string) domain.Totals {
	return domain.Totals{
		Subtotal:             f.num(prefix + "subtotal"),
		GrandTotal:           f.num(prefix + "grand_total"),
		TaxAmount:            f.num(prefix + "tax_amount"),
		ShippingAmount:       f.num(prefix + "shipping_amount"),
		DiscountAmount:       f.num(prefix + "discount_amount"),
		TotalPaid:            f.num(prefix + "total_paid"),
		TotalRefunded:        f.num(prefix + "total_refunded"),
		TotalCanceled:        f.num(prefix + "total_canceled"),
		TotalInvoiced:        f.num(prefix + "total_invoiced"),
		TotalOnlineRefunded:  f.num(prefix + "total_online_refunded"),
		TotalOfflineRefunded: f.num(prefix + "total_offline_refunded"),
		TotalQtyOrdered:      f.num(prefix + "total_qty_ordered"),
	}
}

func (f fieldset) summary(loc *time.Location) domain.OrderSummary {
	return domain.OrderSummary{
		IncrementID: f.str("increment_id"),
		OrderID:     f.str("order_id"),
		ParentID:    f.str("parent_id"),
		StoreID:     f.str("store_id"),
		StoreName:   f.str("store_name"),
		QuoteID:     f.str("quote_id"),
		RemoteIP:    f.str("remote_ip"),

		CreatedAt: f.time("created_at", loc),
		UpdatedAt: f.time("updated_at", loc),

		RawStatus: f.str("status"),
		State:     f.str("state"),

		CustomerID:         f.str("customer_id"),
		CustomerEmail:      f.str("customer_email"),
		CustomerFirstname:  f.str("customer_firstname"),
		CustomerLastname:   f.str("customer_lastname"),
		CustomerGroupID:    f.str("customer_group_id"),
		CustomerIsGuest:    f.flag("customer_is_guest"),
		CustomerNoteNotify: f.flag("customer_note_notify"),

		IsActive:  f.flag("is_active"),
		IsVirtual: f.flag("is_virtual"),
		EmailSent: f.flag("email_sent"),

		AppliedRuleIDs: f.str("applied_rule_ids"),
		GiftMessageID:  f.str("gift_message_id"),
		GiftMessage:    f.str("gift_message"),

		ShippingMethod:      f.str("shipping_method"),
		ShippingDescription: f.str("shipping_description"),

		BillingAddressID:  f.str("billing_address_id"),
		BillingFirstname:  f.str("billing_firstname"),
		BillingLastname:   f.str("billing_lastname"),
		BillingName:       f.str("billing_name"),
		ShippingAddressID: f.str("shipping_address_id"),
		ShippingFirstname: f.str("shipping_firstname"),
		ShippingLastname:  f.str("shipping_lastname"),
		ShippingName:      f.str("shipping_name"),

		Totals:     f.totals(""),
		BaseTotals: f.totals("base_"),
		Rates: domain.Rates{
			StoreToBase:  f.num("store_to_base_rate"),
			StoreToOrder: f.num("store_to_order_rate"),
			BaseToGlobal: f.num("base_to_global_rate"),
			BaseToOrder:  f.num("base_to_order_rate"),
		},
		Currencies: domain.Currencies{
			Global: f.str("global_currency_code"),
			Base:   f.str("base_currency_code"),
			Store:  f.str("store_currency_code"),
			Order:  f.str("order_currency_code"),
		},
		Weight: f.num("weight"),
	}
}

func (f fieldset) address() domain.Address {
	return f.prefixedAddress("")
}

// prefixedAddress читает адресные поля заголовка вида billing_city / shipping_city.
func (f fieldset) prefixedAddress(prefix string) domain.Address {
	return domain.Address{
		AddressID: f.str(prefix + "address_id"),
		Firstname: f.str(prefix + "firstname"),
		Lastname:  f.str(prefix + "lastname"),
		Street:    f.str(prefix + "street"),
		City:      f.str(prefix + "city"),
		Region:    f.str(prefix + "region"),
		Postcode:  f.str(prefix + "postcode"),
		CountryID: f.str(prefix + "country_id"),
		Telephone: f.str(prefix + "telephone"),
	}
}

func (f fieldset) item() domain.OrderItem {
	return domain.OrderItem{
		ItemID:      f.str("item_id"),
		ProductID:   f.str("product_id"),
		SKU:         f.str("sku"),
		Name:        f.str("name"),
		Description: f.str("description"),
		ProductType: f.str("product_type"),

		Weight:          f.num("weight"),
		Qty:             f.num("qty"),
		QtyOrdered:      f.num("qty_ordered"),
		QtyShipped:      f.num("qty_shipped"),
		QtyInvoiced:     f.num("qty_invoiced"),
		QtyCanceled:     f.num("qty_canceled"),
		QtyRefunded:     f.num("qty_refunded"),
		Price:           f.num("price"),
		BasePrice:       f.num("base_price"),
		OriginalPrice:   f.num("original_price"),
		TaxAmount:       f.num("tax_amount"),
		TaxPercent:      f.num("tax_percent"),
		DiscountAmount:  f.num("discount_amount"),
		DiscountPercent: f.num("discount_percent"),
		RowTotal:        f.num("row_total"),
		BaseRowTotal:    f.num("base_row_total"),
	}
}
