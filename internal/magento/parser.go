package magento

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// Поля, у которых побеждает первое непустое вхождение: удалённая сторона
// повторяет обёртки с пустыми дубликатами, а вложенные блоки содержат свои status/order_id.
var criticalFields = map[string]bool{
	"status":       true,
	"state":        true,
	"increment_id": true,
	"order_id":     true,
}

// ParseLoginResponse извлекает токен сессии из ответа login.
func ParseLoginResponse(raw []byte) (string, error) {
	body, err := parseBody(raw)
	if err != nil {
		return "", err
	}
	if fault := faultIn(body); fault != nil {
		return "", fault
	}

	el := findFirst(body, "loginReturn")
	if el == nil {
		return "", fmt.Errorf("%w: loginReturn element not found", domain.ErrInvalidPayload)
	}
	token := strings.TrimSpace(el.Text())
	if token == "" {
		return "", fmt.Errorf("%w: empty session token", domain.ErrInvalidPayload)
	}
	return token, nil
}

// ParseOrderList разбирает ответ salesOrderList. Записи без increment_id пропускаются.
func ParseOrderList(raw []byte, loc *time.Location) ([]domain.OrderSummary, error) {
	body, err := parseBody(raw)
	if err != nil {
		return nil, err
	}
	if fault := faultIn(body); fault != nil {
		return nil, fault
	}

	orders := make([]domain.OrderSummary, 0)
	walk(body, func(el *etree.Element) bool {
		if !isFlatRecord(el) {
			return true
		}
		fields := leafFields(el)
		if fields.str("increment_id") != "" {
			orders = append(orders, fields.summary(loc))
		}
		return false
	})
	return orders, nil
}

// ParseOrderInfo разбирает ответ salesOrderInfo. Пустой result даёт пустой OrderDetail.
//
// Порядок шагов важен: адреса и позиции отделяются от дерева до общего
// прохода по полям, чтобы их city/status/order_id не смешались с полями заказа.
func ParseOrderInfo(raw []byte, loc *time.Location) (domain.OrderDetail, error) {
	body, err := parseBody(raw)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	if fault := faultIn(body); fault != nil {
		return domain.OrderDetail{}, fault
	}

	record := findFirst(body, "result")
	if record == nil || len(record.ChildElements()) == 0 {
		return domain.OrderDetail{}, nil
	}

	var detail domain.OrderDetail
	if block := detach(record, "billing_address"); block != nil {
		detail.Billing = leafFields(block).address()
	}
	if block := detach(record, "shipping_address"); block != nil {
		detail.Shipping = leafFields(block).address()
	}

	for {
		block := detach(record, "items")
		if block == nil {
			break
		}
		for _, el := range block.ChildElements() {
			item := leafFields(el).item()
			if strings.TrimSpace(item.Name) == "" {
				continue
			}
			item.Position = len(detail.Items)
			detail.Items = append(detail.Items, item)
		}
	}

	fields := scanFields(record)
	detail.OrderSummary = fields.summary(loc)
	detail.Billing = mergeAddress(detail.Billing, fields.prefixedAddress("billing_"))
	detail.Shipping = mergeAddress(detail.Shipping, fields.prefixedAddress("shipping_"))

	if !detail.Shipping.HasLocation() && detail.Billing.HasLocation() {
		detail.Shipping.Street = detail.Billing.Street
		detail.Shipping.City = detail.Billing.City
		detail.Shipping.Region = detail.Billing.Region
		detail.Shipping.Postcode = detail.Billing.Postcode
		detail.Shipping.CountryID = detail.Billing.CountryID
		detail.Shipping.Telephone = detail.Billing.Telephone
	}

	return detail, nil
}

// parseFault пытается достать fault из произвольного тела ответа (например, при HTTP 500).
func parseFault(raw []byte) *domain.Fault {
	body, err := parseBody(raw)
	if err != nil {
		return nil
	}
	return faultIn(body)
}

func parseBody(raw []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("%w: soap envelope not found", domain.ErrInvalidPayload)
	}
	body := childByTag(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("%w: soap body not found", domain.ErrInvalidPayload)
	}
	return body, nil
}

func faultIn(body *etree.Element) *domain.Fault {
	el := findFirst(body, "Fault")
	if el == nil {
		return nil
	}

	fault := &domain.Fault{}
	if code := findFirst(el, "faultcode"); code != nil {
		fault.Code = strings.TrimSpace(code.Text())
	}
	if msg := findFirst(el, "faultstring"); msg != nil {
		fault.Message = strings.TrimSpace(msg.Text())
	} else if msg := findFirst(el, "message"); msg != nil {
		fault.Message = strings.TrimSpace(msg.Text())
	}
	return fault
}

// scanFields собирает листовые элементы записи в порядке документа.
// Критичные поля берутся из первого непустого вхождения; прямые дети записи
// перезаписывают значение; листья вложенных блоков только заполняют пропуски.
func scanFields(record *etree.Element) fieldset {
	fields := make(fieldset)
	walk(record, func(el *etree.Element) bool {
		if el == record || len(el.ChildElements()) > 0 {
			return true
		}

		name := el.Tag
		if strings.HasPrefix(name, "billing_shipping_") {
			name = "shipping_" + strings.TrimPrefix(name, "billing_shipping_")
		}
		value := strings.TrimSpace(el.Text())

		existing, seen := fields[name]
		switch {
		case !seen || existing == "":
			fields[name] = value
		case value == "":
		case criticalFields[name]:
		case el.Parent() == record:
			fields[name] = value
		}
		return false
	})
	return fields
}

func leafFields(el *etree.Element) fieldset {
	fields := make(fieldset)
	for _, child := range el.ChildElements() {
		if len(child.ChildElements()) > 0 {
			continue
		}
		fields[child.Tag] = strings.TrimSpace(child.Text())
	}
	return fields
}

func isFlatRecord(el *etree.Element) bool {
	if el.Tag != "item" && el.Tag != "salesOrderEntity" {
		return false
	}
	children := el.ChildElements()
	if len(children) == 0 {
		return false
	}
	for _, child := range children {
		if len(child.ChildElements()) > 0 {
			return false
		}
	}
	return true
}

func detach(parent *etree.Element, tag string) *etree.Element {
	el := findFirst(parent, tag)
	if el == nil || el.Parent() == nil {
		return nil
	}
	el.Parent().RemoveChild(el)
	return el
}

// walk обходит дерево в порядке документа; fn возвращает false, чтобы не спускаться глубже.
func walk(el *etree.Element, fn func(*etree.Element) bool) {
	if !fn(el) {
		return
	}
	for _, child := range el.ChildElements() {
		walk(child, fn)
	}
}

func findFirst(el *etree.Element, tag string) *etree.Element {
	var found *etree.Element
	walk(el, func(cur *etree.Element) bool {
		if found != nil {
			return false
		}
		if cur != el && cur.Tag == tag {
			found = cur
			return false
		}
		return true
	})
	return found
}

func childByTag(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

func mergeAddress(base, extra domain.Address) domain.Address {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&base.AddressID, extra.AddressID)
	fill(&base.Firstname, extra.Firstname)
	fill(&base.Lastname, extra.Lastname)
	fill(&base.Street, extra.Street)
	fill(&base.City, extra.City)
	fill(&base.Region, extra.Region)
	fill(&base.Postcode, extra.Postcode)
	fill(&base.CountryID, extra.CountryID)
	fill(&base.Telephone, extra.Telephone)
	return base
}
