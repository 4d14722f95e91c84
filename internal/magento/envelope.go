package magento

import (
	"fmt"
	"sort"
	"time"

	"github.com/beevik/etree"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	magentoNS      = "urn:Magento"

	methodLogin     = "login"
	methodOrderList = "salesOrderList"
	methodOrderInfo = "salesOrderInfo"

	// TimeLayout: формат дат, который понимает фильтр Magento.
	TimeLayout = "2006-01-02 15:04:05"
)

func newEnvelope(method string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement("soap:Envelope")
	envelope.CreateAttr("xmlns:soap", soapEnvelopeNS)
	body := envelope.CreateElement("soap:Body")

	call := body.CreateElement(method)
	call.CreateAttr("xmlns", magentoNS)
	return doc, call
}

func encodeEnvelope(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("encode soap envelope: %w", err)
	}
	return out, nil
}

func loginEnvelope(creds domain.Credentials) ([]byte, error) {
	doc, call := newEnvelope(methodLogin)
	call.CreateElement("username").SetText(creds.Username)
	call.CreateElement("apiKey").SetText(creds.APIKey)
	return encodeEnvelope(doc)
}

func orderListEnvelope(session domain.Session, query domain.ListQuery, loc *time.Location) ([]byte, error) {
	doc, call := newEnvelope(methodOrderList)
	call.CreateElement("sessionId").SetText(session.Token)
	appendFilters(call, query, loc)
	return encodeEnvelope(doc)
}

func orderInfoEnvelope(session domain.Session, incrementID string) ([]byte, error) {
	doc, call := newEnvelope(methodOrderInfo)
	call.CreateElement("sessionId").SetText(session.Token)
	call.CreateElement("orderIncrementId").SetText(incrementID)
	return encodeEnvelope(doc)
}

// appendFilters кодирует фильтры в complex_filter: каждое условие задаётся парой key/value,
// где value само является парой оператор/значение.
func appendFilters(call *etree.Element, query domain.ListQuery, loc *time.Location) {
	filters := call.CreateElement("filters")

	keys := make([]string, 0, len(query.Equals))
	for key, value := range query.Equals {
		if value == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if len(keys) == 0 && query.Range == nil {
		return
	}

	complexFilter := filters.CreateElement("complex_filter")
	for _, key := range keys {
		appendCondition(complexFilter, key, "eq", query.Equals[key])
	}
	if query.Range != nil {
		field := string(query.Range.Field)
		appendCondition(complexFilter, field, "from", FormatTime(query.Range.From, loc))
		appendCondition(complexFilter, field, "to", FormatTime(query.Range.To, loc))
	}
}

func appendCondition(parent *etree.Element, field, op, value string) {
	item := parent.CreateElement("item")
	item.CreateElement("key").SetText(field)
	cond := item.CreateElement("value")
	cond.CreateElement("key").SetText(op)
	cond.CreateElement("value").SetText(value)
}

// FormatTime форматирует момент времени в часовом поясе магазина.
func FormatTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// ParseTime разбирает дату Magento в часовом поясе магазина.
func ParseTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(TimeLayout, raw, loc)
}
