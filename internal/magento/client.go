package magento

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	defaultUserAgent = "ordersync"
	defaultTimeout   = 60 * time.Second
	sessionCookie    = "PHPSESSID"

	// Ограничение на размер тела ответа, чтобы один битый ответ не съел память.
	maxResponseBytes = 64 << 20
)

// Результаты удалённого вызова для метрик.
const (
	ResultOK       = "ok"
	ResultFault    = "fault"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// CallObserver получает длительность каждого удалённого вызова.
type CallObserver interface {
	ObserveRemoteCall(method, result string, duration time.Duration)
}

// Config задаёт параметры SOAP-клиента.
type Config struct {
	// Endpoint: полный URL SOAP-точки, например https://shop.example/index.php/api/index/index/.
	Endpoint  string
	UserAgent string
	Timeout   time.Duration
	// Location: часовой пояс магазина, в котором заданы даты фильтров и ответов.
	Location *time.Location
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент (используется в тестах).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// WithObserver подключает сборщик метрик удалённых вызовов.
func WithObserver(o CallObserver) Option {
	return func(cl *Client) {
		cl.observer = o
	}
}

// Client реализует domain.OrderSource поверх SOAP API Magento.
type Client struct {
	endpoint  string
	userAgent string
	loc       *time.Location
	http      *http.Client
	logger    *log.Entry
	observer  CallObserver
}

var _ domain.OrderSource = (*Client)(nil)

// NewClient создаёт клиента. Endpoint обязателен.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("magento endpoint is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	c := &Client{
		endpoint:  endpoint,
		userAgent: ua,
		loc:       loc,
		http:      &http.Client{Timeout: timeout},
		logger:    log.WithField("component", "magento"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Location возвращает часовой пояс магазина.
func (c *Client) Location() *time.Location {
	return c.loc
}

// Authenticate открывает новую сессию.
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	if creds.Empty() {
		return domain.Session{}, domain.ErrCredentialsMissing
	}

	payload, err := loginEnvelope(creds)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}

	raw, resp, err := c.call(ctx, methodLogin, domain.Session{}, payload)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: login: %w", domain.ErrAuth, err)
	}

	token, err := ParseLoginResponse(raw)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: login: %w", domain.ErrAuth, err)
	}

	session := domain.Session{Token: token}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie && cookie.Value != "" {
			session.Cookie = cookie.Name + "=" + cookie.Value
			break
		}
	}

	c.logger.WithField("cookie", session.Cookie != "").Info("magento session opened")
	return session, nil
}

// ListOrders выполняет один запрос salesOrderList.
func (c *Client) ListOrders(ctx context.Context, session domain.Session, query domain.ListQuery) ([]domain.OrderSummary, error) {
	payload, err := orderListEnvelope(session, query, c.loc)
	if err != nil {
		return nil, err
	}

	raw, _, err := c.call(ctx, methodOrderList, session, payload)
	if err != nil {
		return nil, err
	}
	return ParseOrderList(raw, c.loc)
}

// OrderInfo выполняет salesOrderInfo. Если заказа нет, ошибка оборачивает domain.ErrNotFound.
func (c *Client) OrderInfo(ctx context.Context, session domain.Session, incrementID string) (domain.OrderDetail, error) {
	payload, err := orderInfoEnvelope(session, incrementID)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	raw, _, err := c.call(ctx, methodOrderInfo, session, payload)
	if err != nil {
		return domain.OrderDetail{}, err
	}

	detail, err := ParseOrderInfo(raw, c.loc)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	// Часть инсталляций не повторяет increment_id в ответе.
	if detail.IncrementID == "" && (detail.OrderID != "" || len(detail.Items) > 0 || detail.RawStatus != "") {
		detail.IncrementID = incrementID
	}
	return detail, nil
}

func (c *Client) call(ctx context.Context, method string, session domain.Session, payload []byte) ([]byte, *http.Response, error) {
	started := time.Now()
	raw, resp, err := c.do(ctx, method, session, payload)
	c.observe(method, err, time.Since(started))
	return raw, resp, err
}

func (c *Client) do(ctx context.Context, method string, session domain.Session, payload []byte) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: build request: %v", domain.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:"+method)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/xml")
	if session.Cookie != "" {
		req.Header.Set("Cookie", session.Cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", domain.ErrTransport, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp, fmt.Errorf("%w: %s: read body: %v", domain.ErrTransport, method, err)
	}

	// Magento отдаёт fault вместе с HTTP 500, поэтому fault проверяется раньше статуса.
	if fault := parseFault(raw); fault != nil {
		return nil, resp, fault
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, fmt.Errorf("%w: %s: http status %d", domain.ErrTransport, method, resp.StatusCode)
	}
	return raw, resp, nil
}

func (c *Client) observe(method string, err error, d time.Duration) {
	if c.observer == nil {
		return
	}
	var fault *domain.Fault
	result := ResultOK
	switch {
	case err == nil:
	case domain.IsNotFound(err):
		result = ResultNotFound
	case errors.As(err, &fault):
		result = ResultFault
	default:
		result = ResultError
	}
	c.observer.ObserveRemoteCall(method, result, d)
}
