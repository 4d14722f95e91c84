package ordersync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

var errNotExists = &domain.Fault{Code: domain.FaultCodeOrderNotExists, Message: "Requested order not exists."}

type fakeSource struct {
	mu sync.Mutex

	authErr   error
	authCalls int

	listed      []domain.OrderSummary
	listErrs    map[int]error
	listQueries []domain.ListQuery

	details   map[string]domain.OrderDetail
	infoErrs  map[string]error
	infoCalls []string

	// expireNext заставляет следующий вызов ответить "сессия истекла".
	expireNext bool
	sessions   []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		listErrs: make(map[int]error),
		details:  make(map[string]domain.OrderDetail),
		infoErrs: make(map[string]error),
	}
}

func (f *fakeSource) Authenticate(_ context.Context, _ domain.Credentials) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.authCalls++
	if f.authErr != nil {
		return domain.Session{}, f.authErr
	}
	return domain.Session{Token: fmt.Sprintf("tok-%d", f.authCalls)}, nil
}

func (f *fakeSource) ListOrders(_ context.Context, session domain.Session, query domain.ListQuery) ([]domain.OrderSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions = append(f.sessions, session.Token)
	if f.expireNext {
		f.expireNext = false
		return nil, &domain.Fault{Code: domain.FaultCodeSessionExpired, Message: "Session expired. Try to relogin."}
	}

	f.listQueries = append(f.listQueries, query)
	if err := f.listErrs[len(f.listQueries)-1]; err != nil {
		return nil, err
	}
	return append([]domain.OrderSummary(nil), f.listed...), nil
}

func (f *fakeSource) OrderInfo(_ context.Context, session domain.Session, incrementID string) (domain.OrderDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions = append(f.sessions, session.Token)
	if f.expireNext {
		f.expireNext = false
		return domain.OrderDetail{}, &domain.Fault{Code: domain.FaultCodeSessionExpired, Message: "Session expired. Try to relogin."}
	}

	f.infoCalls = append(f.infoCalls, incrementID)
	if err, ok := f.infoErrs[incrementID]; ok {
		return domain.OrderDetail{}, err
	}
	detail, ok := f.details[incrementID]
	if !ok {
		return domain.OrderDetail{}, errNotExists
	}
	return detail, nil
}

func summary(inc, status, state string) domain.OrderSummary {
	return domain.OrderSummary{
		IncrementID:       inc,
		OrderID:           "9" + inc,
		RawStatus:         status,
		State:             state,
		CustomerID:        "c-" + inc,
		CustomerEmail:     inc + "@example.com",
		CustomerFirstname: "Ana",
		CustomerLastname:  "Souza",
	}
}

func detail(inc, status, state string, items ...domain.OrderItem) domain.OrderDetail {
	return domain.OrderDetail{
		OrderSummary: summary(inc, status, state),
		Billing:      domain.Address{City: "Lisboa", CountryID: "PT"},
		Shipping:     domain.Address{City: "Lisboa", CountryID: "PT"},
		Items:        items,
	}
}

// countingCustomers считает обращения к хранилищу клиентов.
type countingCustomers struct {
	domain.CustomerRepository
	byID    int
	byEmail int
	upserts int
}

func (c *countingCustomers) GetByID(customerID string) (domain.Customer, error) {
	c.byID++
	return c.CustomerRepository.GetByID(customerID)
}

func (c *countingCustomers) GetByEmail(email string) (domain.Customer, error) {
	c.byEmail++
	return c.CustomerRepository.GetByEmail(email)
}

func (c *countingCustomers) Upsert(customer domain.Customer) error {
	c.upserts++
	return c.CustomerRepository.Upsert(customer)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, domain.ErrRunInProgress
}

type failingLocker struct{ err error }

func (l failingLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, l.err
}

type countingLocker struct {
	locks   int
	unlocks int
}

func (l *countingLocker) TryLock(context.Context, string, time.Duration) (func(context.Context) error, error) {
	l.locks++
	return func(context.Context) error {
		l.unlocks++
		return nil
	}, nil
}

type outcomeRecorder struct {
	runs     map[domain.RunStatus]int
	outcomes map[domain.Outcome]int
	failed   int
}

func newOutcomeRecorder() *outcomeRecorder {
	return &outcomeRecorder{
		runs:     make(map[domain.RunStatus]int),
		outcomes: make(map[domain.Outcome]int),
	}
}

func (r *outcomeRecorder) RecordRun(_ domain.SyncMode, status domain.RunStatus, _ domain.RunSummary) {
	r.runs[status]++
}

func (r *outcomeRecorder) RecordOutcome(_ domain.SyncMode, outcome domain.Outcome) {
	r.outcomes[outcome]++
}

func (r *outcomeRecorder) RecordFailedWindows(_ domain.SyncMode, count int) {
	r.failed += count
}
