package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type customerRepositoryInMemory struct {
	mu      sync.RWMutex
	byID    map[string]domain.Customer
	byEmail map[string]string
}

// NewCustomerRepository создаёт in-memory реализацию CustomerRepository.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		byID:    make(map[string]domain.Customer),
		byEmail: make(map[string]string),
	}
}

func (r *customerRepositoryInMemory) GetByID(customerID string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.byID[customerID]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (r *customerRepositoryInMemory) GetByEmail(email string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return r.byID[id], nil
}

// Upsert создаёт или обновляет клиента. Email, занятый другим клиентом, даёт ErrCustomerConflict.
func (r *customerRepositoryInMemory) Upsert(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byEmail[customer.Email]; ok && owner != customer.CustomerID {
		return domain.ErrCustomerConflict
	}

	now := time.Now().UTC()
	current, exists := r.byID[customer.CustomerID]
	if exists {
		delete(r.byEmail, current.Email)
		customer.CreatedAt = current.CreatedAt
	} else {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	r.byID[customer.CustomerID] = customer
	r.byEmail[customer.Email] = customer.CustomerID
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
