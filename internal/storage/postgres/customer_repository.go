package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) GetByID(customerID string) (domain.Customer, error) {
	return r.getOne(`WHERE customer_id = $1`, customerID)
}

func (r *customerRepository) GetByEmail(email string) (domain.Customer, error) {
	return r.getOne(`WHERE email = $1`, email)
}

func (r *customerRepository) getOne(where string, arg string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var c domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT customer_id, email, firstname, lastname, created_at, updated_at
		FROM customers
		`+where, arg).Scan(&c.CustomerID, &c.Email, &c.Firstname, &c.Lastname, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return c, nil
}

// Upsert обновляет клиента по id. Если email уже принадлежит другому id, запись не меняется.
func (r *customerRepository) Upsert(customer domain.Customer) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT customer_id FROM customers WHERE email = $1`, customer.Email).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = nil
	case err != nil:
		return fmt.Errorf("check customer email owner: %w", err)
	case owner != customer.CustomerID:
		return domain.ErrCustomerConflict
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO customers (customer_id, email, firstname, lastname, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		ON CONFLICT (customer_id) DO UPDATE
		SET email = EXCLUDED.email,
		    firstname = EXCLUDED.firstname,
		    lastname = EXCLUDED.lastname,
		    updated_at = EXCLUDED.updated_at
	`, customer.CustomerID, customer.Email, customer.Firstname, customer.Lastname, now); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCustomerConflict
		}
		return fmt.Errorf("upsert customer: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit customer: %w", err)
	}
	return nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
