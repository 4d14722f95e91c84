package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

// headerAttributes: поля заголовка, которые не нужны для выборок и хранятся в JSONB.
type headerAttributes struct {
	ParentID  string `json:"parent_id,omitempty"`
	StoreName string `json:"store_name,omitempty"`
	QuoteID   string `json:"quote_id,omitempty"`
	RemoteIP  string `json:"remote_ip,omitempty"`

	CustomerGroupID    string `json:"customer_group_id,omitempty"`
	CustomerIsGuest    *bool  `json:"customer_is_guest,omitempty"`
	CustomerNoteNotify *bool  `json:"customer_note_notify,omitempty"`

	IsActive  *bool `json:"is_active,omitempty"`
	IsVirtual *bool `json:"is_virtual,omitempty"`
	EmailSent *bool `json:"email_sent,omitempty"`

	AppliedRuleIDs string `json:"applied_rule_ids,omitempty"`
	GiftMessageID  string `json:"gift_message_id,omitempty"`
	GiftMessage    string `json:"gift_message,omitempty"`

	ShippingMethod      string `json:"shipping_method,omitempty"`
	ShippingDescription string `json:"shipping_description,omitempty"`

	BillingAddressID  string `json:"billing_address_id,omitempty"`
	BillingFirstname  string `json:"billing_firstname,omitempty"`
	BillingLastname   string `json:"billing_lastname,omitempty"`
	BillingName       string `json:"billing_name,omitempty"`
	ShippingAddressID string `json:"shipping_address_id,omitempty"`
	ShippingFirstname string `json:"shipping_firstname,omitempty"`
	ShippingLastname  string `json:"shipping_lastname,omitempty"`
	ShippingName      string `json:"shipping_name,omitempty"`

	Totals     domain.Totals     `json:"totals"`
	BaseTotals domain.Totals     `json:"base_totals"`
	Rates      domain.Rates      `json:"rates"`
	Currencies domain.Currencies `json:"currencies"`
	Weight     *float64          `json:"weight,omitempty"`
}

func attributesFromSummary(s domain.OrderSummary) headerAttributes {
	return headerAttributes{
		ParentID:            s.ParentID,
		StoreName:           s.StoreName,
		QuoteID:             s.QuoteID,
		RemoteIP:            s.RemoteIP,
		CustomerGroupID:     s.CustomerGroupID,
		CustomerIsGuest:     s.CustomerIsGuest,
		CustomerNoteNotify:  s.CustomerNoteNotify,
		IsActive:            s.IsActive,
		IsVirtual:           s.IsVirtual,
		EmailSent:           s.EmailSent,
		AppliedRuleIDs:      s.AppliedRuleIDs,
		GiftMessageID:       s.GiftMessageID,
		GiftMessage:         s.GiftMessage,
		ShippingMethod:      s.ShippingMethod,
		ShippingDescription: s.ShippingDescription,
		BillingAddressID:    s.BillingAddressID,
		BillingFirstname:    s.BillingFirstname,
		BillingLastname:     s.BillingLastname,
		BillingName:         s.BillingName,
		ShippingAddressID:   s.ShippingAddressID,
		ShippingFirstname:   s.ShippingFirstname,
		ShippingLastname:    s.ShippingLastname,
		ShippingName:        s.ShippingName,
		Totals:              s.Totals,
		BaseTotals:          s.BaseTotals,
		Rates:               s.Rates,
		Currencies:          s.Currencies,
		Weight:              s.Weight,
	}
}

func (a headerAttributes) applyTo(s *domain.OrderSummary) {
	s.ParentID = a.ParentID
	s.StoreName = a.StoreName
	s.QuoteID = a.QuoteID
	s.RemoteIP = a.RemoteIP
	s.CustomerGroupID = a.CustomerGroupID
	s.CustomerIsGuest = a.CustomerIsGuest
	s.CustomerNoteNotify = a.CustomerNoteNotify
	s.IsActive = a.IsActive
	s.IsVirtual = a.IsVirtual
	s.EmailSent = a.EmailSent
	s.AppliedRuleIDs = a.AppliedRuleIDs
	s.GiftMessageID = a.GiftMessageID
	s.GiftMessage = a.GiftMessage
	s.ShippingMethod = a.ShippingMethod
	s.ShippingDescription = a.ShippingDescription
	s.BillingAddressID = a.BillingAddressID
	s.BillingFirstname = a.BillingFirstname
	s.BillingLastname = a.BillingLastname
	s.BillingName = a.BillingName
	s.ShippingAddressID = a.ShippingAddressID
	s.ShippingFirstname = a.ShippingFirstname
	s.ShippingLastname = a.ShippingLastname
	s.ShippingName = a.ShippingName
	s.Totals = a.Totals
	s.BaseTotals = a.BaseTotals
	s.Rates = a.Rates
	s.Currencies = a.Currencies
	s.Weight = a.Weight
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) GetState(incrementID string) (domain.PersistedOrderState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var state domain.PersistedOrderState
	var status string
	err := r.db.QueryRowContext(ctx, `
		SELECT status, state, details_fetched
		FROM orders
		WHERE increment_id = $1
	`, incrementID).Scan(&status, &state.State, &state.DetailsFetched)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PersistedOrderState{}, domain.ErrOrderNotFound
		}
		return domain.PersistedOrderState{}, fmt.Errorf("select order state: %w", err)
	}
	state.Status = domain.CanonicalStatus(status)
	return state, nil
}

func (r *orderRepository) Get(incrementID string) (domain.OrderRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		record                  domain.OrderRecord
		summary                 domain.OrderSummary
		status                  string
		customerID              sql.NullString
		createdAt, updatedAt    sql.NullTime
		fetchedAt               sql.NullTime
		attributesRaw           []byte
		billingRaw, shippingRaw []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT increment_id, order_id, store_id, raw_status, status, state,
		       customer_id, customer_email, customer_firstname, customer_lastname,
		       remote_created_at, remote_updated_at, attributes,
		       billing_address, shipping_address, details_fetched, details_fetched_at, synced_at
		FROM orders
		WHERE increment_id = $1
	`, incrementID).Scan(
		&summary.IncrementID, &summary.OrderID, &summary.StoreID, &summary.RawStatus, &status, &summary.State,
		&customerID, &summary.CustomerEmail, &summary.CustomerFirstname, &summary.CustomerLastname,
		&createdAt, &updatedAt, &attributesRaw,
		&billingRaw, &shippingRaw, &record.DetailsFetched, &fetchedAt, &record.Header.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderRecord{}, domain.ErrOrderNotFound
		}
		return domain.OrderRecord{}, fmt.Errorf("select order: %w", err)
	}

	var attrs headerAttributes
	if err := json.Unmarshal(attributesRaw, &attrs); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("decode order attributes: %w", err)
	}
	attrs.applyTo(&summary)
	summary.CreatedAt = createdAt.Time
	summary.UpdatedAt = updatedAt.Time

	if err := decodeAddress(billingRaw, &record.Billing); err != nil {
		return domain.OrderRecord{}, err
	}
	if err := decodeAddress(shippingRaw, &record.Shipping); err != nil {
		return domain.OrderRecord{}, err
	}

	record.Header.Summary = summary
	record.Header.Status = domain.CanonicalStatus(status)
	record.Header.CustomerID = customerID.String
	record.DetailsFetchedAt = fetchedAt.Time

	items, err := r.loadItems(ctx, incrementID)
	if err != nil {
		return domain.OrderRecord{}, err
	}
	record.Items = items

	return record, nil
}

func (r *orderRepository) UpsertHeader(header domain.OrderHeader) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	s := header.Summary
	attrs, err := json.Marshal(attributesFromSummary(s))
	if err != nil {
		return fmt.Errorf("encode order attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (
			increment_id, order_id, store_id, raw_status, status, state,
			customer_id, customer_email, customer_firstname, customer_lastname,
			remote_created_at, remote_updated_at, grand_total, order_currency, attributes, synced_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (increment_id) DO UPDATE
		SET order_id = EXCLUDED.order_id,
		    store_id = EXCLUDED.store_id,
		    raw_status = EXCLUDED.raw_status,
		    status = EXCLUDED.status,
		    state = EXCLUDED.state,
		    customer_id = EXCLUDED.customer_id,
		    customer_email = EXCLUDED.customer_email,
		    customer_firstname = EXCLUDED.customer_firstname,
		    customer_lastname = EXCLUDED.customer_lastname,
		    remote_created_at = EXCLUDED.remote_created_at,
		    remote_updated_at = EXCLUDED.remote_updated_at,
		    grand_total = EXCLUDED.grand_total,
		    order_currency = EXCLUDED.order_currency,
		    attributes = EXCLUDED.attributes,
		    synced_at = EXCLUDED.synced_at
	`,
		s.IncrementID, s.OrderID, s.StoreID, s.RawStatus, string(header.Status), s.State,
		nullString(header.CustomerID), s.CustomerEmail, s.CustomerFirstname, s.CustomerLastname,
		nullTime(s.CreatedAt), nullTime(s.UpdatedAt), s.Totals.GrandTotal, s.Currencies.Order, attrs, header.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert order header: %w", err)
	}
	return nil
}

func (r *orderRepository) UpsertDetail(incrementID string, detail domain.OrderDetail, fetchedAt time.Time) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	billing, err := encodeAddress(detail.Billing)
	if err != nil {
		return err
	}
	shipping, err := encodeAddress(detail.Shipping)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET billing_address = $2,
		    shipping_address = $3,
		    details_fetched = TRUE,
		    details_fetched_at = $4
		WHERE increment_id = $1
	`, incrementID, billing, shipping, fetchedAt)
	if err != nil {
		return fmt.Errorf("update order addresses: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}

	for _, item := range detail.Items {
		key := item.Key(incrementID)
		item.ItemID = key
		data, marshalErr := json.Marshal(item)
		if marshalErr != nil {
			err = fmt.Errorf("encode order item %s: %w", key, marshalErr)
			return err
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (
				increment_id, item_key, position, sku, name, qty_ordered, price, data, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (increment_id, item_key) DO UPDATE
			SET position = EXCLUDED.position,
			    sku = EXCLUDED.sku,
			    name = EXCLUDED.name,
			    qty_ordered = EXCLUDED.qty_ordered,
			    price = EXCLUDED.price,
			    data = EXCLUDED.data,
			    updated_at = EXCLUDED.updated_at
		`,
			incrementID, key, item.Position, item.SKU, item.Name, item.QtyOrdered, item.Price, data, fetchedAt,
		); err != nil {
			return fmt.Errorf("upsert order item %s: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit order details: %w", err)
	}
	return nil
}

func (r *orderRepository) FindIncrementID(orderID, customerEmail string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var incrementID string
	err := r.db.QueryRowContext(ctx, `
		SELECT increment_id
		FROM orders
		WHERE order_id = $1 AND customer_email = $2
		ORDER BY increment_id
		LIMIT 1
	`, orderID, customerEmail).Scan(&incrementID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrOrderNotFound
		}
		return "", fmt.Errorf("find order by id and email: %w", err)
	}
	return incrementID, nil
}

func (r *orderRepository) MarkCanceled(incrementID string, syncedAt time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    state = $3,
		    synced_at = $4
		WHERE increment_id = $1
	`, incrementID, string(domain.StatusCanceled), domain.StateCanceled, syncedAt)
	if err != nil {
		return fmt.Errorf("mark order canceled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, incrementID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT data
		FROM order_items
		WHERE increment_id = $1
		ORDER BY position ASC, item_key ASC
	`, incrementID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		var item domain.OrderItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func encodeAddress(a domain.Address) (interface{}, error) {
	if a.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}
	return data, nil
}

func decodeAddress(raw []byte, dst *domain.Address) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode address: %w", err)
	}
	return nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
