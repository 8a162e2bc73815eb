package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vazaro/shop/internal/domain"
)

// OrderStore implements domain.OrderStore on PostgreSQL. Orders live in
// the orders table with their line items in order_items; both are written
// in one transaction at creation and never mutated afterwards except for
// the status columns.
type OrderStore struct {
	pool *pgxpool.Pool
}

// Compile-time check that OrderStore implements domain.OrderStore.
var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore creates a PostgreSQL-backed order store.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

const orderColumns = `id, order_number, customer_first_name, customer_last_name,
	customer_email, customer_phone, shipping_method, shipping_address,
	shipping_city, shipping_postal_code, shipping_apartment, shipping_cost,
	shipping_country, total_amount, payment_id, payment_status, order_status,
	notes, created_at, updated_at`

// CreateOrder persists the order and its items in a single transaction.
func (s *OrderStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Internal(err, "order.create", "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, customer_first_name, customer_last_name,
			customer_email, customer_phone, shipping_method, shipping_address,
			shipping_city, shipping_postal_code, shipping_apartment,
			shipping_cost, shipping_country, total_amount, payment_id,
			payment_status, order_status, notes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		order.ID, order.OrderNumber,
		order.Customer.FirstName, order.Customer.LastName,
		order.Customer.Email, order.Customer.Phone,
		string(order.Shipping.Method), order.Shipping.Address,
		order.Shipping.City, order.Shipping.PostalCode, order.Shipping.Apartment,
		order.Shipping.Cost, order.Shipping.Country,
		order.TotalAmount, order.PaymentID,
		string(order.PaymentStatus), string(order.OrderStatus),
		order.Notes, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderNumberTaken
		}
		return domain.Internal(err, "order.create", "failed to insert order")
	}

	batch := &pgx.Batch{}
	for i, item := range order.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, position, product_id, name, price, quantity, image)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			order.ID, i, item.ProductID, item.Name, item.Price, item.Quantity, item.Image,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Internal(err, "order.create", "failed to insert order items")
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Internal(err, "order.create", "failed to commit transaction")
	}
	return nil
}

// GetOrderByID retrieves an order by storage id.
func (s *OrderStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.getOrder(ctx, "id = $1", id)
}

// GetOrderByNumber retrieves an order by business number.
func (s *OrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.getOrder(ctx, "order_number = $1", orderNumber)
}

// GetOrderByPaymentID retrieves an order by the gateway payment id.
func (s *OrderStore) GetOrderByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	return s.getOrder(ctx, "payment_id = $1", paymentID)
}

func (s *OrderStore) getOrder(ctx context.Context, where string, arg any) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM orders WHERE "+where, arg)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, domain.Internal(err, "order.get", "failed to get order")
	}

	items, err := s.loadItems(ctx, []uuid.UUID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]
	return order, nil
}

// SetOrderPaymentID records the gateway payment id after a payment opens.
func (s *OrderStore) SetOrderPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET payment_id = $2, updated_at = now() WHERE id = $1`,
		id, paymentID,
	)
	if err != nil {
		return domain.Internal(err, "order.set_payment_id", "failed to set payment id")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

// TransitionPayment moves the order out of pending with a compare-and-set
// on payment_status. The WHERE clause guarantees at most one caller wins
// when poll and webhook reconcile the same payment concurrently.
func (s *OrderStore) TransitionPayment(ctx context.Context, id uuid.UUID, paymentStatus domain.PaymentStatus, orderStatus domain.OrderStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, order_status = $3, updated_at = now()
		WHERE id = $1 AND payment_status = $4`,
		id, string(paymentStatus), string(orderStatus), string(domain.PaymentStatusPending),
	)
	if err != nil {
		return false, domain.Internal(err, "order.transition_payment", "failed to transition payment status")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateOrderStatus applies an administrative override unconditionally,
// setting only the provided fields.
func (s *OrderStore) UpdateOrderStatus(ctx context.Context, id uuid.UUID, update domain.StatusUpdate) (*domain.Order, error) {
	var orderStatus, paymentStatus *string
	if update.OrderStatus != nil {
		v := string(*update.OrderStatus)
		orderStatus = &v
	}
	if update.PaymentStatus != nil {
		v := string(*update.PaymentStatus)
		paymentStatus = &v
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET order_status = COALESCE($2, order_status),
		    payment_status = COALESCE($3, payment_status),
		    updated_at = now()
		WHERE id = $1`,
		id, orderStatus, paymentStatus,
	)
	if err != nil {
		return nil, domain.Internal(err, "order.update_status", "failed to update order status")
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrOrderNotFound
	}

	return s.GetOrderByID(ctx, id)
}

// ListOrders returns a page of orders newest first plus the total count
// of orders matching the filter.
func (s *OrderStore) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OrderStatus != nil {
		args = append(args, string(*filter.OrderStatus))
		conds = append(conds, fmt.Sprintf("order_status = $%d", len(args)))
	}
	if filter.PaymentStatus != nil {
		args = append(args, string(*filter.PaymentStatus))
		conds = append(conds, fmt.Sprintf("payment_status = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, domain.Internal(err, "order.list", "failed to count orders")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		"SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		orderColumns, where, len(args)-1, len(args),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, domain.Internal(err, "order.list", "failed to list orders")
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []uuid.UUID
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, domain.Internal(err, "order.list", "failed to scan order")
		}
		orders = append(orders, *order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.Internal(err, "order.list", "failed to iterate orders")
	}

	if len(ids) > 0 {
		items, err := s.loadItems(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range orders {
			orders[i].Items = items[orders[i].ID]
		}
	}

	return orders, total, nil
}

// ListStalePending returns pending orders with an open payment last
// touched before cutoff, oldest first. Oldest-first matters: the sweep
// reads a bounded batch, and sorting any other way would let a burst of
// fresh pending orders push a stuck one past the limit forever.
func (s *OrderStore) ListStalePending(ctx context.Context, cutoff time.Time, limit int32) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE payment_status = $1 AND payment_id <> '' AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, orderColumns),
		string(domain.PaymentStatusPending), cutoff, limit,
	)
	if err != nil {
		return nil, domain.Internal(err, "order.list_stale_pending", "failed to list stale pending orders")
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Internal(err, "order.list_stale_pending", "failed to scan order")
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "order.list_stale_pending", "failed to iterate orders")
	}
	return orders, nil
}

// loadItems fetches the line items for a set of orders in one query.
func (s *OrderStore) loadItems(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT order_id, product_id, name, price, quantity, image
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, domain.Internal(err, "order.load_items", "failed to load order items")
	}
	defer rows.Close()

	items := make(map[uuid.UUID][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID uuid.UUID
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Image); err != nil {
			return nil, domain.Internal(err, "order.load_items", "failed to scan order item")
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Internal(err, "order.load_items", "failed to iterate order items")
	}
	return items, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                            domain.Order
		method, payStatus, ordStatus string
		createdAt, updatedAt         time.Time
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber,
		&o.Customer.FirstName, &o.Customer.LastName,
		&o.Customer.Email, &o.Customer.Phone,
		&method, &o.Shipping.Address,
		&o.Shipping.City, &o.Shipping.PostalCode, &o.Shipping.Apartment,
		&o.Shipping.Cost, &o.Shipping.Country,
		&o.TotalAmount, &o.PaymentID,
		&payStatus, &ordStatus,
		&o.Notes, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Shipping.Method = domain.ShippingMethod(method)
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	o.OrderStatus = domain.OrderStatus(ordStatus)
	o.CreatedAt = createdAt
	o.UpdatedAt = updatedAt
	return &o, nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
