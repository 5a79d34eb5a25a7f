package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/internal/repository"
	"github.com/articurated/orderflow/pkg/database"
	apperrors "github.com/articurated/orderflow/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, customer_id, status, subtotal, tax, shipping_cost, total, payment_method, payment_transaction_id, shipping_address, billing_address, tracking_number, carrier, metadata, created_at, updated_at`

// Create inserts a new order, its line items, and its creation audit record
// atomically within a transaction.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order, history *domain.StateHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	shippingJSON, billingJSON, metadataJSON, err := marshalOrderJSON(o)
	if err != nil {
		return err
	}

	orderQuery := `
		INSERT INTO orders (id, customer_id, status, subtotal, tax, shipping_cost, total, payment_method, payment_transaction_id, shipping_address, billing_address, tracking_number, carrier, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = tx.Exec(ctx, orderQuery,
		o.ID,
		o.CustomerID,
		o.Status,
		o.Subtotal,
		o.Tax,
		o.ShippingCost,
		o.Total,
		o.PaymentMethod,
		o.PaymentTransactionID,
		shippingJSON,
		billingJSON,
		o.TrackingNumber,
		o.Carrier,
		metadataJSON,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_line_items (id, order_id, product_id, product_name, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, item := range o.LineItems {
		_, err = tx.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.ProductName,
			item.Quantity,
			item.UnitPrice,
			item.Subtotal,
		)
		if err != nil {
			return fmt.Errorf("insert order line item: %w", err)
		}
	}

	if err := insertHistory(ctx, tx, history); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves an order by its ID, eagerly loading its line items.
// Order and items come back in a single query via LEFT JOIN + JSONB_AGG to
// avoid the N+1 problem.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	orderQuery := `
		SELECT
			o.id, o.customer_id, o.status, o.subtotal, o.tax, o.shipping_cost,
			o.total, o.payment_method, o.payment_transaction_id, o.shipping_address,
			o.billing_address, o.tracking_number, o.carrier, o.metadata, o.created_at, o.updated_at,
			COALESCE(
				JSONB_AGG(
					JSONB_BUILD_OBJECT(
						'id', li.id,
						'order_id', li.order_id,
						'product_id', li.product_id,
						'product_name', li.product_name,
						'quantity', li.quantity,
						'unit_price', li.unit_price,
						'subtotal', li.subtotal
					) ORDER BY li.id
				) FILTER (WHERE li.id IS NOT NULL),
				'[]'::jsonb
			) AS line_items
		FROM orders o
		LEFT JOIN order_line_items li ON o.id = li.order_id
		WHERE o.id = $1
		GROUP BY o.id, o.customer_id, o.status, o.subtotal, o.tax, o.shipping_cost,
			o.total, o.payment_method, o.payment_transaction_id, o.shipping_address,
			o.billing_address, o.tracking_number, o.carrier, o.metadata, o.created_at, o.updated_at`

	var (
		o            domain.Order
		shippingJSON []byte
		billingJSON  []byte
		metadataJSON []byte
		itemsJSON    []byte
	)

	qctx, end := database.TraceQuery(ctx, "OrderGetByID", orderQuery)
	err := r.pool.QueryRow(qctx, orderQuery, id).Scan(
		&o.ID,
		&o.CustomerID,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.ShippingCost,
		&o.Total,
		&o.PaymentMethod,
		&o.PaymentTransactionID,
		&shippingJSON,
		&billingJSON,
		&o.TrackingNumber,
		&o.Carrier,
		&metadataJSON,
		&o.CreatedAt,
		&o.UpdatedAt,
		&itemsJSON,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := unmarshalOrderJSON(&o, shippingJSON, billingJSON, metadataJSON); err != nil {
		return nil, err
	}

	if len(itemsJSON) > 0 && string(itemsJSON) != "null" && string(itemsJSON) != "[]" {
		if err := json.Unmarshal(itemsJSON, &o.LineItems); err != nil {
			return nil, fmt.Errorf("unmarshal order line items: %w", err)
		}
	} else {
		o.LineItems = []domain.LineItem{}
	}

	return &o, nil
}

// List returns orders matching the given filter with the total count.
func (r *OrderRepository) List(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("customer_id = $%d", argIndex))
		args = append(args, *filter.CustomerID)
		argIndex++
	}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// count(*) OVER() returns the unfiltered-page total in the same query.
	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM orders
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		orderColumns, whereClause, argIndex, argIndex+1,
	)

	limit := filter.PageSize
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}

	args = append(args, limit, offset)

	qctx, end := database.TraceQuery(ctx, "OrderList", query)
	rows, err := r.pool.Query(qctx, query, args...)
	end(err)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)

	for rows.Next() {
		var (
			o            domain.Order
			shippingJSON []byte
			billingJSON  []byte
			metadataJSON []byte
		)

		if err := rows.Scan(
			&o.ID,
			&o.CustomerID,
			&o.Status,
			&o.Subtotal,
			&o.Tax,
			&o.ShippingCost,
			&o.Total,
			&o.PaymentMethod,
			&o.PaymentTransactionID,
			&shippingJSON,
			&billingJSON,
			&o.TrackingNumber,
			&o.Carrier,
			&metadataJSON,
			&o.CreatedAt,
			&o.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}

		if err := unmarshalOrderJSON(&o, shippingJSON, billingJSON, metadataJSON); err != nil {
			return nil, 0, err
		}

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	// Batch-load line items for the whole page in one query.
	if len(orders) > 0 {
		orderIDs := make([]string, len(orders))
		for i := range orders {
			orderIDs[i] = orders[i].ID
		}

		itemsQuery := `
			SELECT id, order_id, product_id, product_name, quantity, unit_price, subtotal
			FROM order_line_items
			WHERE order_id = ANY($1)
			ORDER BY id`

		itemRows, err := r.pool.Query(ctx, itemsQuery, orderIDs)
		if err != nil {
			return nil, 0, fmt.Errorf("batch load order line items: %w", err)
		}
		defer itemRows.Close()

		itemsByOrderID := make(map[string][]domain.LineItem, len(orders))
		for itemRows.Next() {
			var item domain.LineItem
			if err := itemRows.Scan(
				&item.ID,
				&item.OrderID,
				&item.ProductID,
				&item.ProductName,
				&item.Quantity,
				&item.UnitPrice,
				&item.Subtotal,
			); err != nil {
				return nil, 0, fmt.Errorf("scan order line item: %w", err)
			}
			itemsByOrderID[item.OrderID] = append(itemsByOrderID[item.OrderID], item)
		}
		if err := itemRows.Err(); err != nil {
			return nil, 0, fmt.Errorf("iterate batch line item rows: %w", err)
		}

		for i := range orders {
			if items, ok := itemsByOrderID[orders[i].ID]; ok {
				orders[i].LineItems = items
			} else {
				orders[i].LineItems = []domain.LineItem{}
			}
		}
	}

	return orders, totalCount, nil
}

// Transition locks the order row with SELECT ... FOR UPDATE, runs apply
// against the freshly read state, and commits the mutation together with the
// audit record apply returned. Concurrent transitions on the same order
// serialize on the row lock, so the loser revalidates against the committed
// state and is rejected by apply.
func (r *OrderRepository) Transition(ctx context.Context, id string, apply repository.OrderApplyFunc) (*domain.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1 FOR UPDATE`, orderColumns)

	var (
		o            domain.Order
		shippingJSON []byte
		billingJSON  []byte
		metadataJSON []byte
	)

	// The lock wait is where contention shows up, so it gets the span.
	qctx, end := database.TraceQuery(ctx, "OrderTransitionLock", lockQuery)
	err = tx.QueryRow(qctx, lockQuery, id).Scan(
		&o.ID,
		&o.CustomerID,
		&o.Status,
		&o.Subtotal,
		&o.Tax,
		&o.ShippingCost,
		&o.Total,
		&o.PaymentMethod,
		&o.PaymentTransactionID,
		&shippingJSON,
		&billingJSON,
		&o.TrackingNumber,
		&o.Carrier,
		&metadataJSON,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("lock order row: %w", err)
	}

	if err := unmarshalOrderJSON(&o, shippingJSON, billingJSON, metadataJSON); err != nil {
		return nil, err
	}

	history, err := apply(&o)
	if err != nil {
		return nil, err
	}

	o.UpdatedAt = time.Now().UTC()

	newMetadataJSON, err := marshalMeta(o.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal order metadata: %w", err)
	}

	updateQuery := `
		UPDATE orders
		SET status = $1, payment_method = $2, payment_transaction_id = $3, metadata = $4, updated_at = $5
		WHERE id = $6`

	if _, err := tx.Exec(ctx, updateQuery,
		o.Status,
		o.PaymentMethod,
		o.PaymentTransactionID,
		newMetadataJSON,
		o.UpdatedAt,
		o.ID,
	); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if err := insertHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &o, nil
}

// UpdateShipping sets tracking details on the order. This is a data update,
// not a lifecycle transition, so no audit record is written. Metadata merges
// into the existing map key by key.
func (r *OrderRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	metadataJSON, err := marshalMeta(metadata)
	if err != nil {
		return fmt.Errorf("marshal shipping metadata: %w", err)
	}

	query := `
		UPDATE orders
		SET tracking_number = $1, carrier = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb),
		    updated_at = $4
		WHERE id = $5`

	qctx, end := database.TraceQuery(ctx, "OrderUpdateShipping", query)
	ct, err := r.pool.Exec(qctx, query, trackingNumber, carrier, metadataJSON, time.Now().UTC(), id)
	end(err)
	if err != nil {
		return fmt.Errorf("update order shipping: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("order", id)
	}

	return nil
}

// MarkInvoiceGenerated stamps the invoice marker and number into order
// metadata. The WHERE guard makes replayed invoice jobs no-ops: the update
// only matches while the marker is absent.
func (r *OrderRepository) MarkInvoiceGenerated(ctx context.Context, id, invoiceNumber string) (bool, error) {
	stamp, err := json.Marshal(map[string]any{
		"invoice_generated": true,
		"invoice_number":    invoiceNumber,
	})
	if err != nil {
		return false, fmt.Errorf("marshal invoice stamp: %w", err)
	}

	query := `
		UPDATE orders
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $1::jsonb, updated_at = $2
		WHERE id = $3
		  AND NOT COALESCE((metadata->>'invoice_generated')::bool, false)`

	ct, err := r.pool.Exec(ctx, query, stamp, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark invoice generated: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

func marshalOrderJSON(o *domain.Order) (shipping, billing, metadata []byte, err error) {
	if o.ShippingAddress != nil {
		shipping, err = json.Marshal(o.ShippingAddress)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal shipping address: %w", err)
		}
	}
	if o.BillingAddress != nil {
		billing, err = json.Marshal(o.BillingAddress)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal billing address: %w", err)
		}
	}
	metadata, err = marshalMeta(o.Metadata)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal order metadata: %w", err)
	}
	return shipping, billing, metadata, nil
}

func unmarshalOrderJSON(o *domain.Order, shippingJSON, billingJSON, metadataJSON []byte) error {
	if len(shippingJSON) > 0 && string(shippingJSON) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(shippingJSON, &addr); err != nil {
			return fmt.Errorf("unmarshal shipping address: %w", err)
		}
		o.ShippingAddress = &addr
	}
	if len(billingJSON) > 0 && string(billingJSON) != "null" {
		var addr domain.Address
		if err := json.Unmarshal(billingJSON, &addr); err != nil {
			return fmt.Errorf("unmarshal billing address: %w", err)
		}
		o.BillingAddress = &addr
	}
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
			return fmt.Errorf("unmarshal order metadata: %w", err)
		}
	}
	return nil
}
