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

// ReturnRepository implements repository.ReturnRepository using PostgreSQL.
type ReturnRepository struct {
	pool database.DBTX
}

// NewReturnRepository creates a new PostgreSQL-backed return request repository.
func NewReturnRepository(pool database.DBTX) *ReturnRepository {
	return &ReturnRepository{pool: pool}
}

const returnColumns = `id, order_id, status, reason, requested_by, items, refund_amount, COALESCE(refund_transaction_id, ''), approved_by, rejection_reason, return_tracking_number, return_carrier, metadata, created_at, updated_at`

// Create inserts a new return request and its creation audit record
// atomically within a transaction.
func (r *ReturnRepository) Create(ctx context.Context, ret *domain.ReturnRequest, history *domain.StateHistory) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	itemsJSON, err := json.Marshal(ret.Items)
	if err != nil {
		return fmt.Errorf("marshal return items: %w", err)
	}
	metadataJSON, err := marshalMeta(ret.Metadata)
	if err != nil {
		return fmt.Errorf("marshal return metadata: %w", err)
	}

	query := `
		INSERT INTO return_requests (id, order_id, status, reason, requested_by, items, refund_amount, refund_transaction_id, approved_by, rejection_reason, return_tracking_number, return_carrier, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = tx.Exec(ctx, query,
		ret.ID,
		ret.OrderID,
		ret.Status,
		ret.Reason,
		ret.RequestedBy,
		itemsJSON,
		ret.RefundAmount,
		nullable(ret.RefundTransactionID),
		ret.ApprovedBy,
		ret.RejectionReason,
		ret.ReturnTrackingNumber,
		ret.ReturnCarrier,
		metadataJSON,
		ret.CreatedAt,
		ret.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert return request: %w", err)
	}

	if err := insertHistory(ctx, tx, history); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a return request by its ID.
func (r *ReturnRepository) GetByID(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM return_requests WHERE id = $1`, returnColumns)

	qctx, end := database.TraceQuery(ctx, "ReturnGetByID", query)
	ret, err := scanReturn(r.pool.QueryRow(qctx, query, id))
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("return request", id)
		}
		return nil, err
	}

	return ret, nil
}

// List returns return requests matching the given filter with the total count.
func (r *ReturnRepository) List(ctx context.Context, filter repository.ReturnFilter) ([]domain.ReturnRequest, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.OrderID != nil {
		conditions = append(conditions, fmt.Sprintf("order_id = $%d", argIndex))
		args = append(args, *filter.OrderID)
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

	query := fmt.Sprintf(`
		SELECT %s, count(*) OVER() AS total_count
		FROM return_requests
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		returnColumns, whereClause, argIndex, argIndex+1,
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

	qctx, end := database.TraceQuery(ctx, "ReturnList", query)
	rows, err := r.pool.Query(qctx, query, args...)
	end(err)
	if err != nil {
		return nil, 0, fmt.Errorf("list return requests: %w", err)
	}
	defer rows.Close()

	var totalCount int
	returns := make([]domain.ReturnRequest, 0)

	for rows.Next() {
		var (
			ret          domain.ReturnRequest
			itemsJSON    []byte
			metadataJSON []byte
		)

		if err := rows.Scan(
			&ret.ID,
			&ret.OrderID,
			&ret.Status,
			&ret.Reason,
			&ret.RequestedBy,
			&itemsJSON,
			&ret.RefundAmount,
			&ret.RefundTransactionID,
			&ret.ApprovedBy,
			&ret.RejectionReason,
			&ret.ReturnTrackingNumber,
			&ret.ReturnCarrier,
			&metadataJSON,
			&ret.CreatedAt,
			&ret.UpdatedAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan return request row: %w", err)
		}

		if err := unmarshalReturnJSON(&ret, itemsJSON, metadataJSON); err != nil {
			return nil, 0, err
		}

		returns = append(returns, ret)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate return request rows: %w", err)
	}

	return returns, totalCount, nil
}

// Transition locks the return request row with SELECT ... FOR UPDATE, runs
// apply against the freshly read state, and commits the mutation together
// with the audit record apply returned. Approval and rejection stamps set by
// apply persist in the same statement as the status change.
func (r *ReturnRepository) Transition(ctx context.Context, id string, apply repository.ReturnApplyFunc) (*domain.ReturnRequest, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := fmt.Sprintf(`SELECT %s FROM return_requests WHERE id = $1 FOR UPDATE`, returnColumns)

	// The lock wait is where contention shows up, so it gets the span.
	qctx, end := database.TraceQuery(ctx, "ReturnTransitionLock", lockQuery)
	ret, err := scanReturn(tx.QueryRow(qctx, lockQuery, id))
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("return request", id)
		}
		return nil, fmt.Errorf("lock return request row: %w", err)
	}

	history, err := apply(ret)
	if err != nil {
		return nil, err
	}

	ret.UpdatedAt = time.Now().UTC()

	metadataJSON, err := marshalMeta(ret.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal return metadata: %w", err)
	}

	updateQuery := `
		UPDATE return_requests
		SET status = $1, approved_by = $2, rejection_reason = $3, metadata = $4, updated_at = $5
		WHERE id = $6`

	if _, err := tx.Exec(ctx, updateQuery,
		ret.Status,
		ret.ApprovedBy,
		ret.RejectionReason,
		metadataJSON,
		ret.UpdatedAt,
		ret.ID,
	); err != nil {
		return nil, fmt.Errorf("update return request: %w", err)
	}

	if err := insertHistory(ctx, tx, history); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return ret, nil
}

// UpdateShipping sets return tracking details. This is a data update, not a
// lifecycle transition, so no audit record is written. Metadata merges into
// the existing map key by key.
func (r *ReturnRepository) UpdateShipping(ctx context.Context, id, trackingNumber, carrier string, metadata map[string]any) error {
	metadataJSON, err := marshalMeta(metadata)
	if err != nil {
		return fmt.Errorf("marshal shipping metadata: %w", err)
	}

	query := `
		UPDATE return_requests
		SET return_tracking_number = $1, return_carrier = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || COALESCE($3::jsonb, '{}'::jsonb),
		    updated_at = $4
		WHERE id = $5`

	ct, err := r.pool.Exec(ctx, query, trackingNumber, carrier, metadataJSON, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update return shipping: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("return request", id)
	}

	return nil
}

// RecordRefund stores the refund transaction id. The IS NULL guard makes
// replayed refund jobs no-ops: only the first refund for a return request
// ever matches.
func (r *ReturnRepository) RecordRefund(ctx context.Context, id, transactionID string) (bool, error) {
	query := `
		UPDATE return_requests
		SET refund_transaction_id = $1, updated_at = $2
		WHERE id = $3 AND refund_transaction_id IS NULL`

	ct, err := r.pool.Exec(ctx, query, transactionID, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("record refund: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}

func scanReturn(row pgx.Row) (*domain.ReturnRequest, error) {
	var (
		ret          domain.ReturnRequest
		itemsJSON    []byte
		metadataJSON []byte
	)

	if err := row.Scan(
		&ret.ID,
		&ret.OrderID,
		&ret.Status,
		&ret.Reason,
		&ret.RequestedBy,
		&itemsJSON,
		&ret.RefundAmount,
		&ret.RefundTransactionID,
		&ret.ApprovedBy,
		&ret.RejectionReason,
		&ret.ReturnTrackingNumber,
		&ret.ReturnCarrier,
		&metadataJSON,
		&ret.CreatedAt,
		&ret.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan return request: %w", err)
	}

	if err := unmarshalReturnJSON(&ret, itemsJSON, metadataJSON); err != nil {
		return nil, err
	}

	return &ret, nil
}

func unmarshalReturnJSON(ret *domain.ReturnRequest, itemsJSON, metadataJSON []byte) error {
	if len(itemsJSON) > 0 && string(itemsJSON) != "null" {
		if err := json.Unmarshal(itemsJSON, &ret.Items); err != nil {
			return fmt.Errorf("unmarshal return items: %w", err)
		}
	}
	if ret.Items == nil {
		ret.Items = []domain.ReturnItem{}
	}
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &ret.Metadata); err != nil {
			return fmt.Errorf("unmarshal return metadata: %w", err)
		}
	}
	return nil
}
