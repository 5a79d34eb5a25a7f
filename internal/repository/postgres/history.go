package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/articurated/orderflow/internal/domain"
	"github.com/articurated/orderflow/pkg/database"
)

// HistoryRepository implements repository.HistoryRepository using PostgreSQL.
// The state_history table is append-only; this type exposes reads only, and
// writes happen exclusively through insertHistory inside entity transactions.
type HistoryRepository struct {
	pool database.DBTX
}

// NewHistoryRepository creates a new PostgreSQL-backed history repository.
func NewHistoryRepository(pool database.DBTX) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

const historyColumns = `id, order_id, return_request_id, previous_state, new_state, actor, trigger_source, occurred_at, ip_address, metadata, notes`

// ListBySubject returns the full audit trail for the subject, oldest first.
// Ties on occurred_at are broken by insertion order so creation records
// always sort before same-instant transitions.
func (r *HistoryRepository) ListBySubject(ctx context.Context, subject domain.Subject) ([]domain.StateHistory, error) {
	column := "order_id"
	if subject.Kind == domain.KindReturn {
		column = "return_request_id"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM state_history
		WHERE %s = $1
		ORDER BY occurred_at ASC, seq ASC`, historyColumns, column)

	qctx, end := database.TraceQuery(ctx, "HistoryListBySubject", query)
	rows, err := r.pool.Query(qctx, query, subject.ID)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	records := make([]domain.StateHistory, 0)
	for rows.Next() {
		rec, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state history rows: %w", err)
	}

	return records, nil
}

func scanHistory(row pgx.Row) (*domain.StateHistory, error) {
	var (
		rec          domain.StateHistory
		orderID      *string
		returnID     *string
		ipAddress    *string
		notes        *string
		metadataJSON []byte
	)

	if err := row.Scan(
		&rec.ID,
		&orderID,
		&returnID,
		&rec.PreviousState,
		&rec.NewState,
		&rec.Actor,
		&rec.Trigger,
		&rec.OccurredAt,
		&ipAddress,
		&metadataJSON,
		&notes,
	); err != nil {
		return nil, fmt.Errorf("scan state history row: %w", err)
	}

	switch {
	case orderID != nil:
		rec.Subject = domain.Subject{Kind: domain.KindOrder, ID: *orderID}
	case returnID != nil:
		rec.Subject = domain.Subject{Kind: domain.KindReturn, ID: *returnID}
	}

	if ipAddress != nil {
		rec.IPAddress = *ipAddress
	}
	if notes != nil {
		rec.Notes = *notes
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal state history metadata: %w", err)
		}
	}

	return &rec, nil
}

// insertHistory appends an audit record inside an open transaction so the
// record commits or rolls back together with the entity mutation it records.
func insertHistory(ctx context.Context, tx pgx.Tx, h *domain.StateHistory) error {
	var orderID, returnID *string
	switch h.Subject.Kind {
	case domain.KindReturn:
		returnID = &h.Subject.ID
	default:
		orderID = &h.Subject.ID
	}

	metadataJSON, err := marshalMeta(h.Metadata)
	if err != nil {
		return fmt.Errorf("marshal state history metadata: %w", err)
	}

	query := `
		INSERT INTO state_history (id, order_id, return_request_id, previous_state, new_state, actor, trigger_source, occurred_at, ip_address, metadata, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, query,
		h.ID,
		orderID,
		returnID,
		h.PreviousState,
		h.NewState,
		h.Actor,
		h.Trigger,
		h.OccurredAt,
		nullable(h.IPAddress),
		metadataJSON,
		nullable(h.Notes),
	)
	if err != nil {
		return fmt.Errorf("insert state history: %w", err)
	}

	return nil
}

// marshalMeta serializes a metadata map, storing NULL rather than an empty
// object when there is nothing to record.
func marshalMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
