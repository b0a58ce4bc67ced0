package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/procurement-api/internal/models"
)

// QueueRepository persists purchase requests. Both processing queues live
// in one purchase_requests table partitioned by the channel column;
// cross-queue scans are a single query and channel-scoped scans filter on
// the column.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs the repository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

const requestColumns = `transaction_id, requester, request_type, department, division, amount, description, channel, status, submitted_at, decided_at, decided_by, source_ref`

// Insert stores a newly submitted request.
func (r *QueueRepository) Insert(ctx context.Context, request *models.PurchaseRequest) error {
	if request.Status == "" {
		request.Status = models.StatusPending
	}
	if request.SubmittedAt.IsZero() {
		request.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO purchase_requests
	(transaction_id, requester, request_type, department, division, amount, description, channel, status, submitted_at, decided_at, decided_by, source_ref)
	VALUES (:transaction_id, :requester, :request_type, :department, :division, :amount, :description, :channel, :status, :submitted_at, :decided_at, :decided_by, :source_ref)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("insert purchase request: %w", err)
	}
	return nil
}

// GetByTransactionID looks a request up across both queues.
func (r *QueueRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM purchase_requests WHERE transaction_id = $1 LIMIT 1`
	var request models.PurchaseRequest
	if err := r.db.GetContext(ctx, &request, query, transactionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get purchase request: %w", err)
	}
	return &request, nil
}

// List returns requests matching the filter, oldest first.
func (r *QueueRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.PurchaseRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(`SELECT ` + requestColumns + ` FROM purchase_requests`)

	conditions := make([]string, 0, 4)
	if filter.Requester != "" {
		args = append(args, filter.Requester)
		conditions = append(conditions, fmt.Sprintf("requester = $%d", len(args)))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conditions = append(conditions, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.RequestType != "" {
		args = append(args, filter.RequestType)
		conditions = append(conditions, fmt.Sprintf("request_type = $%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("submitted_at >= $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at ASC")

	var requests []models.PurchaseRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list purchase requests: %w", err)
	}
	return requests, nil
}

// ListTransactionIDs returns every identifier carrying the prefix, for the
// max-scan identifier generator.
func (r *QueueRepository) ListTransactionIDs(ctx context.Context, prefix string) ([]string, error) {
	const query = `SELECT transaction_id FROM purchase_requests WHERE transaction_id LIKE $1`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, prefix+"%"); err != nil {
		return nil, fmt.Errorf("list transaction ids: %w", err)
	}
	return ids, nil
}

// UpdateDecision persists a status transition in a single row write,
// guarded on the expected current status so the second of two concurrent
// deciders observes zero rows and fails.
func (r *QueueRepository) UpdateDecision(ctx context.Context, transactionID string, from, to models.RequestStatus, decidedBy string, decidedAt time.Time) error {
	const query = `UPDATE purchase_requests
	SET status = $3, decided_by = $4, decided_at = $5
	WHERE transaction_id = $1 AND status = $2`
	result, err := r.db.ExecContext(ctx, query, transactionID, from, to, decidedBy, decidedAt)
	if err != nil {
		return fmt.Errorf("update request decision: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check decision update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
