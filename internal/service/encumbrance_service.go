package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/models"
)

type encumbranceQueueStore interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.PurchaseRequest, error)
}

type encumbranceAccountStore interface {
	GetByRequester(ctx context.Context, requester string) (*models.BudgetAccount, error)
	ListActive(ctx context.Context) ([]models.BudgetAccount, error)
	UpdateSnapshot(ctx context.Context, requester string, encumbered, available, utilization float64) error
}

// EncumbranceService recomputes a requester's outstanding obligation from
// the authoritative queue rows on every call. It deliberately avoids an
// incrementally maintained running total: two writers adding and removing
// holds concurrently without a shared transaction would lose updates, but
// a full recompute always converges on the true sum.
type EncumbranceService struct {
	queue    encumbranceQueueStore
	accounts encumbranceAccountStore
	logger   *zap.Logger
	metrics  *MetricsService
}

// NewEncumbranceService constructs the service.
func NewEncumbranceService(queue encumbranceQueueStore, accounts encumbranceAccountStore, metrics *MetricsService, logger *zap.Logger) *EncumbranceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncumbranceService{queue: queue, accounts: accounts, metrics: metrics, logger: logger}
}

// Compute scans every queue entry belonging to the requester across both
// channels and sums the amounts still holding funds (PENDING entries).
// The recomputed snapshot is persisted back onto the account row.
func (s *EncumbranceService) Compute(ctx context.Context, requester string) (float64, error) {
	entries, err := s.queue.List(ctx, models.RequestFilter{
		Requester: requester,
		Statuses:  []models.RequestStatus{models.StatusPending},
	})
	if err != nil {
		return 0, fmt.Errorf("encumbrance scan for %s: %w", requester, err)
	}

	var total float64
	for _, entry := range entries {
		if entry.Status.HoldsEncumbrance() {
			total += entry.Amount
		}
	}

	account, err := s.accounts.GetByRequester(ctx, requester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// No directory row yet: nothing to snapshot, the sum still stands.
			return total, nil
		}
		return 0, fmt.Errorf("load account for snapshot: %w", err)
	}

	account.Encumbered = total
	account.Recalculate()
	if err := s.accounts.UpdateSnapshot(ctx, requester, account.Encumbered, account.Available, account.Utilization); err != nil {
		return 0, fmt.Errorf("persist encumbrance snapshot: %w", err)
	}
	return total, nil
}

// RecomputeAll sweeps every active account, healing any whose real-time
// recompute was skipped by a transient failure. Idempotent and safe to
// re-run; per-account failures are logged and do not stop the sweep.
func (s *EncumbranceService) RecomputeAll(ctx context.Context) (int, error) {
	start := time.Now()
	accounts, err := s.accounts.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts for sweep: %w", err)
	}

	recomputed := 0
	for _, account := range accounts {
		if _, err := s.Compute(ctx, account.Requester); err != nil {
			s.logger.Warn("encumbrance recompute failed, account left to next sweep",
				zap.String("requester", account.Requester), zap.Error(err))
			continue
		}
		recomputed++
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep(time.Since(start))
	}
	s.logger.Info("encumbrance sweep finished",
		zap.Int("accounts", len(accounts)), zap.Int("recomputed", recomputed))
	return recomputed, nil
}
