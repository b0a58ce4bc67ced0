package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type transactionIDSource interface {
	ListTransactionIDs(ctx context.Context, prefix string) ([]string, error)
}

type orderIDSource interface {
	ListOrderIDs(ctx context.Context, prefix string) ([]string, error)
}

// IdentifierService derives the next collision-free identifier in each
// sequence by scanning existing identifiers and taking max+1. There is no
// persisted counter: correctness depends on the caller holding the
// advisory lock across the full scan-then-persist window.
type IdentifierService struct {
	queue  transactionIDSource
	ledger orderIDSource
	logger *zap.Logger
	now    func() time.Time
}

// NewIdentifierService constructs the service.
func NewIdentifierService(queue transactionIDSource, ledger orderIDSource, logger *zap.Logger) *IdentifierService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentifierService{queue: queue, ledger: ledger, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// NextTransactionID returns the next identifier for a request-type prefix,
// zero-padded to four digits: SUP-0001, SUP-0002, ...
// If the backing scan fails the service falls back to a timestamp-derived
// identifier, trading strict uniqueness for availability.
func (s *IdentifierService) NextTransactionID(ctx context.Context, typePrefix string) string {
	prefix := typePrefix + "-"
	ids, err := s.queue.ListTransactionIDs(ctx, prefix)
	if err != nil {
		s.logger.Warn("transaction id scan failed, degrading to timestamp identifier",
			zap.String("prefix", typePrefix), zap.Error(err))
		return fmt.Sprintf("%s-T%d", typePrefix, s.now().UnixNano())
	}
	next := maxNumericSuffix(ids, prefix) + 1
	return fmt.Sprintf("%s-%04d", typePrefix, next)
}

// NextOrderID returns the next order identifier for a division and type on
// the given date, embedding the MMDD calendar component:
// US-SUP-0211, then US-SUP-0211-02 for the second of the day.
func (s *IdentifierService) NextOrderID(ctx context.Context, divisionCode, typeCode string, date time.Time) string {
	base := fmt.Sprintf("%s-%s-%s", divisionCode, typeCode, date.Format("0102"))
	ids, err := s.ledger.ListOrderIDs(ctx, base)
	if err != nil {
		s.logger.Warn("order id scan failed, degrading to timestamp identifier",
			zap.String("base", base), zap.Error(err))
		return fmt.Sprintf("%s-T%d", base, s.now().UnixNano())
	}
	return withDailySuffix(base, ids)
}

// NextInvoiceID returns the next invoice identifier for a type prefix and
// scope on the given date. The caller supplies the existing identifiers,
// already scanned under the lock, so the same-day "-02" suffix detection
// and the persist that follows see one consistent snapshot.
func (s *IdentifierService) NextInvoiceID(typePrefix, scope string, date time.Time, existing []string) string {
	base := fmt.Sprintf("%s-%s-%s", typePrefix, scope, date.Format("0102"))
	return withDailySuffix(base, existing)
}

// withDailySuffix returns base when unused, otherwise base-NN with NN
// starting at 02: the first identifier of the day carries no suffix.
func withDailySuffix(base string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		taken[id] = struct{}{}
	}
	if _, ok := taken[base]; !ok {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%02d", base, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// maxNumericSuffix parses the trailing numeric component of each matching
// identifier and returns the maximum, ignoring timestamp-fallback ids and
// anything malformed.
func maxNumericSuffix(ids []string, prefix string) int {
	max := 0
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(id, prefix)
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}
