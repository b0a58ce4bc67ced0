package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/models"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
	"github.com/noah-isme/procurement-api/pkg/export"
	"github.com/noah-isme/procurement-api/pkg/locker"
)

// invoiceBatchLockName serializes batch runs so invoice identifier scans
// never race each other.
const invoiceBatchLockName = "invoice-batch"

// externalScope is the scope stamped on cross-division external passes.
const externalScope = "EXT"

type invoiceLedgerStore interface {
	ListUndocumented(ctx context.Context, requestType string) ([]models.LedgerEntry, error)
	ListDocumentedOn(ctx context.Context, day time.Time, prefix string) ([]models.LedgerEntry, error)
	ListInvoiceIDs(ctx context.Context, prefix string) ([]string, error)
	MarkDocumented(ctx context.Context, transactionIDs []string, invoiceID, location string, documentedAt time.Time) error
}

type invoiceRenderer interface {
	Render(doc export.InvoiceDocument) ([]byte, error)
}

type documentStore interface {
	Save(fiscalYear, filename string, data []byte) (string, error)
}

// InvoiceService groups undocumented ledger entries into per-division
// invoices and runs the same-day external aggregation pass.
type InvoiceService struct {
	ledger      invoiceLedgerStore
	identifiers *IdentifierService
	renderer    invoiceRenderer
	store       documentStore
	locks       AdvisoryLocker
	audit       workflowAuditLogger
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewInvoiceService constructs the service.
func NewInvoiceService(ledger invoiceLedgerStore, identifiers *IdentifierService, renderer invoiceRenderer, store documentStore, locks AdvisoryLocker, audit workflowAuditLogger, metrics *MetricsService, logger *zap.Logger) *InvoiceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetricsService()
	}
	return &InvoiceService{
		ledger:      ledger,
		identifiers: identifiers,
		renderer:    renderer,
		store:       store,
		locks:       locks,
		audit:       audit,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// RunBatch documents every undocumented ledger entry for the request
// type, one invoice per division. A division whose render or save fails
// is skipped and reported; its entries stay undocumented, so the next
// run picks them up again. Already-documented entries are never scanned,
// which makes the run idempotent.
func (s *InvoiceService) RunBatch(ctx context.Context, requestType string) (*models.InvoiceBatchResult, error) {
	start := time.Now()
	lease, err := s.locks.Acquire(ctx, invoiceBatchLockName)
	if err != nil {
		if errors.Is(err, locker.ErrTimeout) {
			return nil, appErrors.ErrLockTimeout
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire batch lock")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger.Warn("failed to release batch lock", zap.Error(err))
		}
	}()

	runAt := s.now()
	result := &models.InvoiceBatchResult{RequestType: requestType, RanAt: runAt}

	entries, err := s.ledger.ListUndocumented(ctx, requestType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan ledger")
	}
	if len(entries) == 0 {
		s.metrics.ObserveBatch(time.Since(start), 0)
		return result, nil
	}

	prefix := TypePrefix(requestType)
	existing, err := s.ledger.ListInvoiceIDs(ctx, prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan invoice identifiers")
	}

	for _, division := range divisionOrder(entries) {
		group := filterByDivision(entries, division)
		invoice, err := s.documentGroup(ctx, prefix, requestType, division, group, existing, runAt)
		if err != nil {
			s.logger.Error("invoice generation failed for division, entries left undocumented",
				zap.String("request_type", requestType),
				zap.String("division", division), zap.Error(err))
			result.Failed = append(result.Failed, division)
			continue
		}
		existing = append(existing, invoice.ID)
		result.Invoices = append(result.Invoices, *invoice)
		result.Generated++
	}

	s.metrics.ObserveBatch(time.Since(start), result.Generated)
	s.emitAudit(ctx, models.AuditActionInvoiceBatch, requestType, result)
	return result, nil
}

// documentGroup renders, stores and marks one division's invoice. The
// ledger flip is last: a crash before it leaves the entries undocumented
// rather than documented-but-missing.
func (s *InvoiceService) documentGroup(ctx context.Context, prefix, requestType, division string, group []models.LedgerEntry, existing []string, runAt time.Time) (*models.Invoice, error) {
	invoiceID := s.identifiers.NextInvoiceID(prefix, division, runAt, existing)

	doc := export.InvoiceDocument{
		InvoiceID:   invoiceID,
		RequestType: requestType,
		Scope:       division,
		GeneratedAt: runAt,
	}
	transactionIDs := make([]string, 0, len(group))
	for _, entry := range group {
		doc.Lines = append(doc.Lines, export.InvoiceLine{
			TransactionID: entry.TransactionID,
			OrderID:       entry.OrderID,
			Requester:     entry.Requester,
			Description:   entry.Description,
			Amount:        entry.Amount,
		})
		doc.Total += entry.Amount
		transactionIDs = append(transactionIDs, entry.TransactionID)
	}

	data, err := s.renderer.Render(doc)
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", invoiceID, err)
	}
	location, err := s.store.Save(models.FiscalYearOf(runAt), invoiceID+".pdf", data)
	if err != nil {
		return nil, fmt.Errorf("store invoice %s: %w", invoiceID, err)
	}
	if err := s.ledger.MarkDocumented(ctx, transactionIDs, invoiceID, location, runAt); err != nil {
		return nil, fmt.Errorf("mark documented %s: %w", invoiceID, err)
	}

	return &models.Invoice{
		ID:           invoiceID,
		RequestType:  requestType,
		Scope:        division,
		Transactions: transactionIDs,
		Total:        doc.Total,
		Location:     location,
		GeneratedAt:  runAt,
	}, nil
}

// ExternalPass aggregates every entry documented today under the prefix
// into a single cross-division document for an outside recipient. It
// reads the ledger only; documented state never changes here. Because the
// external id is never persisted, a same-day re-run reproduces the same
// id and overwrites the stored file with a document regenerated from the
// current ledger state.
func (s *InvoiceService) ExternalPass(ctx context.Context, req dto.ExternalPassRequest) (*models.Invoice, error) {
	runAt := s.now()
	entries, err := s.ledger.ListDocumentedOn(ctx, runAt, req.Prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan ledger")
	}
	if len(entries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound,
			fmt.Sprintf("no entries documented today under prefix %s", req.Prefix))
	}

	existing, err := s.ledger.ListInvoiceIDs(ctx, req.Prefix)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to scan invoice identifiers")
	}
	invoiceID := s.identifiers.NextInvoiceID(req.Prefix, externalScope, runAt, existing)

	doc := export.InvoiceDocument{
		InvoiceID:   invoiceID,
		RequestType: req.Prefix,
		Scope:       externalScope,
		GeneratedAt: runAt,
	}
	invoice := &models.Invoice{
		ID:          invoiceID,
		RequestType: req.Prefix,
		Scope:       externalScope,
		GeneratedAt: runAt,
	}
	for _, entry := range entries {
		doc.Lines = append(doc.Lines, export.InvoiceLine{
			TransactionID: entry.TransactionID,
			OrderID:       entry.OrderID,
			Requester:     entry.Requester,
			Description:   entry.Description,
			Amount:        entry.Amount,
		})
		doc.Total += entry.Amount
		invoice.Transactions = append(invoice.Transactions, entry.TransactionID)
	}
	invoice.Total = doc.Total

	data, err := s.renderer.Render(doc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render external document")
	}
	location, err := s.store.Save(models.FiscalYearOf(runAt), invoiceID+".pdf", data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store external document")
	}
	invoice.Location = location

	s.logger.Info("external pass generated",
		zap.String("invoice_id", invoiceID),
		zap.String("recipient", req.Recipient),
		zap.Int("entries", len(entries)))
	return invoice, nil
}

func (s *InvoiceService) emitAudit(ctx context.Context, action, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(payload)
	log := &models.AuditLog{
		Action:     action,
		Resource:   "invoice_batch",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "invoice-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// divisionOrder returns the distinct divisions in deterministic order.
func divisionOrder(entries []models.LedgerEntry) []string {
	seen := make(map[string]bool)
	divisions := make([]string, 0)
	for _, entry := range entries {
		if !seen[entry.Division] {
			seen[entry.Division] = true
			divisions = append(divisions, entry.Division)
		}
	}
	sort.Strings(divisions)
	return divisions
}

func filterByDivision(entries []models.LedgerEntry, division string) []models.LedgerEntry {
	group := make([]models.LedgerEntry, 0)
	for _, entry := range entries {
		if entry.Division == division {
			group = append(group, entry)
		}
	}
	return group
}
