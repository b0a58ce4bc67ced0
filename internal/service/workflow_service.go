package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/pkg/config"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
	"github.com/noah-isme/procurement-api/pkg/locker"
)

// workflowLockName serializes every read-modify-write sequence that must
// appear atomic: decisions and identifier scan-then-persist windows.
const workflowLockName = "budget-workflow"

// Lease is a held advisory lock.
type Lease interface {
	Release(ctx context.Context) error
}

// AdvisoryLocker acquires the named process-wide mutex with a bounded
// wait.
type AdvisoryLocker interface {
	Acquire(ctx context.Context, name string) (Lease, error)
}

// NewRedisLocker adapts the redis-backed locker to the AdvisoryLocker
// interface.
func NewRedisLocker(l *locker.Locker) AdvisoryLocker {
	return redisLockerAdapter{l: l}
}

type redisLockerAdapter struct {
	l *locker.Locker
}

func (a redisLockerAdapter) Acquire(ctx context.Context, name string) (Lease, error) {
	lease, err := a.l.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

type workflowQueueStore interface {
	Insert(ctx context.Context, request *models.PurchaseRequest) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseRequest, error)
	UpdateDecision(ctx context.Context, transactionID string, from, to models.RequestStatus, decidedBy string, decidedAt time.Time) error
}

type workflowLedgerStore interface {
	Insert(ctx context.Context, entry *models.LedgerEntry) error
}

type workflowAuditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// WorkflowService drives each purchase request from submission through
// its terminal state, gated by the budget account and the velocity
// limiter and serialized by the advisory lock.
type WorkflowService struct {
	queue       workflowQueueStore
	ledger      workflowLedgerStore
	accounts    *AccountService
	encumbrance *EncumbranceService
	velocity    *VelocityService
	identifiers *IdentifierService
	locks       AdvisoryLocker
	notifier    Notifier
	audit       workflowAuditLogger
	metrics     *MetricsService
	cfg         config.BudgetConfig
	logger      *zap.Logger
	now         func() time.Time
}

// WorkflowDeps groups the service's collaborators.
type WorkflowDeps struct {
	Queue       workflowQueueStore
	Ledger      workflowLedgerStore
	Accounts    *AccountService
	Encumbrance *EncumbranceService
	Velocity    *VelocityService
	Identifiers *IdentifierService
	Locks       AdvisoryLocker
	Notifier    Notifier
	Audit       workflowAuditLogger
	Metrics     *MetricsService
}

// NewWorkflowService constructs the service.
func NewWorkflowService(deps WorkflowDeps, cfg config.BudgetConfig, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		queue:       deps.Queue,
		ledger:      deps.Ledger,
		accounts:    deps.Accounts,
		encumbrance: deps.Encumbrance,
		velocity:    deps.Velocity,
		identifiers: deps.Identifiers,
		locks:       deps.Locks,
		notifier:    deps.Notifier,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if svc.notifier == nil {
		svc.notifier = NewLogNotifier(logger)
	}
	if svc.metrics == nil {
		svc.metrics = NewMetricsService()
	}
	return svc
}

// TypePrefix derives the identifier prefix from a request type:
// "SUPPLIES" -> "SUP".
func TypePrefix(requestType string) string {
	cleaned := strings.ToUpper(strings.TrimSpace(requestType))
	if len(cleaned) > 3 {
		cleaned = cleaned[:3]
	}
	return cleaned
}

// Submit creates a PENDING queue entry, folds its amount into the
// requester's encumbrance, and evaluates auto-approval. The identifier
// scan, the insert, and any auto-approval transition all happen under one
// lock hold.
func (s *WorkflowService) Submit(ctx context.Context, req dto.SubmitRequest) (*dto.SubmitResult, error) {
	lease, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(lease)

	// Velocity is measured against what was already in the queue before
	// this request exists as a row of its own.
	withinVelocity := s.velocity.Check(ctx, req.Requester, req.Amount).Allowed

	request := &models.PurchaseRequest{
		TransactionID: s.identifiers.NextTransactionID(ctx, TypePrefix(req.RequestType)),
		Requester:     req.Requester,
		RequestType:   req.RequestType,
		Department:    req.Department,
		Division:      req.Division,
		Amount:        req.Amount,
		Description:   req.Description,
		Channel:       req.Channel,
		Status:        models.StatusPending,
		SubmittedAt:   s.now(),
	}
	if req.SourceRef != "" {
		request.SourceRef = &req.SourceRef
	}
	if err := s.queue.Insert(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store request")
	}

	// Without a fresh snapshot the auto-approval gate cannot trust the
	// stored available figure, so a failed recompute routes to a human.
	// The entry itself is durable; the next sweep heals the snapshot.
	snapshotFresh := true
	if _, err := s.encumbrance.Compute(ctx, req.Requester); err != nil {
		snapshotFresh = false
		s.logger.Warn("post-submit encumbrance recompute failed, routing to manual review",
			zap.String("transaction_id", request.TransactionID), zap.Error(err))
	}

	account, err := s.accounts.Get(ctx, req.Requester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load budget account")
	}
	approver := s.accounts.ApproverFor(account)

	s.emitAudit(ctx, req.Requester, models.AuditActionRequestSubmit, request.TransactionID, request)

	if withinVelocity && snapshotFresh && s.autoApprovable(account, req.Amount) {
		if err := s.queue.UpdateDecision(ctx, request.TransactionID, models.StatusPending, models.StatusApproved, approver, s.now()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to auto-approve request")
		}
		request.Status = models.StatusApproved
		s.finalizeApproval(ctx, request, approver)
		s.metrics.ObserveDecision("auto_approved")
		s.notify(ctx, models.EventRequestAutoApproved, request, map[string]string{"approver": approver})
		return &dto.SubmitResult{
			TransactionID: request.TransactionID,
			Status:        models.StatusApproved,
			AutoApproved:  true,
		}, nil
	}

	s.notify(ctx, models.EventRequestNeedsReview, request, map[string]string{"approver": approver})
	s.notify(ctx, models.EventRequestSubmitted, request, nil)
	return &dto.SubmitResult{
		TransactionID: request.TransactionID,
		Status:        models.StatusPending,
		RoutedTo:      approver,
	}, nil
}

// Get returns one queue entry by its transaction identifier.
func (s *WorkflowService) Get(ctx context.Context, transactionID string) (*models.PurchaseRequest, error) {
	request, err := s.queue.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("transaction %s not found", transactionID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

// autoApprovable applies the policy gate: active account, below the
// threshold, and within the fresh available figure.
func (s *WorkflowService) autoApprovable(account *models.BudgetAccount, amount float64) bool {
	if !account.Active {
		return false
	}
	if amount >= s.cfg.AutoApprovalLimit {
		return false
	}
	// The snapshot already folds this request's own hold into encumbered,
	// so a negative available means the account cannot absorb it.
	return account.Available >= 0
}

// Decide applies an approver's verdict. Lock timeout, not-found, already
// processed, insufficient funds and not-authorized are reported, never
// retried: the caller resubmits a fresh decision.
func (s *WorkflowService) Decide(ctx context.Context, transactionID string, actor *models.JWTClaims, decision string) (*dto.DecisionResult, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	target, err := decisionTarget(decision)
	if err != nil {
		return nil, err
	}

	lease, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer s.releaseLock(lease)

	request, err := s.queue.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("transaction %s not found", transactionID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed,
			fmt.Sprintf("transaction %s already %s", transactionID, strings.ToLower(string(request.Status))))
	}
	if !models.CanTransition(request.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrConflict,
			fmt.Sprintf("illegal transition %s -> %s", request.Status, target))
	}

	// Recompute under the lock before trusting the snapshot: a tolerated
	// post-submit recompute failure can leave the stored figures stale.
	if _, err := s.encumbrance.Compute(ctx, request.Requester); err != nil {
		s.metrics.ObserveDecision("failed")
		return nil, appErrors.Wrap(err, appErrors.ErrScanFailure.Code, appErrors.ErrScanFailure.Status,
			"failed to refresh encumbrance before decision")
	}

	// Fresh account read; never a cached figure.
	account, err := s.accounts.Get(ctx, request.Requester)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load budget account")
	}
	// The PENDING hold is already inside the snapshot's encumbered figure,
	// so add it back before comparing: approval converts the hold to spend
	// without changing available.
	available := account.Available + request.Amount
	if target == models.StatusApproved && request.Amount > available {
		s.metrics.ObserveDecision("failed")
		return nil, appErrors.Clone(appErrors.ErrInsufficientFunds,
			fmt.Sprintf("insufficient funds: requested %.2f, available %.2f", request.Amount, available))
	}

	if !s.actorAuthorized(actor, account, request) {
		return nil, appErrors.ErrNotAuthorized
	}

	decidedAt := s.now()
	if err := s.queue.UpdateDecision(ctx, transactionID, models.StatusPending, target, actor.Email, decidedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyProcessed, "request already processed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist decision")
	}
	request.Status = target
	request.DecidedAt = &decidedAt
	actorEmail := actor.Email
	request.DecidedBy = &actorEmail

	// Past here the status is durable. Downstream effects that fail are
	// logged for manual reconciliation, never rolled back.
	switch target {
	case models.StatusApproved:
		s.finalizeApproval(ctx, request, actor.Email)
		s.metrics.ObserveDecision("approved")
		s.notify(ctx, models.EventRequestApproved, request, map[string]string{"approver": actor.Email})
	case models.StatusRejected:
		if _, err := s.encumbrance.Compute(ctx, request.Requester); err != nil {
			s.logger.Error("CRITICAL: hold release recompute failed after durable reject, manual reconciliation required",
				zap.String("transaction_id", transactionID), zap.Error(err))
		}
		s.metrics.ObserveDecision("rejected")
		metadata := map[string]string{"approver": actor.Email}
		if request.Channel == models.ChannelAutomated {
			metadata["resubmission"] = "eligible"
		}
		s.notify(ctx, models.EventRequestRejected, request, metadata)
	}

	s.emitAudit(ctx, actor.Email, models.AuditActionRequestDecide, transactionID, map[string]interface{}{
		"decision": decision,
		"status":   request.Status,
	})

	account, err = s.accounts.Get(ctx, request.Requester)
	if err != nil {
		s.logger.Warn("failed to reload account for decision result", zap.Error(err))
		account = &models.BudgetAccount{}
	}
	return &dto.DecisionResult{
		TransactionID: transactionID,
		Status:        request.Status,
		DecidedBy:     actor.Email,
		Available:     account.Available,
	}, nil
}

// finalizeApproval books spend, refreshes the encumbrance snapshot (the
// flipped status drops this entry out of the PENDING sum), and
// appends the ledger entry for manually-routed requests. Automated-channel
// entries are left for the external fulfillment sweep. Failures here land
// after the durable status write and are logged as critical.
func (s *WorkflowService) finalizeApproval(ctx context.Context, request *models.PurchaseRequest, approver string) {
	if err := s.accounts.BookSpend(ctx, request.Requester, request.Amount); err != nil {
		s.logger.Error("CRITICAL: spend booking failed after durable approval, manual reconciliation required",
			zap.String("transaction_id", request.TransactionID),
			zap.Float64("amount", request.Amount), zap.Error(err))
	}
	if _, err := s.encumbrance.Compute(ctx, request.Requester); err != nil {
		s.logger.Error("CRITICAL: encumbrance recompute failed after durable approval, manual reconciliation required",
			zap.String("transaction_id", request.TransactionID), zap.Error(err))
	}
	if request.Channel != models.ChannelManual {
		return
	}
	processedAt := s.now()
	entry := &models.LedgerEntry{
		TransactionID: request.TransactionID,
		OrderID:       s.identifiers.NextOrderID(ctx, request.Division, TypePrefix(request.RequestType), processedAt),
		ProcessedAt:   processedAt,
		Requester:     request.Requester,
		Approver:      approver,
		Department:    request.Department,
		Division:      request.Division,
		RequestType:   request.RequestType,
		Amount:        request.Amount,
		Description:   request.Description,
		FiscalYear:    models.FiscalYearOf(processedAt),
	}
	if err := s.ledger.Insert(ctx, entry); err != nil {
		s.logger.Error("CRITICAL: ledger append failed after durable approval, manual reconciliation required",
			zap.String("transaction_id", request.TransactionID),
			zap.String("order_id", entry.OrderID), zap.Error(err))
	}
}

// actorAuthorized checks decision authority: the on-file approver, the
// fallback business-office identity, a configured division override, or
// an admin/business-office role.
func (s *WorkflowService) actorAuthorized(actor *models.JWTClaims, account *models.BudgetAccount, request *models.PurchaseRequest) bool {
	if actor.Role == models.RoleAdmin || actor.Role == models.RoleBusinessOffice {
		return true
	}
	approver := s.accounts.ApproverFor(account)
	if strings.EqualFold(actor.Email, approver) {
		return true
	}
	if strings.EqualFold(actor.Email, s.cfg.FallbackApprover) {
		return true
	}
	if override, ok := s.cfg.DivisionApprovers[request.Division]; ok && strings.EqualFold(actor.Email, override) {
		return true
	}
	return false
}

func (s *WorkflowService) acquireLock(ctx context.Context) (Lease, error) {
	start := time.Now()
	lease, err := s.locks.Acquire(ctx, workflowLockName)
	timedOut := errors.Is(err, locker.ErrTimeout)
	s.metrics.ObserveLockWait(time.Since(start), timedOut)
	if err != nil {
		if timedOut {
			return nil, appErrors.ErrLockTimeout
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire workflow lock")
	}
	return lease, nil
}

// releaseLock runs from defers with a background context so a canceled
// request context cannot leave the lock held until TTL expiry.
func (s *WorkflowService) releaseLock(lease Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lease.Release(ctx); err != nil {
		s.logger.Warn("failed to release workflow lock", zap.Error(err))
	}
}

func (s *WorkflowService) notify(ctx context.Context, eventType models.EventType, request *models.PurchaseRequest, metadata map[string]string) {
	event := models.Event{
		Type:          eventType,
		Requester:     request.Requester,
		TransactionID: request.TransactionID,
		Amount:        request.Amount,
		Metadata:      metadata,
		OccurredAt:    s.now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Error("CRITICAL: notification dispatch failed after durable transition, manual reconciliation required",
			zap.String("transaction_id", request.TransactionID),
			zap.String("event", string(eventType)), zap.Error(err))
	}
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor, action, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	values, _ := json.Marshal(payload)
	log := &models.AuditLog{
		UserID:     &actor,
		Action:     action,
		Resource:   "purchase_request",
		ResourceID: &resourceID,
		NewValues:  values,
		IPAddress:  "system",
		UserAgent:  "workflow-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func decisionTarget(decision string) (models.RequestStatus, error) {
	switch strings.ToLower(strings.TrimSpace(decision)) {
	case "approve":
		return models.StatusApproved, nil
	case "reject":
		return models.StatusRejected, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "decision must be approve or reject")
	}
}
