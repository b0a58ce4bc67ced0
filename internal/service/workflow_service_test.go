package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/pkg/config"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
	"github.com/noah-isme/procurement-api/pkg/locker"
)

type stubQueue struct {
	requests  map[string]*models.PurchaseRequest
	order     []string
	insertErr error
	listErr   error
	scanErr   error
	// holdScanErr fails only channel-agnostic scans, the shape the
	// encumbrance recompute issues, leaving velocity scans working.
	holdScanErr error
}

func newStubQueue() *stubQueue {
	return &stubQueue{requests: make(map[string]*models.PurchaseRequest)}
}

func (q *stubQueue) Insert(_ context.Context, request *models.PurchaseRequest) error {
	if q.insertErr != nil {
		return q.insertErr
	}
	clone := *request
	q.requests[request.TransactionID] = &clone
	q.order = append(q.order, request.TransactionID)
	return nil
}

func (q *stubQueue) GetByTransactionID(_ context.Context, transactionID string) (*models.PurchaseRequest, error) {
	request, ok := q.requests[transactionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *request
	return &clone, nil
}

func (q *stubQueue) UpdateDecision(_ context.Context, transactionID string, from, to models.RequestStatus, decidedBy string, decidedAt time.Time) error {
	request, ok := q.requests[transactionID]
	if !ok || request.Status != from {
		return sql.ErrNoRows
	}
	request.Status = to
	request.DecidedBy = &decidedBy
	request.DecidedAt = &decidedAt
	return nil
}

func (q *stubQueue) List(_ context.Context, filter models.RequestFilter) ([]models.PurchaseRequest, error) {
	if q.listErr != nil {
		return nil, q.listErr
	}
	if q.holdScanErr != nil && filter.Channel == "" {
		return nil, q.holdScanErr
	}
	matches := make([]models.PurchaseRequest, 0)
	for _, id := range q.order {
		request := q.requests[id]
		if filter.Requester != "" && request.Requester != filter.Requester {
			continue
		}
		if filter.Channel != "" && request.Channel != filter.Channel {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, request.Status) {
			continue
		}
		if !filter.Since.IsZero() && request.SubmittedAt.Before(filter.Since) {
			continue
		}
		matches = append(matches, *request)
	}
	return matches, nil
}

func (q *stubQueue) ListTransactionIDs(_ context.Context, prefix string) ([]string, error) {
	if q.scanErr != nil {
		return nil, q.scanErr
	}
	ids := make([]string, 0)
	for _, id := range q.order {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func containsStatus(statuses []models.RequestStatus, status models.RequestStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type stubAccounts struct {
	accounts map[string]*models.BudgetAccount
}

func newStubAccounts(seed ...*models.BudgetAccount) *stubAccounts {
	s := &stubAccounts{accounts: make(map[string]*models.BudgetAccount)}
	for _, account := range seed {
		s.accounts[account.Requester] = account
	}
	return s
}

func (s *stubAccounts) GetByRequester(_ context.Context, requester string) (*models.BudgetAccount, error) {
	account, ok := s.accounts[requester]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *account
	return &clone, nil
}

func (s *stubAccounts) ListActive(_ context.Context) ([]models.BudgetAccount, error) {
	active := make([]models.BudgetAccount, 0)
	for _, account := range s.accounts {
		if account.Active {
			active = append(active, *account)
		}
	}
	return active, nil
}

func (s *stubAccounts) Upsert(_ context.Context, account *models.BudgetAccount) error {
	clone := *account
	s.accounts[account.Requester] = &clone
	return nil
}

func (s *stubAccounts) UpdateSnapshot(_ context.Context, requester string, encumbered, available, utilization float64) error {
	account, ok := s.accounts[requester]
	if !ok {
		return sql.ErrNoRows
	}
	account.Encumbered = encumbered
	account.Available = available
	account.Utilization = utilization
	return nil
}

func (s *stubAccounts) AddSpent(_ context.Context, requester string, amount float64) error {
	account, ok := s.accounts[requester]
	if !ok {
		return sql.ErrNoRows
	}
	account.Spent += amount
	return nil
}

type stubLedger struct {
	entries   []models.LedgerEntry
	insertErr error
}

func (l *stubLedger) Insert(_ context.Context, entry *models.LedgerEntry) error {
	if l.insertErr != nil {
		return l.insertErr
	}
	l.entries = append(l.entries, *entry)
	return nil
}

func (l *stubLedger) ListOrderIDs(_ context.Context, prefix string) ([]string, error) {
	ids := make([]string, 0)
	for _, entry := range l.entries {
		if len(entry.OrderID) >= len(prefix) && entry.OrderID[:len(prefix)] == prefix {
			ids = append(ids, entry.OrderID)
		}
	}
	return ids, nil
}

type stubLease struct {
	released bool
}

func (l *stubLease) Release(context.Context) error {
	l.released = true
	return nil
}

type stubLocker struct {
	acquireErr error
	leases     []*stubLease
}

func (s *stubLocker) Acquire(context.Context, string) (Lease, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	lease := &stubLease{}
	s.leases = append(s.leases, lease)
	return lease, nil
}

func (s *stubLocker) allReleased() bool {
	for _, lease := range s.leases {
		if !lease.released {
			return false
		}
	}
	return true
}

type stubAudit struct {
	logs []models.AuditLog
}

func (s *stubAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.logs = append(s.logs, *log)
	return nil
}

type recordingNotifier struct {
	events []models.Event
}

func (r *recordingNotifier) Notify(_ context.Context, event models.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) types() []models.EventType {
	types := make([]models.EventType, 0, len(r.events))
	for _, event := range r.events {
		types = append(types, event.Type)
	}
	return types
}

type workflowFixture struct {
	svc      *WorkflowService
	queue    *stubQueue
	accounts *stubAccounts
	ledger   *stubLedger
	locks    *stubLocker
	notifier *recordingNotifier
	audit    *stubAudit
}

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		AutoApprovalLimit: 200,
		DailyVelocityCap:  500,
		DefaultAllowance:  250,
		FallbackApprover:  "business.office@example.org",
		DivisionApprovers: map[string]string{"EU": "eu.lead@example.org"},
	}
}

func newWorkflowFixture(t *testing.T, seed ...*models.BudgetAccount) *workflowFixture {
	t.Helper()
	queue := newStubQueue()
	accounts := newStubAccounts(seed...)
	ledger := &stubLedger{}
	locks := &stubLocker{}
	notifier := &recordingNotifier{}
	audit := &stubAudit{}
	cfg := testBudgetConfig()

	accountSvc := NewAccountService(accounts, cfg, nil)
	encumbranceSvc := NewEncumbranceService(queue, accounts, nil, nil)
	velocitySvc := NewVelocityService(queue, cfg.DailyVelocityCap, nil)
	identifierSvc := NewIdentifierService(queue, ledger, nil)

	svc := NewWorkflowService(WorkflowDeps{
		Queue:       queue,
		Ledger:      ledger,
		Accounts:    accountSvc,
		Encumbrance: encumbranceSvc,
		Velocity:    velocitySvc,
		Identifiers: identifierSvc,
		Locks:       locks,
		Notifier:    notifier,
		Audit:       audit,
	}, cfg, nil)

	return &workflowFixture{svc: svc, queue: queue, accounts: accounts, ledger: ledger, locks: locks, notifier: notifier, audit: audit}
}

func seedAccount(requester string, allocated float64, approver string) *models.BudgetAccount {
	account := &models.BudgetAccount{
		Requester: requester,
		Allocated: allocated,
		Approver:  approver,
		Active:    true,
	}
	account.Recalculate()
	return account
}

func submitPayload(amount float64, channel models.RequestChannel) dto.SubmitRequest {
	return dto.SubmitRequest{
		Requester:   "pat@example.org",
		RequestType: "SUPPLIES",
		Department:  "Science",
		Division:    "US",
		Amount:      amount,
		Description: "beakers",
		Channel:     channel,
	}
}

func approverClaims(email string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "u-1", Role: models.RoleApprover, Email: email}
}

func TestSubmitAutoApprovesBelowThreshold(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	result, err := f.svc.Submit(context.Background(), submitPayload(100, models.ChannelAutomated))
	require.NoError(t, err)
	require.True(t, result.AutoApproved)
	require.Equal(t, models.StatusApproved, result.Status)
	require.Equal(t, "SUP-0001", result.TransactionID)

	stored := f.queue.requests[result.TransactionID]
	require.Equal(t, models.StatusApproved, stored.Status)
	require.Equal(t, "chair@example.org", *stored.DecidedBy)

	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 100, account.Spent, 0.001)

	require.Contains(t, f.notifier.types(), models.EventRequestAutoApproved)
	require.True(t, f.locks.allReleased())
}

func TestSubmitRoutesAtOrAboveThreshold(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	result, err := f.svc.Submit(context.Background(), submitPayload(200, models.ChannelManual))
	require.NoError(t, err)
	require.False(t, result.AutoApproved)
	require.Equal(t, models.StatusPending, result.Status)
	require.Equal(t, "chair@example.org", result.RoutedTo)

	require.Contains(t, f.notifier.types(), models.EventRequestNeedsReview)

	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 200, account.Encumbered, 0.001)
	require.InDelta(t, 300, account.Available, 0.001)
}

func TestSubmitVelocityCapForcesManualRouting(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 2000, "chair@example.org"))

	for i := 0; i < 3; i++ {
		result, err := f.svc.Submit(context.Background(), submitPayload(150, models.ChannelAutomated))
		require.NoError(t, err)
		require.True(t, result.AutoApproved)
	}

	// 450 already auto-approved today; one more 150 would breach the 500 cap.
	result, err := f.svc.Submit(context.Background(), submitPayload(150, models.ChannelAutomated))
	require.NoError(t, err)
	require.False(t, result.AutoApproved)
	require.Equal(t, models.StatusPending, result.Status)
}

func TestSubmitUnknownRequesterGetsDefaultAllowance(t *testing.T) {
	f := newWorkflowFixture(t)

	result, err := f.svc.Submit(context.Background(), submitPayload(50, models.ChannelAutomated))
	require.NoError(t, err)
	require.True(t, result.AutoApproved)

	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 250, account.Allocated, 0.001)
	require.Equal(t, "business.office@example.org", account.Approver)
}

func TestDecideApproveAppendsLedgerForManualChannel(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	submitted, err := f.svc.Submit(context.Background(), submitPayload(300, models.ChannelManual))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, submitted.Status)

	result, err := f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "approve")
	require.NoError(t, err)
	require.Equal(t, models.StatusApproved, result.Status)
	require.Equal(t, "chair@example.org", result.DecidedBy)

	require.Len(t, f.ledger.entries, 1)
	entry := f.ledger.entries[0]
	require.Equal(t, submitted.TransactionID, entry.TransactionID)
	require.Contains(t, entry.OrderID, "US-SUP-")
	require.Equal(t, "chair@example.org", entry.Approver)

	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 300, account.Spent, 0.001)
	require.InDelta(t, 0, account.Encumbered, 0.001)
	require.True(t, f.locks.allReleased())
}

func TestDecideRejectReleasesHold(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	submitted, err := f.svc.Submit(context.Background(), submitPayload(300, models.ChannelAutomated))
	require.NoError(t, err)

	result, err := f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "reject")
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, result.Status)

	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 0, account.Encumbered, 0.001)
	require.InDelta(t, 500, account.Available, 0.001)
	require.Empty(t, f.ledger.entries)
	require.Contains(t, f.notifier.types(), models.EventRequestRejected)
}

func TestDecideInsufficientFunds(t *testing.T) {
	account := seedAccount("pat@example.org", 50, "chair@example.org")
	f := newWorkflowFixture(t, account)

	submitted, err := f.svc.Submit(context.Background(), submitPayload(75, models.ChannelManual))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, submitted.Status)

	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "approve")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInsufficientFunds.Code, appErr.Code)
	require.Contains(t, appErr.Message, "requested 75.00, available 50.00")

	stored := f.queue.requests[submitted.TransactionID]
	require.Equal(t, models.StatusPending, stored.Status)
	require.True(t, f.locks.allReleased())
}

func TestDecideSecondDecisionConflicts(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	submitted, err := f.svc.Submit(context.Background(), submitPayload(300, models.ChannelManual))
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "approve")
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "reject")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrAlreadyProcessed.Code, appErrors.FromError(err).Code)
}

func TestDecideUnknownTransaction(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Decide(context.Background(), "SUP-9999", approverClaims("chair@example.org"), "approve")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestDecideRejectsUnauthorizedActor(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	submitted, err := f.svc.Submit(context.Background(), submitPayload(300, models.ChannelManual))
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("stranger@example.org"), "approve")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotAuthorized.Code, appErrors.FromError(err).Code)

	stored := f.queue.requests[submitted.TransactionID]
	require.Equal(t, models.StatusPending, stored.Status)
}

func TestDecideAllowsDivisionOverrideAndFallback(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	payload := submitPayload(300, models.ChannelManual)
	payload.Division = "EU"
	submitted, err := f.svc.Submit(context.Background(), payload)
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("eu.lead@example.org"), "approve")
	require.NoError(t, err)

	second, err := f.svc.Submit(context.Background(), submitPayload(220, models.ChannelManual))
	require.NoError(t, err)
	_, err = f.svc.Decide(context.Background(), second.TransactionID, approverClaims("business.office@example.org"), "reject")
	require.NoError(t, err)
}

func TestDecideLockTimeout(t *testing.T) {
	f := newWorkflowFixture(t)
	f.locks.acquireErr = locker.ErrTimeout

	_, err := f.svc.Decide(context.Background(), "SUP-0001", approverClaims("chair@example.org"), "approve")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrLockTimeout.Code, appErrors.FromError(err).Code)
}

func TestDecideInvalidVerdict(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.svc.Decide(context.Background(), "SUP-0001", approverClaims("chair@example.org"), "defer")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitSurvivesIdentifierScanFailure(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))
	f.queue.scanErr = errors.New("connection reset")

	result, err := f.svc.Submit(context.Background(), submitPayload(100, models.ChannelAutomated))
	require.NoError(t, err)
	require.Contains(t, result.TransactionID, "SUP-T")
}

func TestSubmitRecomputeFailureRoutesToManualReview(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))
	f.queue.holdScanErr = errors.New("connection reset")

	result, err := f.svc.Submit(context.Background(), submitPayload(100, models.ChannelAutomated))
	require.NoError(t, err)
	require.False(t, result.AutoApproved)
	require.Equal(t, models.StatusPending, result.Status)
	require.Equal(t, "chair@example.org", result.RoutedTo)
	require.Contains(t, f.notifier.types(), models.EventRequestNeedsReview)
	require.True(t, f.locks.allReleased())
}

func TestDecideRefreshesStaleSnapshotBeforeFundsGate(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 50, "chair@example.org"))
	f.queue.holdScanErr = errors.New("connection reset")

	submitted, err := f.svc.Submit(context.Background(), submitPayload(75, models.ChannelManual))
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, submitted.Status)

	// The failed recompute left the snapshot without this request's hold.
	account := f.accounts.accounts["pat@example.org"]
	require.InDelta(t, 0, account.Encumbered, 0.001)
	require.InDelta(t, 50, account.Available, 0.001)

	f.queue.holdScanErr = nil
	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "approve")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrInsufficientFunds.Code, appErr.Code)
	require.Contains(t, appErr.Message, "requested 75.00, available 50.00")

	stored := f.queue.requests[submitted.TransactionID]
	require.Equal(t, models.StatusPending, stored.Status)
	require.InDelta(t, 0, f.accounts.accounts["pat@example.org"].Spent, 0.001)
	require.True(t, f.locks.allReleased())
}

func TestDecideFailsSafeWhenRecomputeErrors(t *testing.T) {
	f := newWorkflowFixture(t, seedAccount("pat@example.org", 500, "chair@example.org"))

	submitted, err := f.svc.Submit(context.Background(), submitPayload(300, models.ChannelManual))
	require.NoError(t, err)

	f.queue.holdScanErr = errors.New("connection reset")
	_, err = f.svc.Decide(context.Background(), submitted.TransactionID, approverClaims("chair@example.org"), "approve")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrScanFailure.Code, appErrors.FromError(err).Code)

	stored := f.queue.requests[submitted.TransactionID]
	require.Equal(t, models.StatusPending, stored.Status)
	require.True(t, f.locks.allReleased())
}
