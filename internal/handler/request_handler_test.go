package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/middleware"
	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/internal/service"
	"github.com/noah-isme/procurement-api/pkg/config"
)

type memQueue struct {
	requests map[string]*models.PurchaseRequest
}

func newMemQueue() *memQueue {
	return &memQueue{requests: make(map[string]*models.PurchaseRequest)}
}

func (q *memQueue) Insert(_ context.Context, request *models.PurchaseRequest) error {
	clone := *request
	q.requests[request.TransactionID] = &clone
	return nil
}

func (q *memQueue) GetByTransactionID(_ context.Context, transactionID string) (*models.PurchaseRequest, error) {
	request, ok := q.requests[transactionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *request
	return &clone, nil
}

func (q *memQueue) UpdateDecision(_ context.Context, transactionID string, from, to models.RequestStatus, decidedBy string, decidedAt time.Time) error {
	request, ok := q.requests[transactionID]
	if !ok || request.Status != from {
		return sql.ErrNoRows
	}
	request.Status = to
	request.DecidedBy = &decidedBy
	request.DecidedAt = &decidedAt
	return nil
}

func (q *memQueue) List(_ context.Context, filter models.RequestFilter) ([]models.PurchaseRequest, error) {
	matches := make([]models.PurchaseRequest, 0)
	for _, request := range q.requests {
		if filter.Requester != "" && request.Requester != filter.Requester {
			continue
		}
		if filter.Channel != "" && request.Channel != filter.Channel {
			continue
		}
		if len(filter.Statuses) > 0 {
			found := false
			for _, status := range filter.Statuses {
				if request.Status == status {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		matches = append(matches, *request)
	}
	return matches, nil
}

func (q *memQueue) ListTransactionIDs(_ context.Context, prefix string) ([]string, error) {
	ids := make([]string, 0)
	for id := range q.requests {
		if len(id) >= len(prefix) && id[:len(prefix)] == prefix {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memAccounts struct {
	accounts map[string]*models.BudgetAccount
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*models.BudgetAccount)}
}

func (m *memAccounts) GetByRequester(_ context.Context, requester string) (*models.BudgetAccount, error) {
	account, ok := m.accounts[requester]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *account
	return &clone, nil
}

func (m *memAccounts) ListActive(context.Context) ([]models.BudgetAccount, error) {
	return nil, nil
}

func (m *memAccounts) Upsert(_ context.Context, account *models.BudgetAccount) error {
	clone := *account
	m.accounts[account.Requester] = &clone
	return nil
}

func (m *memAccounts) UpdateSnapshot(_ context.Context, requester string, encumbered, available, utilization float64) error {
	account, ok := m.accounts[requester]
	if !ok {
		return sql.ErrNoRows
	}
	account.Encumbered = encumbered
	account.Available = available
	account.Utilization = utilization
	return nil
}

func (m *memAccounts) AddSpent(_ context.Context, requester string, amount float64) error {
	account, ok := m.accounts[requester]
	if !ok {
		return sql.ErrNoRows
	}
	account.Spent += amount
	return nil
}

type memLedger struct {
	entries []models.LedgerEntry
}

func (m *memLedger) Insert(_ context.Context, entry *models.LedgerEntry) error {
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memLedger) ListOrderIDs(context.Context, string) ([]string, error) {
	ids := make([]string, 0, len(m.entries))
	for _, entry := range m.entries {
		ids = append(ids, entry.OrderID)
	}
	return ids, nil
}

type memLease struct{}

func (memLease) Release(context.Context) error { return nil }

type memLocker struct{}

func (memLocker) Acquire(context.Context, string) (service.Lease, error) {
	return memLease{}, nil
}

type memAudit struct{}

func (memAudit) CreateAuditLog(context.Context, *models.AuditLog) error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *memQueue, *memAccounts) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, dto.RegisterValidators())

	queue := newMemQueue()
	accounts := newMemAccounts()
	ledger := &memLedger{}
	cfg := config.BudgetConfig{
		AutoApprovalLimit: 200,
		DailyVelocityCap:  500,
		DefaultAllowance:  250,
		FallbackApprover:  "business.office@example.org",
	}

	accountSvc := service.NewAccountService(accounts, cfg, nil)
	encumbranceSvc := service.NewEncumbranceService(queue, accounts, nil, nil)
	velocitySvc := service.NewVelocityService(queue, cfg.DailyVelocityCap, nil)
	identifierSvc := service.NewIdentifierService(queue, ledger, nil)
	workflow := service.NewWorkflowService(service.WorkflowDeps{
		Queue:       queue,
		Ledger:      ledger,
		Accounts:    accountSvc,
		Encumbrance: encumbranceSvc,
		Velocity:    velocitySvc,
		Identifiers: identifierSvc,
		Locks:       memLocker{},
		Audit:       memAudit{},
	}, cfg, nil)

	h := NewRequestHandler(workflow)
	router := gin.New()
	router.POST("/requests", h.Submit)
	router.GET("/requests/:txnId", h.Get)
	router.POST("/requests/:txnId/decision", func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{
			UserID: "u-1",
			Role:   models.RoleBusinessOffice,
			Email:  "business.office@example.org",
		})
		h.Decide(c)
	})
	return router, queue, accounts
}

func performJSON(t *testing.T, router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpointAutoApproves(t *testing.T) {
	router, queue, _ := newTestRouter(t)

	rec := performJSON(t, router, http.MethodPost, "/requests", gin.H{
		"requester":    "pat@example.org",
		"request_type": "SUPPLIES",
		"department":   "Science",
		"division":     "US",
		"amount":       100,
		"channel":      "AUTOMATED",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data struct {
			TransactionID string `json:"transaction_id"`
			Status        string `json:"status"`
			AutoApproved  bool   `json:"auto_approved"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Data.AutoApproved)
	require.Equal(t, "APPROVED", envelope.Data.Status)
	require.Contains(t, queue.requests, envelope.Data.TransactionID)
}

func TestSubmitEndpointRejectsInvalidPayload(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := performJSON(t, router, http.MethodPost, "/requests", gin.H{
		"requester": "not-an-email",
		"amount":    -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEndpointNotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := performJSON(t, router, http.MethodGet, "/requests/SUP-9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDecideEndpointApproves(t *testing.T) {
	router, queue, accounts := newTestRouter(t)

	rec := performJSON(t, router, http.MethodPost, "/requests", gin.H{
		"requester":    "pat@example.org",
		"request_type": "SUPPLIES",
		"department":   "Science",
		"division":     "US",
		"amount":       300,
		"channel":      "MANUAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var envelope struct {
		Data struct {
			TransactionID string `json:"transaction_id"`
			Status        string `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "PENDING", envelope.Data.Status)

	// 300 exceeds the default 250 allowance; seed headroom first.
	account := accounts.accounts["pat@example.org"]
	account.Allocated = 500
	account.Recalculate()
	account.Encumbered = 300
	account.Available = 200

	rec = performJSON(t, router, http.MethodPost, "/requests/"+envelope.Data.TransactionID+"/decision", gin.H{
		"decision": "approve",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.StatusApproved, queue.requests[envelope.Data.TransactionID].Status)
}

func TestDecideEndpointConflictOnSecondDecision(t *testing.T) {
	router, queue, _ := newTestRouter(t)

	queue.requests["SUP-0001"] = &models.PurchaseRequest{
		TransactionID: "SUP-0001",
		Requester:     "pat@example.org",
		RequestType:   "SUPPLIES",
		Division:      "US",
		Amount:        40,
		Channel:       models.ChannelManual,
		Status:        models.StatusRejected,
		SubmittedAt:   time.Now().UTC(),
	}

	rec := performJSON(t, router, http.MethodPost, "/requests/SUP-0001/decision", gin.H{
		"decision": "approve",
	})
	require.Equal(t, http.StatusConflict, rec.Code)
}
