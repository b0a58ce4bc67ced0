package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/procurement-api/internal/models"
)

func TestComputeSumsOnlyPendingHolds(t *testing.T) {
	queue := newStubQueue()
	seed := []struct {
		id     string
		status models.RequestStatus
		amount float64
	}{
		{"SUP-0001", models.StatusPending, 40},
		{"SUP-0002", models.StatusPending, 60},
		{"SUP-0003", models.StatusApproved, 500},
		{"SUP-0004", models.StatusRejected, 999},
		{"SUP-0005", models.StatusVoid, 999},
	}
	for _, s := range seed {
		require.NoError(t, queue.Insert(context.Background(), &models.PurchaseRequest{
			TransactionID: s.id,
			Requester:     "pat@example.org",
			Status:        s.status,
			Amount:        s.amount,
		}))
	}
	accounts := newStubAccounts(seedAccount("pat@example.org", 500, "chair@example.org"))
	svc := NewEncumbranceService(queue, accounts, nil, nil)

	total, err := svc.Compute(context.Background(), "pat@example.org")
	require.NoError(t, err)
	require.InDelta(t, 100, total, 0.001)

	account := accounts.accounts["pat@example.org"]
	require.InDelta(t, 100, account.Encumbered, 0.001)
	require.InDelta(t, 400, account.Available, 0.001)
	require.InDelta(t, 0.2, account.Utilization, 0.001)
}

func TestComputeIsIdempotent(t *testing.T) {
	queue := newStubQueue()
	require.NoError(t, queue.Insert(context.Background(), &models.PurchaseRequest{
		TransactionID: "SUP-0001",
		Requester:     "pat@example.org",
		Status:        models.StatusPending,
		Amount:        75,
	}))
	accounts := newStubAccounts(seedAccount("pat@example.org", 500, "chair@example.org"))
	svc := NewEncumbranceService(queue, accounts, nil, nil)

	first, err := svc.Compute(context.Background(), "pat@example.org")
	require.NoError(t, err)
	second, err := svc.Compute(context.Background(), "pat@example.org")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestComputeWithoutAccountRowReturnsSum(t *testing.T) {
	queue := newStubQueue()
	require.NoError(t, queue.Insert(context.Background(), &models.PurchaseRequest{
		TransactionID: "SUP-0001",
		Requester:     "ghost@example.org",
		Status:        models.StatusPending,
		Amount:        30,
	}))
	svc := NewEncumbranceService(queue, newStubAccounts(), nil, nil)

	total, err := svc.Compute(context.Background(), "ghost@example.org")
	require.NoError(t, err)
	require.InDelta(t, 30, total, 0.001)
}

func TestComputePropagatesScanFailure(t *testing.T) {
	queue := newStubQueue()
	queue.listErr = errors.New("connection reset")
	svc := NewEncumbranceService(queue, newStubAccounts(), nil, nil)

	_, err := svc.Compute(context.Background(), "pat@example.org")
	require.Error(t, err)
}

func TestRecomputeAllSkipsFailuresAndContinues(t *testing.T) {
	queue := newStubQueue()
	accounts := newStubAccounts(
		seedAccount("a@example.org", 500, "chair@example.org"),
		seedAccount("b@example.org", 500, "chair@example.org"),
	)
	svc := NewEncumbranceService(queue, accounts, nil, nil)

	recomputed, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, recomputed)
}
