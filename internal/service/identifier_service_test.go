package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/procurement-api/internal/models"
)

func TestNextTransactionIDZeroPadsMaxPlusOne(t *testing.T) {
	queue := newStubQueue()
	for _, id := range []string{"SUP-0001", "SUP-0006", "SUP-0003"} {
		require.NoError(t, queue.Insert(context.Background(), &models.PurchaseRequest{TransactionID: id}))
	}
	svc := NewIdentifierService(queue, &stubLedger{}, nil)

	require.Equal(t, "SUP-0007", svc.NextTransactionID(context.Background(), "SUP"))
}

func TestNextTransactionIDIgnoresMalformedAndFallbackIDs(t *testing.T) {
	queue := newStubQueue()
	for _, id := range []string{"SUP-0002", "SUP-T1707000000000000000", "SUP-abc"} {
		require.NoError(t, queue.Insert(context.Background(), &models.PurchaseRequest{TransactionID: id}))
	}
	svc := NewIdentifierService(queue, &stubLedger{}, nil)

	require.Equal(t, "SUP-0003", svc.NextTransactionID(context.Background(), "SUP"))
}

func TestNextTransactionIDStartsAtOne(t *testing.T) {
	svc := NewIdentifierService(newStubQueue(), &stubLedger{}, nil)
	require.Equal(t, "TEC-0001", svc.NextTransactionID(context.Background(), "TEC"))
}

func TestNextTransactionIDFallsBackOnScanFailure(t *testing.T) {
	queue := newStubQueue()
	queue.scanErr = errors.New("connection refused")
	svc := NewIdentifierService(queue, &stubLedger{}, nil)

	id := svc.NextTransactionID(context.Background(), "SUP")
	require.Contains(t, id, "SUP-T")
}

func TestNextOrderIDAppendsSameDaySuffix(t *testing.T) {
	ledger := &stubLedger{}
	svc := NewIdentifierService(newStubQueue(), ledger, nil)
	date := time.Date(2026, time.February, 11, 10, 0, 0, 0, time.UTC)

	first := svc.NextOrderID(context.Background(), "US", "SUP", date)
	require.Equal(t, "US-SUP-0211", first)

	require.NoError(t, ledger.Insert(context.Background(), &models.LedgerEntry{OrderID: first}))
	second := svc.NextOrderID(context.Background(), "US", "SUP", date)
	require.Equal(t, "US-SUP-0211-02", second)

	require.NoError(t, ledger.Insert(context.Background(), &models.LedgerEntry{OrderID: second}))
	third := svc.NextOrderID(context.Background(), "US", "SUP", date)
	require.Equal(t, "US-SUP-0211-03", third)
}

func TestNextInvoiceIDUsesSuppliedSnapshot(t *testing.T) {
	svc := NewIdentifierService(newStubQueue(), &stubLedger{}, nil)
	date := time.Date(2026, time.February, 11, 10, 0, 0, 0, time.UTC)

	require.Equal(t, "AMZ-US-0211", svc.NextInvoiceID("AMZ", "US", date, nil))
	require.Equal(t, "AMZ-US-0211-02", svc.NextInvoiceID("AMZ", "US", date, []string{"AMZ-US-0211"}))
	require.Equal(t, "AMZ-EU-0211", svc.NextInvoiceID("AMZ", "EU", date, []string{"AMZ-US-0211"}))
}
