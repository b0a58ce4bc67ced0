package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/dto"
	"github.com/noah-isme/procurement-api/internal/models"
)

type velocityQueueStore interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.PurchaseRequest, error)
}

// VelocityService caps the sum of same-day auto-approved expenditures per
// requester.
type VelocityService struct {
	queue  velocityQueueStore
	cap    float64
	logger *zap.Logger
	now    func() time.Time
}

// NewVelocityService constructs the service.
func NewVelocityService(queue velocityQueueStore, dailyCap float64, logger *zap.Logger) *VelocityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VelocityService{queue: queue, cap: dailyCap, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Check sums the requester's automated-channel entries submitted today in
// statuses that count against the cap and adds the proposed amount. If the
// underlying scan fails the request is treated as not allowed: an
// unbounded auto-approval is worse than a manual routing.
func (s *VelocityService) Check(ctx context.Context, requester string, amount float64) dto.VelocityResult {
	today := s.now()
	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	entries, err := s.queue.List(ctx, models.RequestFilter{
		Requester: requester,
		Channel:   models.ChannelAutomated,
		Statuses:  []models.RequestStatus{models.StatusPending, models.StatusApproved, models.StatusOrdered},
		Since:     dayStart,
	})
	if err != nil {
		s.logger.Error("velocity scan failed, denying auto-approval",
			zap.String("requester", requester), zap.Error(err))
		return dto.VelocityResult{Allowed: false, Limit: s.cap}
	}

	var dailyTotal float64
	for _, entry := range entries {
		dailyTotal += entry.Amount
	}

	return dto.VelocityResult{
		Allowed:    dailyTotal+amount <= s.cap,
		DailyTotal: dailyTotal,
		Limit:      s.cap,
	}
}
