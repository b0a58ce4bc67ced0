package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/procurement-api/internal/models"
	"github.com/noah-isme/procurement-api/pkg/config"
	appErrors "github.com/noah-isme/procurement-api/pkg/errors"
)

type accountStore interface {
	GetByRequester(ctx context.Context, requester string) (*models.BudgetAccount, error)
	Upsert(ctx context.Context, account *models.BudgetAccount) error
	AddSpent(ctx context.Context, requester string, amount float64) error
}

// AccountService exposes a requester's budget figures and validates
// proposed expenditures against them.
type AccountService struct {
	repo   accountStore
	cfg    config.BudgetConfig
	logger *zap.Logger
}

// NewAccountService constructs the service.
func NewAccountService(repo accountStore, cfg config.BudgetConfig, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{repo: repo, cfg: cfg, logger: logger}
}

// Get returns the requester's account, materializing a default account
// with the standard allowance when the directory has no row yet.
func (s *AccountService) Get(ctx context.Context, requester string) (*models.BudgetAccount, error) {
	account, err := s.repo.GetByRequester(ctx, requester)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			account = models.DefaultBudgetAccount(requester, s.cfg.DefaultAllowance, s.cfg.FallbackApprover)
			if err := s.repo.Upsert(ctx, account); err != nil {
				return nil, fmt.Errorf("create default account: %w", err)
			}
			s.logger.Info("created default budget account",
				zap.String("requester", requester), zap.Float64("allowance", s.cfg.DefaultAllowance))
			return account, nil
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	return account, nil
}

// ValidateExpenditure checks a proposed amount against a fresh account
// read. Gate failures come back as a typed error carrying the current
// available figure.
func (s *AccountService) ValidateExpenditure(ctx context.Context, requester string, amount float64) (*models.BudgetAccount, error) {
	account, err := s.Get(ctx, requester)
	if err != nil {
		return nil, err
	}
	if !account.Active {
		return account, appErrors.Clone(appErrors.ErrInactiveAccount, "budget account is inactive")
	}
	if amount > account.Available {
		return account, appErrors.Clone(appErrors.ErrInsufficientFunds,
			fmt.Sprintf("insufficient funds: requested %.2f, available %.2f", amount, account.Available))
	}
	return account, nil
}

// BookSpend increases the spent figure on approval.
func (s *AccountService) BookSpend(ctx context.Context, requester string, amount float64) error {
	if err := s.repo.AddSpent(ctx, requester, amount); err != nil {
		return fmt.Errorf("book spend for %s: %w", requester, err)
	}
	return nil
}

// ApproverFor resolves the identity a request should be routed to: the
// on-file approver, or the fallback business-office identity when none is
// configured.
func (s *AccountService) ApproverFor(account *models.BudgetAccount) string {
	if account != nil && account.Approver != "" {
		return account.Approver
	}
	return s.cfg.FallbackApprover
}
