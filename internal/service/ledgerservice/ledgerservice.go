package ledgerservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"go.uber.org/zap"
)

type AccountRepo interface {
	Upsert(ctx context.Context, userID int64, name string) (*domain.Account, error)
	Get(ctx context.Context, userID int64) (*domain.Account, error)
	Credit(ctx context.Context, userID int64, amount int64) (int64, bool, error)
	Debit(ctx context.Context, userID int64, amount int64) (int64, bool, error)
}

type PurchaseRepo interface {
	Create(ctx context.Context, purchase *domain.Purchase) (*domain.Purchase, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error)
	CountByTargetKind(ctx context.Context, targetID, kind string) (int, error)
	CountByUserSince(ctx context.Context, userID int64, kindPrefix string, since time.Time) (int, error)
}

type DepositRepo interface {
	Create(ctx context.Context, deposit *domain.Deposit) (*domain.Deposit, error)
	FindByID(ctx context.Context, id int64) (*domain.Deposit, error)
	FindByReference(ctx context.Context, reference string) (*domain.Deposit, error)
	FindPending(ctx context.Context, limit uint32) ([]domain.Deposit, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Deposit, error)
	Approve(ctx context.Context, id int64, raw string) (*domain.Deposit, error)
	Expire(ctx context.Context, id int64, raw string) (bool, error)
}

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

const TrialKindPrefix = "trial-"

type Service struct {
	accounts  AccountRepo
	purchases PurchaseRepo
	deposits  DepositRepo
	txManager pg.TXManager
}

func New(accounts AccountRepo, purchases PurchaseRepo, deposits DepositRepo, txManager pg.TXManager) *Service {
	return &Service{
		accounts:  accounts,
		purchases: purchases,
		deposits:  deposits,
		txManager: txManager,
	}
}

// EnsureAccount creates a zero balance account on first contact and refreshes the display name.
func (s *Service) EnsureAccount(ctx context.Context, userID int64, name string) (*domain.Account, error) {
	account, err := s.accounts.Upsert(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("ensure account %d: %w", userID, err)
	}
	return account, nil
}

func (s *Service) BalanceOf(ctx context.Context, userID int64) (int64, error) {
	account, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("balance of %d: %w", userID, err)
	}
	if account == nil {
		return 0, nil
	}
	return account.Balance, nil
}

func (s *Service) Credit(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, ok, err := s.accounts.Credit(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("credit %d: %w", userID, err)
	}
	if !ok {
		return 0, ErrAccountNotFound
	}
	zap.L().Info("account credited", zap.Int64("userID", userID), zap.Int64("amount", amount), zap.Int64("balance", balance))
	return balance, nil
}

func (s *Service) Debit(ctx context.Context, userID int64, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	balance, ok, err := s.accounts.Debit(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("debit %d: %w", userID, err)
	}
	if !ok {
		return 0, ErrInsufficientFunds
	}
	zap.L().Info("account debited", zap.Int64("userID", userID), zap.Int64("amount", amount), zap.Int64("balance", balance))
	return balance, nil
}

// Charge debits cost and writes the purchase record in one transaction.
// A zero cost only writes the record.
func (s *Service) Charge(ctx context.Context, purchase *domain.Purchase, cost int64) (*domain.Purchase, int64, error) {
	if cost < 0 {
		return nil, 0, ErrInvalidAmount
	}

	var (
		created *domain.Purchase
		balance int64
	)
	err := s.txManager.Begin(ctx, func(ctx context.Context) error {
		var err error
		if cost > 0 {
			if balance, err = s.Debit(ctx, purchase.UserID, cost); err != nil {
				return err
			}
		}
		created, err = s.purchases.Create(ctx, purchase)
		if err != nil {
			return fmt.Errorf("record purchase: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	if cost == 0 {
		if balance, err = s.BalanceOf(ctx, purchase.UserID); err != nil {
			zap.L().Warn("failed to read balance after free purchase", zap.Int64("userID", purchase.UserID), zap.Error(err))
		}
	}

	zap.L().Info("purchase committed",
		zap.Int64("userID", purchase.UserID),
		zap.String("kind", purchase.Kind),
		zap.String("targetID", purchase.TargetID),
		zap.Int64("cost", cost),
	)
	return created, balance, nil
}

func (s *Service) Purchases(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error) {
	purchases, err := s.purchases.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, nil
}

// CountPurchases counts purchases of kind on a target.
func (s *Service) CountPurchases(ctx context.Context, targetID, kind string) (int, error) {
	return s.purchases.CountByTargetKind(ctx, targetID, kind)
}

func (s *Service) TrialsSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	count, err := s.purchases.CountByUserSince(ctx, userID, TrialKindPrefix, since)
	if err != nil {
		return 0, fmt.Errorf("count trials: %w", err)
	}
	return count, nil
}

func (s *Service) CreateDeposit(ctx context.Context, deposit *domain.Deposit) (*domain.Deposit, error) {
	if deposit.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	created, err := s.deposits.Create(ctx, deposit)
	if err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	zap.L().Info("deposit created", zap.Int64("userID", deposit.UserID), zap.String("reference", deposit.Reference), zap.Int64("amount", deposit.Amount))
	return created, nil
}

// SettleDeposit approves a pending deposit and credits amount to its owner in one transaction.
// settled is false when the deposit was already approved or expired.
func (s *Service) SettleDeposit(ctx context.Context, depositID int64, amount int64, raw string) (deposit *domain.Deposit, settled bool, err error) {
	err = s.txManager.Begin(ctx, func(ctx context.Context) error {
		approved, err := s.deposits.Approve(ctx, depositID, raw)
		if err != nil {
			return fmt.Errorf("approve deposit: %w", err)
		}
		if approved == nil {
			return nil
		}
		credit := amount
		if credit <= 0 {
			credit = approved.Amount
		}
		if _, err := s.Credit(ctx, approved.UserID, credit); err != nil {
			return err
		}
		deposit, settled = approved, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !settled {
		zap.L().Info("deposit already finalized", zap.Int64("depositID", depositID))
	}
	return deposit, settled, nil
}

// ExpireDeposit reports whether the pending deposit was moved to expired.
func (s *Service) ExpireDeposit(ctx context.Context, depositID int64, raw string) (bool, error) {
	expired, err := s.deposits.Expire(ctx, depositID, raw)
	if err != nil {
		return false, fmt.Errorf("expire deposit: %w", err)
	}
	if expired {
		zap.L().Info("deposit expired", zap.Int64("depositID", depositID))
	}
	return expired, nil
}

func (s *Service) Deposit(ctx context.Context, depositID int64) (*domain.Deposit, error) {
	return s.deposits.FindByID(ctx, depositID)
}

func (s *Service) DepositByReference(ctx context.Context, reference string) (*domain.Deposit, error) {
	return s.deposits.FindByReference(ctx, reference)
}

func (s *Service) PendingDeposits(ctx context.Context, limit uint32) ([]domain.Deposit, error) {
	return s.deposits.FindPending(ctx, limit)
}

func (s *Service) Deposits(ctx context.Context, userID int64, limit int) ([]domain.Deposit, error) {
	deposits, err := s.deposits.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return deposits, nil
}
