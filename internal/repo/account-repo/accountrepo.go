package accountrepo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"go.uber.org/zap"
)

type Repository struct {
	db pg.Database
}

func New(db pg.Database) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) Upsert(ctx context.Context, userID int64, name string) (*domain.Account, error) {
	query := `
		INSERT INTO accounts (user_id, name, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id) DO UPDATE SET name = COALESCE(NULLIF(EXCLUDED.name, ''), accounts.name)
		RETURNING user_id, name, balance, created_at
	`
	row := r.db.QueryRow(ctx, query, userID, name)
	var account domain.Account
	err := row.Scan(&account.UserID, &account.Name, &account.Balance, &account.CreatedAt)
	if err != nil {
		zap.L().Error("failed to upsert account", zap.Int64("userID", userID), zap.Error(err))
		return nil, err
	}
	return &account, nil
}

func (r *Repository) Get(ctx context.Context, userID int64) (*domain.Account, error) {
	query := `
		SELECT user_id, name, balance, created_at
		FROM accounts
		WHERE user_id = $1
	`
	row := r.db.QueryRow(ctx, query, userID)
	var account domain.Account
	err := row.Scan(&account.UserID, &account.Name, &account.Balance, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to get account", zap.Int64("userID", userID), zap.Error(err))
		return nil, err
	}
	return &account, nil
}

// Credit adds amount and returns the new balance. ok is false when the account does not exist.
func (r *Repository) Credit(ctx context.Context, userID int64, amount int64) (balance int64, ok bool, err error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1
		WHERE user_id = $2
		RETURNING balance
	`
	err = r.db.QueryRow(ctx, query, amount, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		zap.L().Error("failed to credit account", zap.Int64("userID", userID), zap.Error(err))
		return 0, false, err
	}
	return balance, true, nil
}

// Debit subtracts amount only when the balance covers it. ok is false when nothing was changed.
func (r *Repository) Debit(ctx context.Context, userID int64, amount int64) (balance int64, ok bool, err error) {
	query := `
		UPDATE accounts
		SET balance = balance - $1
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`
	err = r.db.QueryRow(ctx, query, amount, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		zap.L().Error("failed to debit account", zap.Int64("userID", userID), zap.Error(err))
		return 0, false, err
	}
	return balance, true, nil
}
