package depositrepo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"go.uber.org/zap"
)

const depositColumns = `id, user_id, amount, status, reference, raw, created_at, paid_at`

type Repository struct {
	db pg.Database
}

func New(db pg.Database) *Repository {
	return &Repository{
		db: db,
	}
}

func scanDeposit(row pgx.Row) (*domain.Deposit, error) {
	var (
		d      domain.Deposit
		status string
		paidAt *time.Time
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Amount, &status, &d.Reference, &d.Raw, &d.CreatedAt, &paidAt); err != nil {
		return nil, err
	}
	d.Status = domain.DepositStatus(status)
	d.PaidAt = paidAt
	return &d, nil
}

func (r *Repository) Create(ctx context.Context, deposit *domain.Deposit) (*domain.Deposit, error) {
	query := `
		INSERT INTO deposits (user_id, amount, status, reference, raw)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING ` + depositColumns
	created, err := scanDeposit(r.db.QueryRow(ctx, query, deposit.UserID, deposit.Amount, deposit.Reference, deposit.Raw))
	if err != nil {
		zap.L().Error("failed to create deposit", zap.Int64("userID", deposit.UserID), zap.String("reference", deposit.Reference), zap.Error(err))
		return nil, err
	}
	return created, nil
}

func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE id = $1`
	deposit, err := scanDeposit(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to find deposit", zap.Int64("depositID", id), zap.Error(err))
		return nil, err
	}
	return deposit, nil
}

func (r *Repository) FindByReference(ctx context.Context, reference string) (*domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE reference = $1`
	deposit, err := scanDeposit(r.db.QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to find deposit by reference", zap.String("reference", reference), zap.Error(err))
		return nil, err
	}
	return deposit, nil
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.Deposit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deposits, nil
}

// FindPending returns the oldest pending deposits first.
func (r *Repository) FindPending(ctx context.Context, limit uint32) ([]domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE status = 'pending' ORDER BY created_at LIMIT $1`
	deposits, err := r.list(ctx, query, limit)
	if err != nil {
		zap.L().Error("failed to fetch pending deposits", zap.Error(err))
		return nil, err
	}
	return deposits, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	deposits, err := r.list(ctx, query, userID, limit)
	if err != nil {
		zap.L().Error("failed to list deposits", zap.Int64("userID", userID), zap.Error(err))
		return nil, err
	}
	return deposits, nil
}

// Approve moves a pending deposit to approved. It returns nil when the deposit was not pending.
func (r *Repository) Approve(ctx context.Context, id int64, raw string) (*domain.Deposit, error) {
	query := `
		UPDATE deposits
		SET status = 'approved', paid_at = now(), raw = $2
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + depositColumns
	deposit, err := scanDeposit(r.db.QueryRow(ctx, query, id, raw))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		zap.L().Error("failed to approve deposit", zap.Int64("depositID", id), zap.Error(err))
		return nil, err
	}
	return deposit, nil
}

// Expire moves a pending deposit to expired and reports whether it did.
func (r *Repository) Expire(ctx context.Context, id int64, raw string) (bool, error) {
	query := `
		UPDATE deposits
		SET status = 'expired', raw = $2
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id, raw)
	if err != nil {
		zap.L().Error("failed to expire deposit", zap.Int64("depositID", id), zap.Error(err))
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
