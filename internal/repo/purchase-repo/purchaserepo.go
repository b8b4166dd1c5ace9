package purchaserepo

import (
	"context"
	"time"

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

func (r *Repository) Create(ctx context.Context, purchase *domain.Purchase) (*domain.Purchase, error) {
	query := `
		INSERT INTO purchases (user_id, kind, days, target_id, meta)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	created := *purchase
	err := r.db.QueryRow(ctx, query, purchase.UserID, purchase.Kind, purchase.Days, purchase.TargetID, purchase.Meta).
		Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		zap.L().Error("failed to create purchase", zap.Int64("userID", purchase.UserID), zap.String("kind", purchase.Kind), zap.Error(err))
		return nil, err
	}
	return &created, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error) {
	query := `
		SELECT id, user_id, kind, days, target_id, meta, created_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		zap.L().Error("failed to list purchases", zap.Int64("userID", userID), zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &p.Days, &p.TargetID, &p.Meta, &p.CreatedAt); err != nil {
			zap.L().Error("failed to scan purchase", zap.Error(err))
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		zap.L().Error("rows iteration error", zap.Error(err))
		return nil, err
	}
	return purchases, nil
}

func (r *Repository) CountByTargetKind(ctx context.Context, targetID, kind string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM purchases
		WHERE target_id = $1 AND kind = $2
	`
	var count int64
	if err := r.db.QueryRow(ctx, query, targetID, kind).Scan(&count); err != nil {
		zap.L().Error("failed to count purchases", zap.String("targetID", targetID), zap.String("kind", kind), zap.Error(err))
		return 0, err
	}
	return int(count), nil
}

// CountByUserSince counts the user's purchases whose kind starts with kindPrefix.
func (r *Repository) CountByUserSince(ctx context.Context, userID int64, kindPrefix string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM purchases
		WHERE user_id = $1 AND kind LIKE $2 AND created_at >= $3
	`
	var count int64
	if err := r.db.QueryRow(ctx, query, userID, kindPrefix+"%", since).Scan(&count); err != nil {
		zap.L().Error("failed to count user purchases", zap.Int64("userID", userID), zap.Error(err))
		return 0, err
	}
	return int(count), nil
}
