package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/domain"
)

const lockRetryDelay = 50 * time.Millisecond

var ErrTargetNotFound = errors.New("target not found")

type PurchaseCounter interface {
	CountPurchases(ctx context.Context, targetID string, kind string) (int, error)
}

// TargetStatus is a target annotated with how many accounts of one kind it already holds.
type TargetStatus struct {
	domain.Target
	Used int
	Full bool
}

// Catalog reads the server list maintained by external tooling.
// The file is read under a shared lock on a sidecar ".lock" file.
type Catalog struct {
	path    string
	counter PurchaseCounter
}

func New(path string, counter PurchaseCounter) *Catalog {
	return &Catalog{
		path:    path,
		counter: counter,
	}
}

func (c *Catalog) ListTargets(ctx context.Context) ([]domain.Target, error) {
	lock := flock.New(c.path + ".lock")
	locked, err := lock.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("lock catalog: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("lock catalog: %w", ctx.Err())
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			zap.L().Warn("failed to unlock catalog", zap.String("path", c.path), zap.Error(err))
		}
	}()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var targets []domain.Target
	if err := json.Unmarshal(data, &targets); err != nil {
		zap.L().Error("catalog file is not valid json", zap.String("path", c.path), zap.Error(err))
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return targets, nil
}

func (c *Catalog) Target(ctx context.Context, id string) (domain.Target, error) {
	targets, err := c.ListTargets(ctx)
	if err != nil {
		return domain.Target{}, err
	}
	for _, t := range targets {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Target{}, fmt.Errorf("%w: %s", ErrTargetNotFound, id)
}

func (c *Catalog) CapacityUsed(ctx context.Context, targetID string, kind string) (int, error) {
	used, err := c.counter.CountPurchases(ctx, targetID, kind)
	if err != nil {
		return 0, fmt.Errorf("capacity of %s: %w", targetID, err)
	}
	return used, nil
}

// Statuses lists every target with its usage for kind. Usage is left at zero when counting fails.
func (c *Catalog) Statuses(ctx context.Context, kind string) ([]TargetStatus, error) {
	targets, err := c.ListTargets(ctx)
	if err != nil {
		return nil, err
	}
	statuses := make([]TargetStatus, 0, len(targets))
	for _, t := range targets {
		used, err := c.CapacityUsed(ctx, t.ID, kind)
		if err != nil {
			zap.L().Warn("failed to count target usage", zap.String("targetID", t.ID), zap.Error(err))
		}
		statuses = append(statuses, TargetStatus{Target: t, Used: used, Full: IsFull(t, used)})
	}
	return statuses, nil
}

// IsFull reports whether used has reached the target limit. A zero limit means unlimited.
func IsFull(t domain.Target, used int) bool {
	return t.Limit > 0 && used >= t.Limit
}
