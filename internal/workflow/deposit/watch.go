package deposit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/gateway"
)

const (
	resumeLimit    = 500
	resumeParallel = 4
)

type watcher struct {
	chatID    int64
	deposit   domain.Deposit
	ctx       context.Context
	halt      context.CancelFunc
	cancelled chan struct{}
}

// cancel asks the watcher to make one last check and expire the deposit.
func (wt *watcher) cancel() {
	select {
	case wt.cancelled <- struct{}{}:
	default:
	}
}

// watch starts polling deposit for at most remaining. Telegram private chats
// share their id with the user, so resumed deposits notify chat UserID.
func (w *Workflow) watch(chatID int64, deposit domain.Deposit, remaining time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watchers[deposit.ID]; ok {
		return
	}

	ctx, halt := context.WithCancel(w.ctx)
	wt := &watcher{
		chatID:    chatID,
		deposit:   deposit,
		ctx:       ctx,
		halt:      halt,
		cancelled: make(chan struct{}, 1),
	}
	w.watchers[deposit.ID] = wt

	w.wg.Add(1)
	go w.loop(wt, remaining)
}

func (w *Workflow) loop(wt *watcher, remaining time.Duration) {
	defer w.wg.Done()
	defer w.forget(wt)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(remaining)
	defer deadline.Stop()

	logger := zap.L().With(zap.Int64("depositID", wt.deposit.ID), zap.String("reference", wt.deposit.Reference))
	logger.Debug("Watching deposit", zap.Duration("remaining", remaining))

	for {
		select {
		case <-wt.ctx.Done():
			return
		case <-wt.cancelled:
			w.finalize(wt.ctx, wt.chatID, wt.deposit, fmt.Sprintf("❌ Top-up #%d cancelled.", wt.deposit.ID))
			return
		case <-deadline.C:
			w.finalize(wt.ctx, wt.chatID, wt.deposit, "❌ Top-up expired. Please try again.")
			return
		case <-ticker.C:
			if w.poll(wt.ctx, wt.chatID, wt.deposit) {
				return
			}
		}
	}
}

func (w *Workflow) forget(wt *watcher) {
	wt.halt()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watchers[wt.deposit.ID] == wt {
		delete(w.watchers, wt.deposit.ID)
	}
}

// watchersOf returns the sender's deposits still being polled, oldest first.
func (w *Workflow) watchersOf(chatID, userID int64) []*watcher {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*watcher
	for _, wt := range w.watchers {
		if wt.chatID == chatID && wt.deposit.UserID == userID {
			out = append(out, wt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].deposit.ID < out[j].deposit.ID })
	return out
}

func depositIDs(ws []*watcher) string {
	ids := make([]string, len(ws))
	for i, wt := range ws {
		ids[i] = fmt.Sprintf("#%d", wt.deposit.ID)
	}
	return strings.Join(ids, ", ")
}

func (w *Workflow) watcherFor(depositID int64) *watcher {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watchers[depositID]
}

// poll checks the gateway once and reports whether the deposit reached a final state.
func (w *Workflow) poll(ctx context.Context, chatID int64, deposit domain.Deposit) bool {
	st, err := w.gateway.Status(ctx, deposit.Reference)
	if err != nil {
		zap.L().Warn("Deposit status check failed", zap.Int64("depositID", deposit.ID), zap.Error(err))
		return false
	}
	switch st.Status {
	case gateway.StatusSuccess:
		return w.settle(ctx, chatID, deposit, st.Amount, st.Raw)
	case gateway.StatusExpired:
		w.expire(ctx, chatID, deposit, st.Raw, "❌ Top-up expired. Please try again.")
		return true
	default:
		return false
	}
}

// finalize makes one last status check: success settles, anything else expires.
func (w *Workflow) finalize(ctx context.Context, chatID int64, deposit domain.Deposit, text string) {
	st, err := w.gateway.Status(ctx, deposit.Reference)
	if err == nil && st.Status == gateway.StatusSuccess {
		if w.settle(ctx, chatID, deposit, st.Amount, st.Raw) {
			return
		}
	}
	raw := ""
	if st != nil {
		raw = st.Raw
	}
	w.expire(ctx, chatID, deposit, raw, text)
}

// settle credits the deposit once. It reports false only when the ledger
// failed and the check should be retried.
func (w *Workflow) settle(ctx context.Context, chatID int64, deposit domain.Deposit, amount int64, raw string) bool {
	approved, settled, err := w.ledger.SettleDeposit(ctx, deposit.ID, amount, raw)
	if err != nil {
		zap.L().Error("Failed to settle deposit", zap.Int64("depositID", deposit.ID), zap.Error(err))
		return false
	}
	if !settled {
		return true
	}
	if amount <= 0 {
		amount = approved.Amount
	}
	w.metrics.Deposit("approved")
	w.notifySettled(ctx, chatID, approved.UserID, amount)
	return true
}

func (w *Workflow) notifySettled(ctx context.Context, chatID, userID, amount int64) {
	balance, err := w.ledger.BalanceOf(ctx, userID)
	if err != nil {
		zap.L().Warn("Failed to read balance after deposit", zap.Int64("userID", userID), zap.Error(err))
		w.send(ctx, chatID, fmt.Sprintf("✅ <b>Top-up successful!</b>\n• Added: %s", bot.IDR(amount)))
		return
	}
	w.send(ctx, chatID, fmt.Sprintf("✅ <b>Top-up successful!</b>\n• Added: %s\n• Balance now: <b>%s</b>", bot.IDR(amount), bot.IDR(balance)))
}

func (w *Workflow) expire(ctx context.Context, chatID int64, deposit domain.Deposit, raw, text string) {
	expired, err := w.ledger.ExpireDeposit(ctx, deposit.ID, raw)
	if err != nil {
		zap.L().Error("Failed to expire deposit", zap.Int64("depositID", deposit.ID), zap.Error(err))
		return
	}
	if expired {
		w.metrics.Deposit("expired")
		w.send(ctx, chatID, text)
	}
}

// Resume restarts watchers for pending deposits still within the poll budget
// and finalizes the ones past it.
func (w *Workflow) Resume(ctx context.Context) error {
	pending, err := w.ledger.PendingDeposits(ctx, resumeLimit)
	if err != nil {
		return fmt.Errorf("load pending deposits: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resumeParallel)
	resumed := 0
	for _, d := range pending {
		d := d
		remaining := w.budget - w.now().Sub(d.CreatedAt)
		if remaining > 0 {
			w.watch(d.UserID, d, remaining)
			resumed++
			continue
		}
		g.Go(func() error {
			w.finalize(gctx, d.UserID, d, "❌ Top-up expired. Please try again.")
			return nil
		})
	}
	err = g.Wait()
	zap.L().Info("Pending deposits resumed", zap.Int("pending", len(pending)), zap.Int("watching", resumed))
	return err
}

// HandleCallback applies a gateway notification through the same guarded
// transitions the poller uses. It reports whether this call credited the deposit.
func (w *Workflow) HandleCallback(ctx context.Context, reference string, status gateway.Status, amount int64, raw string) (bool, error) {
	deposit, err := w.ledger.DepositByReference(ctx, reference)
	if err != nil {
		return false, err
	}
	if deposit == nil {
		return false, ErrUnknownDeposit
	}

	chatID := deposit.UserID
	if wt := w.watcherFor(deposit.ID); wt != nil {
		chatID = wt.chatID
	}

	switch status {
	case gateway.StatusSuccess:
		approved, settled, err := w.ledger.SettleDeposit(ctx, deposit.ID, amount, raw)
		if err != nil {
			return false, err
		}
		w.stopWatcher(deposit.ID)
		if !settled {
			return false, nil
		}
		if amount <= 0 {
			amount = approved.Amount
		}
		w.metrics.Deposit("approved")
		w.notifySettled(ctx, chatID, approved.UserID, amount)
		return true, nil
	case gateway.StatusExpired:
		w.stopWatcher(deposit.ID)
		w.expire(ctx, chatID, *deposit, raw, "❌ Top-up expired. Please try again.")
		return false, nil
	default:
		return false, nil
	}
}

func (w *Workflow) stopWatcher(depositID int64) {
	if wt := w.watcherFor(depositID); wt != nil {
		wt.halt()
	}
}

// Close stops every watcher and waits for them. Deposits left pending are picked up by Resume.
func (w *Workflow) Close() {
	w.stop()
	w.wg.Wait()
}
