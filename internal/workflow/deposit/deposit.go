// Package deposit implements balance top-ups through the QR deposit gateway.
//
// A user enters an amount, the gateway issues a deposit code and a QR image,
// and a watcher polls the gateway until the deposit succeeds, expires or the
// poll budget runs out. Settling goes through the ledger's guarded transition
// so a deposit is credited at most once no matter how many pollers, webhook
// calls or restarts observe the success.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/gateway"
	"github.com/GlebRadaev/vpnshop/internal/observability"
	"github.com/GlebRadaev/vpnshop/internal/session"
	"github.com/GlebRadaev/vpnshop/pkg/validate"
)

const (
	Name = "deposit"

	StepAwaitAmount = "await_amount"
)

var ErrUnknownDeposit = errors.New("unknown deposit")

type Ledger interface {
	EnsureAccount(ctx context.Context, userID int64, name string) (*domain.Account, error)
	BalanceOf(ctx context.Context, userID int64) (int64, error)
	CreateDeposit(ctx context.Context, deposit *domain.Deposit) (*domain.Deposit, error)
	SettleDeposit(ctx context.Context, depositID int64, amount int64, raw string) (*domain.Deposit, bool, error)
	ExpireDeposit(ctx context.Context, depositID int64, raw string) (bool, error)
	DepositByReference(ctx context.Context, reference string) (*domain.Deposit, error)
	PendingDeposits(ctx context.Context, limit uint32) ([]domain.Deposit, error)
}

type Gateway interface {
	CreateDeposit(ctx context.Context, n int64, ref string) (*gateway.Deposit, error)
	Status(ctx context.Context, code string) (*gateway.DepositStatus, error)
	FetchQR(ctx context.Context, link string) ([]byte, error)
}

type Workflow struct {
	transport bot.Transport
	ledger    Ledger
	gateway   Gateway
	metrics   *observability.Metrics

	sessions *session.Store[struct{}]
	minTopup int64
	interval time.Duration
	budget   time.Duration
	now      func() time.Time
	newRef   func() string

	mu       sync.Mutex
	watchers map[int64]*watcher
	wg       sync.WaitGroup
	ctx      context.Context
	stop     context.CancelFunc
}

func New(cfg *config.Config, transport bot.Transport, ledger Ledger, gw Gateway, metrics *observability.Metrics) *Workflow {
	ctx, stop := context.WithCancel(context.Background())
	w := &Workflow{
		transport: transport,
		ledger:    ledger,
		gateway:   gw,
		metrics:   metrics,
		minTopup:  cfg.MinTopup,
		interval:  cfg.PollInterval,
		budget:    cfg.PollBudget,
		now:       time.Now,
		newRef:    func() string { return uuid.NewString() },
		watchers:  make(map[int64]*watcher),
		ctx:       ctx,
		stop:      stop,
	}
	if w.interval <= 0 {
		w.interval = 10 * time.Second
	}
	if w.budget <= 0 {
		w.budget = 5 * time.Minute
	}
	w.sessions = session.New[struct{}](cfg.SessionTTL, w.onExpire)
	return w
}

func (w *Workflow) Register(r *bot.Router) {
	r.Command("topup", w.Start)
	r.Conversation(w)
}

func key(ev bot.Event) session.Key {
	return session.Key{ChatID: ev.ChatID, UserID: ev.UserID, Flow: Name}
}

func (w *Workflow) send(ctx context.Context, chatID int64, text string) {
	if _, err := w.transport.SendText(ctx, chatID, text, nil); err != nil {
		zap.L().Warn("Failed to send message", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func (w *Workflow) Start(ctx context.Context, ev bot.Event) error {
	if _, err := w.ledger.EnsureAccount(ctx, ev.UserID, ev.UserName); err != nil {
		zap.L().Error("Failed to ensure account", zap.Int64("userID", ev.UserID), zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Your account is unavailable right now. Try again later.")
		return nil
	}
	if _, err := w.sessions.Create(key(ev), StepAwaitAmount, struct{}{}, 0); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			w.send(ctx, ev.ChatID, "⚠️ Enter the top-up amount or send /batal.")
			return nil
		}
		return err
	}
	w.metrics.SessionOpened(Name)

	w.send(ctx, ev.ChatID, fmt.Sprintf(
		"💰 <b>TOP UP QRIS</b>\nEnter the amount (e.g. <code>%d</code>).\nMinimum: <b>%s</b>\n\nSend /batal to cancel.",
		w.minTopup, bot.IDR(w.minTopup)))
	return nil
}

func (w *Workflow) Continue(ctx context.Context, ev bot.Event) (bool, error) {
	if ev.IsCallback() {
		return false, nil
	}
	if !w.sessions.Active(key(ev)) {
		if pending := w.watchersOf(ev.ChatID, ev.UserID); len(pending) > 0 {
			w.send(ctx, ev.ChatID, fmt.Sprintf("⏳ Waiting for payment of deposit %s. Send /batal to cancel.", depositIDs(pending)))
			return true, nil
		}
		return false, nil
	}

	finished := false
	err := w.sessions.Advance(key(ev), func(s *session.Session[struct{}]) (action session.Action, err error) {
		defer func() { finished = action == session.Finish }()

		amount, err := validate.Amount(ev.Text)
		if err != nil || amount < w.minTopup {
			w.send(ctx, ev.ChatID, fmt.Sprintf("⚠️ Invalid amount. Minimum %s.", bot.IDR(w.minTopup)))
			return session.Keep, nil
		}
		w.create(ctx, ev, amount)
		return session.Finish, nil
	})
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if finished {
		w.metrics.SessionClosed(Name)
	}
	return true, err
}

// create opens the deposit at the gateway, stores it as pending, shows the QR
// and starts the watcher.
func (w *Workflow) create(ctx context.Context, ev bot.Event, amount int64) {
	logger := zap.L().With(zap.Int64("userID", ev.UserID), zap.Int64("amount", amount))

	dep, err := w.gateway.CreateDeposit(ctx, amount, w.newRef())
	if err != nil {
		logger.Error("Failed to create gateway deposit", zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Failed to create the deposit. Try again later.")
		w.metrics.Deposit("gateway_failed")
		return
	}

	record, err := w.ledger.CreateDeposit(ctx, &domain.Deposit{
		UserID:    ev.UserID,
		Amount:    dep.Amount,
		Status:    domain.DepositPending,
		Reference: dep.Code,
		Raw:       dep.Raw,
	})
	if err != nil {
		logger.Error("Failed to store deposit", zap.String("reference", dep.Code), zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Failed to create the deposit. Try again later.")
		w.metrics.Deposit("error")
		return
	}
	w.metrics.Deposit("created")

	caption := fmt.Sprintf(
		"📥 <b>TOP UP QRIS</b>\n• Payment ID: #%d\n• Amount: %s\n• Deposit code: <code>%s</code>\n\n"+
			"⚠️ Scan the QR and pay <b>exactly</b> the amount above.\n⏳ Payment is checked automatically for %s.",
		record.ID, bot.IDR(record.Amount), bot.Escape(record.Reference), w.budget)
	if dep.Guide != "" {
		caption += "\n\n📖 <b>Payment guide</b>:\n" + bot.Escape(dep.Guide)
	}
	w.sendQR(ctx, ev.ChatID, dep, caption)

	w.watch(ev.ChatID, *record, w.budget)
}

// Cancel drops a session waiting for the amount. Without one it stops every
// deposit of the sender still waiting for payment, each after one last status check.
func (w *Workflow) Cancel(ctx context.Context, ev bot.Event) bool {
	if w.sessions.Cancel(key(ev)) {
		w.metrics.SessionClosed(Name)
		return true
	}
	pending := w.watchersOf(ev.ChatID, ev.UserID)
	for _, wt := range pending {
		wt.cancel()
	}
	return len(pending) > 0
}

func (w *Workflow) Active(ev bot.Event) bool {
	return w.sessions.Active(key(ev)) || len(w.watchersOf(ev.ChatID, ev.UserID)) > 0
}

func (w *Workflow) onExpire(k session.Key, _ session.Session[struct{}]) {
	w.metrics.SessionClosed(Name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.send(ctx, k.ChatID, "⏳ Top-up cancelled: timed out waiting for the amount.")
}
