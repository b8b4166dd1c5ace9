// Package trial hands out free time-limited accounts, a few per user per day.
package trial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/catalog"
	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/observability"
	"github.com/GlebRadaev/vpnshop/internal/remote"
	"github.com/GlebRadaev/vpnshop/internal/service/ledgerservice"
	"github.com/GlebRadaev/vpnshop/internal/session"
)

const (
	Name         = "trial"
	CallbackPick = "trial:"

	StepSelectTarget = "select_target"

	// maxOutput bounds the output stored in the purchase meta.
	maxOutput = 2000
)

type Ledger interface {
	EnsureAccount(ctx context.Context, userID int64, name string) (*domain.Account, error)
	TrialsSince(ctx context.Context, userID int64, since time.Time) (int, error)
	Charge(ctx context.Context, purchase *domain.Purchase, cost int64) (*domain.Purchase, int64, error)
}

type Catalog interface {
	ListTargets(ctx context.Context) ([]domain.Target, error)
	Target(ctx context.Context, id string) (domain.Target, error)
}

type Executor interface {
	Run(ctx context.Context, target domain.Target, command string, timeout time.Duration) (*remote.Result, error)
}

type Flow struct {
	Name    string
	Title   string
	Proto   string
	Command string
}

// Kind is the purchase kind recorded for this trial.
func (f Flow) Kind() string {
	return ledgerservice.TrialKindPrefix + f.Proto
}

func DefaultFlows() []Flow {
	return []Flow{
		{Name: "trialssh", Title: "Trial SSH", Proto: "ssh", Command: "/usr/local/sbin/bot-trial {MIN}"},
		{Name: "trialvmess", Title: "Trial VMess", Proto: "vmess", Command: "/usr/local/sbin/bot-trialws {MIN}"},
		{Name: "trialvless", Title: "Trial VLess", Proto: "vless", Command: "/usr/local/sbin/bot-trialvl {MIN}"},
		{Name: "trialtrojan", Title: "Trial Trojan", Proto: "trojan", Command: "/usr/local/sbin/bot-trialtr {MIN}"},
	}
}

type Workflow struct {
	transport bot.Transport
	ledger    Ledger
	catalog   Catalog
	executor  Executor
	policy    remote.Policy
	metrics   *observability.Metrics
	isAdmin   func(userID int64) bool

	sessions *session.Store[string]
	flows    map[string]Flow
	order    []string
	limit    int
	minutes  int
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg *config.Config, transport bot.Transport, ledger Ledger, catalog Catalog, executor Executor, policy remote.Policy, metrics *observability.Metrics) *Workflow {
	if policy == nil {
		policy = remote.NewMarkerPolicy()
	}
	minutes := cfg.TrialMinutes
	if minutes <= 0 {
		minutes = 60
	}
	timeout := cfg.SSHTimeout
	if timeout <= 0 {
		timeout = remote.DefaultTimeout
	}

	w := &Workflow{
		transport: transport,
		ledger:    ledger,
		catalog:   catalog,
		executor:  executor,
		policy:    policy,
		metrics:   metrics,
		isAdmin:   cfg.IsAdmin,
		flows:     make(map[string]Flow),
		limit:     cfg.TrialLimitPerDay,
		minutes:   minutes,
		timeout:   timeout,
		now:       time.Now,
	}
	for _, f := range DefaultFlows() {
		w.flows[f.Name] = f
		w.order = append(w.order, f.Name)
	}
	w.sessions = session.New[string](cfg.SessionTTL, w.onExpire)
	return w
}

func (w *Workflow) Register(r *bot.Router) {
	for _, name := range w.order {
		name := name
		r.Command(name, func(ctx context.Context, ev bot.Event) error {
			return w.Start(ctx, ev, name)
		})
	}
	r.Callback(CallbackPick, w.Pick)
	r.Conversation(w)
}

func (w *Workflow) Flows() []Flow {
	out := make([]Flow, 0, len(w.order))
	for _, name := range w.order {
		out = append(out, w.flows[name])
	}
	return out
}

func key(ev bot.Event) session.Key {
	return session.Key{ChatID: ev.ChatID, UserID: ev.UserID, Flow: Name}
}

func (w *Workflow) send(ctx context.Context, chatID int64, text string, kb bot.Keyboard) {
	if _, err := w.transport.SendText(ctx, chatID, text, kb); err != nil {
		zap.L().Warn("Failed to send message", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func (w *Workflow) answer(ctx context.Context, ev bot.Event, text string) {
	if err := w.transport.AnswerCallback(ctx, ev.CallbackID, text, false); err != nil {
		zap.L().Warn("Failed to answer callback", zap.String("callbackID", ev.CallbackID), zap.Error(err))
	}
}

// startOfDay is midnight UTC of the current day.
func (w *Workflow) startOfDay() time.Time {
	return w.now().UTC().Truncate(24 * time.Hour)
}

// allowed reports whether the user may take another trial today.
func (w *Workflow) allowed(ctx context.Context, userID int64) (bool, error) {
	if w.isAdmin(userID) || w.limit <= 0 {
		return true, nil
	}
	used, err := w.ledger.TrialsSince(ctx, userID, w.startOfDay())
	if err != nil {
		return false, err
	}
	return used < w.limit, nil
}

func (w *Workflow) limitText() string {
	return fmt.Sprintf("⚠️ You have reached the limit of <b>%d</b> trials today.\nTry again tomorrow!", w.limit)
}

func (w *Workflow) Start(ctx context.Context, ev bot.Event, flowName string) error {
	flow, ok := w.flows[flowName]
	if !ok {
		return fmt.Errorf("unknown trial %q", flowName)
	}
	if w.sessions.Active(key(ev)) {
		w.send(ctx, ev.ChatID, "⚠️ Pick a server from the previous menu or send /batal first.", nil)
		return nil
	}

	ok, err := w.allowed(ctx, ev.UserID)
	if err != nil {
		zap.L().Error("Failed to count trials", zap.Int64("userID", ev.UserID), zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Trials are unavailable right now.", nil)
		return nil
	}
	if !ok {
		w.send(ctx, ev.ChatID, w.limitText(), nil)
		return nil
	}

	targets, err := w.catalog.ListTargets(ctx)
	if err != nil || len(targets) == 0 {
		if err != nil {
			zap.L().Error("Failed to load catalog", zap.Error(err))
		}
		w.send(ctx, ev.ChatID, "❌ No servers available.", nil)
		return nil
	}

	if _, err := w.sessions.Create(key(ev), StepSelectTarget, flow.Name, 0); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			return nil
		}
		return err
	}
	w.metrics.SessionOpened(Name)

	kb := make(bot.Keyboard, 0, len(targets)+1)
	for _, t := range targets {
		kb = append(kb, bot.Row(bot.DataButton(t.ID, CallbackPick+flow.Name+":"+t.ID)))
	}
	kb = append(kb, bot.Row(bot.DataButton("❌ Cancel", bot.CancelData)))
	w.send(ctx, ev.ChatID, fmt.Sprintf("<b>%s</b>\n\nPick a trial server with the buttons below:", bot.Escape(flow.Title)), kb)
	return nil
}

// Pick handles "trial:<flow>:<target>". The session ends as soon as a valid
// target is chosen; the remote command runs after that.
func (w *Workflow) Pick(ctx context.Context, ev bot.Event) error {
	flowName, targetID, ok := strings.Cut(strings.TrimPrefix(ev.Data, CallbackPick), ":")
	if !ok {
		w.answer(ctx, ev, "Invalid choice.")
		return nil
	}

	var (
		flow   Flow
		target domain.Target
		chosen bool
	)
	err := w.sessions.Advance(key(ev), func(s *session.Session[string]) (session.Action, error) {
		if s.Payload != flowName {
			w.answer(ctx, ev, "This menu is no longer active.")
			return session.Keep, nil
		}
		t, err := w.catalog.Target(ctx, targetID)
		if err != nil {
			if errors.Is(err, catalog.ErrTargetNotFound) {
				w.answer(ctx, ev, "Invalid server!")
				return session.Keep, nil
			}
			w.answer(ctx, ev, "❌ Server list is unavailable, try again.")
			return session.Keep, err
		}
		flow, target, chosen = w.flows[flowName], t, true
		return session.Finish, nil
	})
	if errors.Is(err, session.ErrNoSession) {
		w.answer(ctx, ev, "❌ Session expired.")
		return nil
	}
	if !chosen {
		return err
	}
	w.metrics.SessionClosed(Name)

	w.answer(ctx, ev, "Selected: "+target.ID)
	creating := fmt.Sprintf("⏳ Creating <b>%s</b> on server <b>%s</b>...", bot.Escape(flow.Title), bot.Escape(target.ID))
	if err := w.transport.EditText(ctx, ev.ChatID, ev.MessageID, creating, nil); err != nil {
		w.send(ctx, ev.ChatID, creating, nil)
	}

	w.run(ctx, ev, flow, target)
	return nil
}

func (w *Workflow) run(ctx context.Context, ev bot.Event, flow Flow, target domain.Target) {
	logger := zap.L().With(zap.String("flow", flow.Name), zap.Int64("userID", ev.UserID), zap.String("targetID", target.ID))

	// The limit is checked again because another trial may have finished since the picker was shown.
	ok, err := w.allowed(ctx, ev.UserID)
	if err != nil {
		logger.Error("Failed to count trials", zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Trials are unavailable right now.", nil)
		return
	}
	if !ok {
		w.send(ctx, ev.ChatID, w.limitText(), nil)
		w.metrics.Provisioned(flow.Name, "limit_reached")
		return
	}

	command := strings.ReplaceAll(flow.Command, "{MIN}", strconv.Itoa(w.minutes))
	started := w.now()
	res, err := w.executor.Run(ctx, target, command, w.timeout)
	if err != nil {
		w.metrics.ObserveRemote("error", time.Since(started))
		logger.Warn("Trial command failed", zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ SSH error: "+bot.Escape(err.Error()), nil)
		w.metrics.Provisioned(flow.Name, "remote_failed")
		return
	}
	verdict := w.policy.Evaluate(res)
	if !verdict.OK {
		w.metrics.ObserveRemote("rejected", time.Since(started))
		logger.Warn("Trial command rejected", zap.String("reason", verdict.Reason))
		w.send(ctx, ev.ChatID, fmt.Sprintf("❌ %s failed. Output:\n%s", bot.Escape(flow.Title), bot.Pre(res.Combined)), nil)
		w.metrics.Provisioned(flow.Name, "remote_failed")
		return
	}
	w.metrics.ObserveRemote("ok", time.Since(started))

	w.record(ctx, ev, flow, target, res.Combined, logger)
	w.send(ctx, ev.ChatID, fmt.Sprintf("✅ %s created!\n\n%s", bot.Escape(flow.Title), bot.Pre(res.Combined)), nil)
	w.metrics.Provisioned(flow.Name, "committed")
}

// record writes the zero-cost purchase. A failure here is logged only; the
// account already exists on the server.
func (w *Workflow) record(ctx context.Context, ev bot.Event, flow Flow, target domain.Target, output string, logger *zap.Logger) {
	if _, err := w.ledger.EnsureAccount(ctx, ev.UserID, ev.UserName); err != nil {
		logger.Error("Failed to ensure account for trial", zap.Error(err))
		return
	}
	if r := []rune(output); len(r) > maxOutput {
		output = string(r[:maxOutput])
	}
	meta, _ := json.Marshal(map[string]any{
		"minutes": w.minutes,
		"server":  target.Host,
		"port":    target.Port,
		"output":  output,
	})
	purchase := &domain.Purchase{
		UserID:   ev.UserID,
		Kind:     flow.Kind(),
		Days:     0,
		TargetID: target.ID,
		Meta:     string(meta),
	}
	if _, _, err := w.ledger.Charge(ctx, purchase, 0); err != nil {
		logger.Error("Failed to record trial", zap.Error(err))
	}
}

// Continue reminds the user to use the buttons while a picker is open.
func (w *Workflow) Continue(ctx context.Context, ev bot.Event) (bool, error) {
	if ev.IsCallback() || !w.sessions.Active(key(ev)) {
		return false, nil
	}
	w.send(ctx, ev.ChatID, "👆 Pick a trial server with the buttons above, or send /batal.", nil)
	return true, nil
}

func (w *Workflow) Cancel(_ context.Context, ev bot.Event) bool {
	if w.sessions.Cancel(key(ev)) {
		w.metrics.SessionClosed(Name)
		return true
	}
	return false
}

func (w *Workflow) onExpire(k session.Key, _ session.Session[string]) {
	w.metrics.SessionClosed(Name)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.send(ctx, k.ChatID, "⏳ Trial session removed: no response.", nil)
}
