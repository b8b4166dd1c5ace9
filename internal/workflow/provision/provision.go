package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/GlebRadaev/vpnshop/pkg/validate"
)

const (
	Name         = "provision"
	CallbackPick = "prov:"

	StepSelectTarget = "select_target"
	StepUsername     = "username"
	StepSecret       = "secret"
	StepDuration     = "duration"
)

var (
	ErrCapacityExceeded = errors.New("target capacity exceeded")
	ErrUnknownFlow      = errors.New("unknown flow")
)

type Ledger interface {
	EnsureAccount(ctx context.Context, userID int64, name string) (*domain.Account, error)
	BalanceOf(ctx context.Context, userID int64) (int64, error)
	Charge(ctx context.Context, purchase *domain.Purchase, cost int64) (*domain.Purchase, int64, error)
}

type Catalog interface {
	Statuses(ctx context.Context, kind string) ([]catalog.TargetStatus, error)
	Target(ctx context.Context, id string) (domain.Target, error)
	CapacityUsed(ctx context.Context, targetID string, kind string) (int, error)
}

type Executor interface {
	Run(ctx context.Context, target domain.Target, command string, timeout time.Duration) (*remote.Result, error)
}

// Job is the session payload collected before Execute.
type Job struct {
	Flow     string
	Target   domain.Target
	Username string
	Secret   string
	Days     int
	Cost     int64
}

type Workflow struct {
	transport bot.Transport
	ledger    Ledger
	catalog   Catalog
	executor  Executor
	policy    remote.Policy
	metrics   *observability.Metrics

	sessions *session.Store[Job]
	flows    map[string]Flow
	slots    *slotLocks
	order    []string
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg *config.Config, transport bot.Transport, ledger Ledger, catalog Catalog, executor Executor, policy remote.Policy, metrics *observability.Metrics, flows ...Flow) *Workflow {
	if len(flows) == 0 {
		flows = DefaultFlows()
	}
	if policy == nil {
		policy = remote.NewMarkerPolicy()
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
		flows:     make(map[string]Flow, len(flows)),
		slots:     newSlotLocks(),
		timeout:   timeout,
		now:       time.Now,
	}
	for _, f := range flows {
		w.flows[f.Name] = f
		w.order = append(w.order, f.Name)
	}
	w.sessions = session.New[Job](cfg.SessionTTL, w.onExpire)
	return w
}

// Register wires every flow command, the target picker and the conversation into r.
func (w *Workflow) Register(r *bot.Router) {
	for _, name := range w.order {
		flow := w.flows[name]
		r.Command(flow.Name, func(ctx context.Context, ev bot.Event) error {
			return w.Start(ctx, ev, flow.Name)
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

func (w *Workflow) answer(ctx context.Context, ev bot.Event, text string, alert bool) {
	if err := w.transport.AnswerCallback(ctx, ev.CallbackID, text, alert); err != nil {
		zap.L().Warn("Failed to answer callback", zap.String("callbackID", ev.CallbackID), zap.Error(err))
	}
}

func cancelRow() []bot.Button {
	return bot.Row(bot.DataButton("❌ Cancel", bot.CancelData))
}

// Start opens a session for flow and shows the target picker.
// A second start while a session is open is refused until the user cancels.
func (w *Workflow) Start(ctx context.Context, ev bot.Event, flowName string) error {
	flow, ok := w.flows[flowName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFlow, flowName)
	}
	if w.sessions.Active(key(ev)) {
		w.send(ctx, ev.ChatID, "⚠️ You already have an open session. Finish it or send /batal first.", nil)
		return nil
	}

	statuses, err := w.catalog.Statuses(ctx, flow.Kind)
	if err != nil {
		zap.L().Error("Failed to load catalog", zap.String("flow", flow.Name), zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Server list is unavailable right now.", nil)
		return nil
	}
	if len(statuses) == 0 {
		w.send(ctx, ev.ChatID, "❌ No servers available.", nil)
		return nil
	}

	if _, err := w.sessions.Create(key(ev), StepSelectTarget, Job{Flow: flow.Name}, 0); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			w.send(ctx, ev.ChatID, "⚠️ You already have an open session. Finish it or send /batal first.", nil)
			return nil
		}
		return err
	}
	w.metrics.SessionOpened(Name)

	text, kb := w.picker(flow, statuses)
	w.send(ctx, ev.ChatID, text, kb)
	return nil
}

func (w *Workflow) picker(flow Flow, statuses []catalog.TargetStatus) (string, bot.Keyboard) {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n📋 <b>Servers</b>\n\n", bot.Escape(flow.Title))

	kb := make(bot.Keyboard, 0, len(statuses)+1)
	for _, st := range statuses {
		full := st.Full && !flow.Renew
		fmt.Fprintf(&b, "🌐 <b>%s</b>\n💰 %s per day\n", bot.Escape(st.ID), bot.IDR(st.PricePerDay))
		switch {
		case full:
			b.WriteString("⚠️ Server full\n\n")
		case st.Limit > 0:
			fmt.Fprintf(&b, "👥 Accounts: %d/%d\n\n", st.Used, st.Limit)
		default:
			fmt.Fprintf(&b, "👥 Accounts: %d/∞\n\n", st.Used)
		}

		label := fmt.Sprintf("%s (%s/day)", st.ID, bot.IDR(st.PricePerDay))
		if full {
			label = fmt.Sprintf("❌ %s (full)", st.ID)
		}
		kb = append(kb, bot.Row(bot.DataButton(label, CallbackPick+flow.Name+":"+st.ID)))
	}
	kb = append(kb, cancelRow())
	b.WriteString("Pick a server below:")
	return b.String(), kb
}

// Pick handles "prov:<flow>:<target>" button presses.
func (w *Workflow) Pick(ctx context.Context, ev bot.Event) error {
	parts := strings.SplitN(strings.TrimPrefix(ev.Data, CallbackPick), ":", 2)
	if len(parts) != 2 {
		w.answer(ctx, ev, "Invalid choice.", false)
		return nil
	}
	flowName, targetID := parts[0], parts[1]

	err := w.sessions.Advance(key(ev), func(s *session.Session[Job]) (session.Action, error) {
		if s.Payload.Flow != flowName {
			w.answer(ctx, ev, "This menu is no longer active.", false)
			return session.Keep, nil
		}
		if s.Step != StepSelectTarget {
			w.answer(ctx, ev, "Server already chosen.", false)
			return session.Keep, nil
		}
		flow := w.flows[flowName]

		target, err := w.catalog.Target(ctx, targetID)
		if err != nil {
			if errors.Is(err, catalog.ErrTargetNotFound) {
				w.answer(ctx, ev, "❌ Server not found.", true)
				return session.Keep, nil
			}
			w.answer(ctx, ev, "❌ Server list is unavailable, try again.", false)
			return session.Keep, err
		}
		if !flow.Renew {
			if err := w.checkCapacity(ctx, target, flow.Kind); err != nil {
				if errors.Is(err, ErrCapacityExceeded) {
					w.answer(ctx, ev, "⚠️ This server is full, pick another one.", true)
					return session.Keep, nil
				}
				w.answer(ctx, ev, "❌ Could not check server capacity, try again.", false)
				return session.Keep, err
			}
		}

		s.Payload.Target = target
		s.Step = StepUsername
		w.answer(ctx, ev, "", false)

		prompt := fmt.Sprintf("✅ Server: <b>%s</b>\n\n👤 Enter the <b>username</b>:\n\nSend /batal to cancel.", bot.Escape(target.ID))
		if flow.Renew {
			prompt = fmt.Sprintf("✅ Server: <b>%s</b>\n\n👤 Enter the <b>username</b> to renew:\n\nSend /batal to cancel.", bot.Escape(target.ID))
		}
		if err := w.transport.EditText(ctx, ev.ChatID, ev.MessageID, prompt, nil); err != nil {
			w.send(ctx, ev.ChatID, prompt, nil)
		}
		return session.Keep, nil
	})
	if errors.Is(err, session.ErrNoSession) {
		w.answer(ctx, ev, "❌ Session expired.", false)
		return nil
	}
	return err
}

// Continue consumes text for an open session. It reports false when the sender has none.
func (w *Workflow) Continue(ctx context.Context, ev bot.Event) (bool, error) {
	if ev.IsCallback() || !w.sessions.Active(key(ev)) {
		return false, nil
	}

	finished := false
	err := w.sessions.Advance(key(ev), func(s *session.Session[Job]) (action session.Action, err error) {
		defer func() { finished = action == session.Finish }()

		flow := w.flows[s.Payload.Flow]
		switch s.Step {
		case StepSelectTarget:
			w.send(ctx, ev.ChatID, "👆 Pick a server with the buttons above, or send /batal.", nil)
			return session.Keep, nil
		case StepUsername:
			return w.collectUsername(ctx, ev, flow, s)
		case StepSecret:
			secret, err := validate.Secret(ev.Text)
			if err != nil {
				w.send(ctx, ev.ChatID, "⚠️ Password must be 3-64 characters. Try again.", nil)
				return session.Keep, nil
			}
			s.Payload.Secret = secret
			s.Step = StepDuration
			w.send(ctx, ev.ChatID, "⏳ Enter the <b>duration</b> in days:\n\nSend /batal to cancel.", nil)
			return session.Keep, nil
		case StepDuration:
			return w.collectDuration(ctx, ev, flow, s)
		default:
			return session.Finish, fmt.Errorf("unexpected step %q", s.Step)
		}
	})
	if errors.Is(err, session.ErrNoSession) {
		return false, nil
	}
	if finished {
		w.closed()
	}
	return true, err
}

func (w *Workflow) collectUsername(ctx context.Context, ev bot.Event, flow Flow, s *session.Session[Job]) (session.Action, error) {
	user, err := validate.Username(ev.Text)
	if err != nil {
		w.send(ctx, ev.ChatID, "⚠️ Username must be 3-32 characters (letters, digits, _ . -). Try again.", nil)
		return session.Keep, nil
	}
	s.Payload.Username = user

	if flow.Renew {
		found, err := w.lookupUser(ctx, flow, s.Payload.Target, user)
		switch {
		case err != nil:
			zap.L().Warn("Account lookup failed", zap.String("flow", flow.Name), zap.String("targetID", s.Payload.Target.ID), zap.Error(err))
			w.send(ctx, ev.ChatID, fmt.Sprintf("❌ Could not read the account list: %s\nBalance not charged.", bot.Escape(reason(err))), nil)
			w.metrics.Provisioned(flow.Name, "lookup_failed")
			return session.Finish, nil
		case found == lookupMissing:
			w.send(ctx, ev.ChatID, fmt.Sprintf("❌ User <b>%s</b> was not found on this server.\nBalance not charged.", bot.Escape(user)), nil)
			w.metrics.Provisioned(flow.Name, "not_found")
			return session.Finish, nil
		case found == lookupFallback:
			w.send(ctx, ev.ChatID, "⚠️ Warning: the user was matched without its account marker.", nil)
		}
	}

	if flow.NeedsSecret {
		s.Step = StepSecret
		w.send(ctx, ev.ChatID, "🔒 Enter the <b>password</b>:\n\nSend /batal to cancel.", nil)
		return session.Keep, nil
	}
	s.Step = StepDuration
	w.send(ctx, ev.ChatID, "⏳ Enter the <b>duration</b> in days:\n\nSend /batal to cancel.", nil)
	return session.Keep, nil
}

func (w *Workflow) collectDuration(ctx context.Context, ev bot.Event, flow Flow, s *session.Session[Job]) (session.Action, error) {
	days, err := validate.Days(ev.Text)
	if err != nil {
		w.send(ctx, ev.ChatID, fmt.Sprintf("⚠️ Invalid duration (%d-%d days). Try again.", validate.MinDays, validate.MaxDays), nil)
		return session.Keep, nil
	}
	if s.Payload.Target.PricePerDay <= 0 {
		w.send(ctx, ev.ChatID, "❌ This server has no price configured.", nil)
		w.metrics.Provisioned(flow.Name, "no_price")
		return session.Finish, nil
	}

	s.Payload.Days = days
	s.Payload.Cost = int64(days) * s.Payload.Target.PricePerDay

	job := s.Payload
	w.execute(ctx, ev, flow, job)
	return session.Finish, nil
}

// execute runs the job and charges the ledger only after the policy accepted the remote result.
func (w *Workflow) execute(ctx context.Context, ev bot.Event, flow Flow, job Job) {
	logger := zap.L().With(
		zap.String("flow", flow.Name),
		zap.Int64("userID", ev.UserID),
		zap.String("targetID", job.Target.ID),
		zap.String("username", job.Username),
	)

	if _, err := w.ledger.EnsureAccount(ctx, ev.UserID, ev.UserName); err != nil {
		logger.Error("Failed to ensure account", zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Your account is unavailable right now. Try again later.", nil)
		w.metrics.Provisioned(flow.Name, "error")
		return
	}
	balance, err := w.ledger.BalanceOf(ctx, ev.UserID)
	if err != nil {
		logger.Error("Failed to read balance", zap.Error(err))
		w.send(ctx, ev.ChatID, "❌ Your account is unavailable right now. Try again later.", nil)
		w.metrics.Provisioned(flow.Name, "error")
		return
	}
	if balance < job.Cost {
		w.send(ctx, ev.ChatID, fmt.Sprintf(
			"💸 <b>Insufficient balance.</b>\n• Price: %s\n• Balance: %s\n• Short by: <b>%s</b>",
			bot.IDR(job.Cost), bot.IDR(balance), bot.IDR(job.Cost-balance)), nil)
		w.metrics.Provisioned(flow.Name, "insufficient_funds")
		return
	}
	if !flow.Renew {
		// Held until the charge lands so the next add on this target counts it.
		if job.Target.Limit > 0 {
			defer w.slots.lock(job.Target.ID + "/" + flow.Kind)()
		}
		if err := w.checkCapacity(ctx, job.Target, flow.Kind); err != nil {
			if errors.Is(err, ErrCapacityExceeded) {
				w.send(ctx, ev.ChatID, fmt.Sprintf("⚠️ Server <b>%s</b> is full. Pick another server.", bot.Escape(job.Target.ID)), nil)
				w.metrics.Provisioned(flow.Name, "capacity_exceeded")
				return
			}
			logger.Error("Failed to check capacity", zap.Error(err))
			w.send(ctx, ev.ChatID, "❌ Could not check server capacity. Try again later.", nil)
			w.metrics.Provisioned(flow.Name, "error")
			return
		}
	}

	exp := flow.Exp(w.now(), job.Days)
	command := flow.Render(job.Username, job.Secret, exp)

	w.send(ctx, ev.ChatID, fmt.Sprintf(
		"⏳ %s on server <b>%s</b>\n• Username: %s\n• Duration: %d days\n• Total price: %s\n• Balance before: %s",
		bot.Escape(flow.Title), bot.Escape(job.Target.ID), bot.Escape(job.Username), job.Days, bot.IDR(job.Cost), bot.IDR(balance)), nil)

	started := w.now()
	res, err := w.executor.Run(ctx, job.Target, command, w.timeout)
	if err != nil {
		w.metrics.ObserveRemote("error", time.Since(started))
		logger.Warn("Remote command failed", zap.Error(err))
		w.send(ctx, ev.ChatID, fmt.Sprintf("❌ %s failed. Balance not charged.\nReason: %s", bot.Escape(flow.Title), bot.Escape(reason(err))), nil)
		w.metrics.Provisioned(flow.Name, "remote_failed")
		return
	}

	verdict := w.policy.Evaluate(res)
	if !verdict.OK {
		w.metrics.ObserveRemote("rejected", time.Since(started))
		logger.Warn("Remote command rejected", zap.String("reason", verdict.Reason), zap.Int("exitCode", res.ExitCode))
		w.send(ctx, ev.ChatID, fmt.Sprintf("❌ %s failed. Output:\n%s\nBalance not charged.", bot.Escape(flow.Title), bot.Pre(res.Combined)), nil)
		w.metrics.Provisioned(flow.Name, "remote_failed")
		return
	}
	w.metrics.ObserveRemote("ok", time.Since(started))

	meta, _ := json.Marshal(map[string]any{
		"username": job.Username,
		"exp":      exp,
		"host":     job.Target.Host,
	})
	purchase := &domain.Purchase{
		UserID:   ev.UserID,
		Kind:     flow.Kind,
		Days:     job.Days,
		TargetID: job.Target.ID,
		Meta:     string(meta),
	}
	_, after, err := w.ledger.Charge(ctx, purchase, job.Cost)
	if err != nil {
		// The remote side already applied the change at this point.
		logger.Error("Charge failed after successful remote command", zap.Int64("cost", job.Cost), zap.Error(err))
		text := "⚠️ The account was processed but the payment could not be recorded. Please contact the admin."
		if errors.Is(err, ledgerservice.ErrInsufficientFunds) {
			text = "⚠️ The account was processed but your balance changed before payment. Please contact the admin."
		}
		w.send(ctx, ev.ChatID, text+"\n\n"+bot.Pre(res.Combined), nil)
		w.metrics.Provisioned(flow.Name, "charge_failed")
		return
	}

	logger.Info("Provisioning committed", zap.Int64("cost", job.Cost), zap.Int64("balance", after))
	w.send(ctx, ev.ChatID, fmt.Sprintf("✅ %s succeeded!\n\n%s\n💰 Balance: %s",
		bot.Escape(flow.Title), bot.Pre(res.Combined), bot.IDR(after)), nil)
	w.metrics.Provisioned(flow.Name, "committed")
}

func (w *Workflow) checkCapacity(ctx context.Context, target domain.Target, kind string) error {
	if target.Limit <= 0 {
		return nil
	}
	used, err := w.catalog.CapacityUsed(ctx, target.ID, kind)
	if err != nil {
		return err
	}
	if catalog.IsFull(target, used) {
		return ErrCapacityExceeded
	}
	return nil
}

// Cancel drops the sender's session without notifying; the router replies.
func (w *Workflow) Cancel(_ context.Context, ev bot.Event) bool {
	if w.sessions.Cancel(key(ev)) {
		w.closed()
		return true
	}
	return false
}

func (w *Workflow) Active(ev bot.Event) bool {
	return w.sessions.Active(key(ev))
}

func (w *Workflow) closed() {
	w.metrics.SessionClosed(Name)
}

func (w *Workflow) onExpire(k session.Key, s session.Session[Job]) {
	w.closed()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	zap.L().Info("Session timed out", zap.Int64("userID", k.UserID), zap.String("flow", s.Payload.Flow), zap.String("step", s.Step))
	w.send(ctx, k.ChatID, "⏳ Session cancelled: timed out waiting for your reply.", nil)
}

func reason(err error) string {
	switch {
	case errors.Is(err, remote.ErrTimeout):
		return "timeout"
	case errors.Is(err, remote.ErrConnection):
		return "connection error"
	case errors.Is(err, remote.ErrExec):
		return "execution error"
	default:
		return err.Error()
	}
}
