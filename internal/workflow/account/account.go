package account

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/domain"
)

const (
	CallbackMenu = "menu:"

	historyLimit = 10
	recentLimit  = 5
)

type Ledger interface {
	EnsureAccount(ctx context.Context, userID int64, name string) (*domain.Account, error)
	BalanceOf(ctx context.Context, userID int64) (int64, error)
	Purchases(ctx context.Context, userID int64, limit int) ([]domain.Purchase, error)
	Deposits(ctx context.Context, userID int64, limit int) ([]domain.Deposit, error)
}

// Entry is one menu button that runs Command when pressed.
type Entry struct {
	Label   string
	Command string
}

type Workflow struct {
	transport bot.Transport
	ledger    Ledger
	brand     string
	entries   []Entry
	isAdmin   func(userID int64) bool
	dispatch  bot.HandlerFunc
}

func New(transport bot.Transport, ledger Ledger, brand string, isAdmin func(int64) bool, entries ...Entry) *Workflow {
	return &Workflow{
		transport: transport,
		ledger:    ledger,
		brand:     brand,
		entries:   entries,
		isAdmin:   isAdmin,
	}
}

func (w *Workflow) Register(r *bot.Router) {
	w.dispatch = r.Dispatch
	r.Command("start", w.Menu)
	r.Command("menu", w.Menu)
	r.Command("saldo", w.Balance)
	r.Command("ceksaldo", w.Balance)
	r.Command("me", w.Balance)
	r.Command("history", w.History)
	r.Command("riwayat", w.History)
	r.Callback(CallbackMenu, w.Press)
	r.Fallback(w.Unknown)
}

func (w *Workflow) send(ctx context.Context, chatID int64, text string, kb bot.Keyboard) error {
	_, err := w.transport.SendText(ctx, chatID, text, kb)
	return err
}

func (w *Workflow) keyboard() bot.Keyboard {
	kb := make(bot.Keyboard, 0, (len(w.entries)+1)/2)
	for i := 0; i < len(w.entries); i += 2 {
		row := bot.Row(bot.DataButton(w.entries[i].Label, CallbackMenu+w.entries[i].Command))
		if i+1 < len(w.entries) {
			row = append(row, bot.DataButton(w.entries[i+1].Label, CallbackMenu+w.entries[i+1].Command))
		}
		kb = append(kb, row)
	}
	return kb
}

func (w *Workflow) Menu(ctx context.Context, ev bot.Event) error {
	account, err := w.ledger.EnsureAccount(ctx, ev.UserID, ev.UserName)
	if err != nil {
		zap.L().Error("Failed to ensure account", zap.Int64("userID", ev.UserID), zap.Error(err))
		return w.send(ctx, ev.ChatID, "❌ Your account is unavailable right now. Try again later.", nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👋 Welcome to <b>%s</b>, %s!\n\n", bot.Escape(w.brand), bot.Escape(ev.UserName))
	fmt.Fprintf(&b, "💰 Balance: <b>%s</b>\n🆔 ID: <code>%d</code>\n", bot.IDR(account.Balance), ev.UserID)
	if w.isAdmin != nil && w.isAdmin(ev.UserID) {
		b.WriteString("🛡 You are an admin\n")
	}
	b.WriteString("\nChoose a menu below:")
	return w.send(ctx, ev.ChatID, b.String(), w.keyboard())
}

// Press runs the command behind a menu button as if the user had typed it.
func (w *Workflow) Press(ctx context.Context, ev bot.Event) error {
	cmd := strings.TrimPrefix(ev.Data, CallbackMenu)
	if err := w.transport.AnswerCallback(ctx, ev.CallbackID, "", false); err != nil {
		zap.L().Warn("Failed to answer callback", zap.String("callbackID", ev.CallbackID), zap.Error(err))
	}
	if cmd == "" || w.dispatch == nil {
		return nil
	}

	next := ev
	next.CallbackID = ""
	next.Data = ""
	next.Command = cmd
	next.Text = "/" + cmd
	next.Args = ""
	return w.dispatch(ctx, next)
}

func (w *Workflow) Balance(ctx context.Context, ev bot.Event) error {
	if _, err := w.ledger.EnsureAccount(ctx, ev.UserID, ev.UserName); err != nil {
		zap.L().Error("Failed to ensure account", zap.Int64("userID", ev.UserID), zap.Error(err))
		return w.send(ctx, ev.ChatID, "❌ Your account is unavailable right now. Try again later.", nil)
	}
	balance, err := w.ledger.BalanceOf(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("balance of %d: %w", ev.UserID, err)
	}
	purchases, err := w.ledger.Purchases(ctx, ev.UserID, recentLimit)
	if err != nil {
		return fmt.Errorf("purchases of %d: %w", ev.UserID, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "👤 <b>Account</b>\n\n• Name: %s\n• Balance: <b>%s</b>\n", bot.Escape(ev.UserName), bot.IDR(balance))
	if len(purchases) == 0 {
		b.WriteString("\nNo purchases yet.")
	} else {
		b.WriteString("\n🧾 <b>Recent purchases</b>\n")
		for _, p := range purchases {
			fmt.Fprintf(&b, "• %s | %s | %s\n", p.CreatedAt.Format("2006-01-02 15:04"), bot.Escape(p.Kind), describe(p))
		}
	}
	return w.send(ctx, ev.ChatID, b.String(), nil)
}

func describe(p domain.Purchase) string {
	target := bot.Escape(p.TargetID)
	if p.Days == 0 {
		return target
	}
	return fmt.Sprintf("%s | %d days", target, p.Days)
}

func (w *Workflow) History(ctx context.Context, ev bot.Event) error {
	deposits, err := w.ledger.Deposits(ctx, ev.UserID, historyLimit)
	if err != nil {
		return fmt.Errorf("deposits of %d: %w", ev.UserID, err)
	}
	if len(deposits) == 0 {
		return w.send(ctx, ev.ChatID, "ℹ️ No top-up history.", nil)
	}

	var b strings.Builder
	b.WriteString("📄 <b>Recent top-ups</b>\n\n")
	for _, d := range deposits {
		fmt.Fprintf(&b, "• ID: #%d | Amount: %s | Status: %s\n", d.ID, bot.IDR(d.Amount), d.Status)
	}
	return w.send(ctx, ev.ChatID, b.String(), nil)
}

func (w *Workflow) Unknown(ctx context.Context, ev bot.Event) error {
	if ev.IsCommand() {
		return w.send(ctx, ev.ChatID, "❓ Unknown command. Send /menu to see what I can do.", nil)
	}
	return nil
}
