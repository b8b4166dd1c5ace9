package bot

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// CancelData is the callback payload of every "cancel" button.
const CancelData = "cancel"

var cancelWords = map[string]struct{}{
	"/batal":  {},
	"batal":   {},
	".batal":  {},
	"/cancel": {},
}

type HandlerFunc func(ctx context.Context, ev Event) error

// Conversation is a workflow that owns sessions.
// Continue reports false when the sender has no session in this workflow.
type Conversation interface {
	Continue(ctx context.Context, ev Event) (bool, error)
	Cancel(ctx context.Context, ev Event) bool
}

type callbackRoute struct {
	prefix  string
	handler HandlerFunc
}

type Router struct {
	transport     Transport
	commands      map[string]HandlerFunc
	callbacks     []callbackRoute
	conversations []Conversation
	fallback      HandlerFunc
}

func NewRouter(transport Transport) *Router {
	return &Router{
		transport: transport,
		commands:  make(map[string]HandlerFunc),
	}
}

func (r *Router) Command(name string, h HandlerFunc) {
	r.commands[strings.ToLower(name)] = h
}

// Callback routes button presses whose data starts with prefix. The longest prefix wins.
func (r *Router) Callback(prefix string, h HandlerFunc) {
	r.callbacks = append(r.callbacks, callbackRoute{prefix: prefix, handler: h})
	sort.SliceStable(r.callbacks, func(i, j int) bool {
		return len(r.callbacks[i].prefix) > len(r.callbacks[j].prefix)
	})
}

func (r *Router) Conversation(c Conversation) {
	r.conversations = append(r.conversations, c)
}

// Fallback handles plain text that no conversation claimed.
func (r *Router) Fallback(h HandlerFunc) {
	r.fallback = h
}

func IsCancel(ev Event) bool {
	if ev.IsCallback() {
		return ev.Data == CancelData
	}
	_, ok := cancelWords[strings.ToLower(strings.TrimSpace(ev.Text))]
	return ok
}

func (r *Router) Dispatch(ctx context.Context, ev Event) error {
	if IsCancel(ev) {
		return r.cancel(ctx, ev)
	}

	if ev.IsCallback() {
		for _, route := range r.callbacks {
			if strings.HasPrefix(ev.Data, route.prefix) {
				return route.handler(ctx, ev)
			}
		}
		zap.L().Debug("unrouted callback", zap.String("data", ev.Data), zap.Int64("userID", ev.UserID))
		return r.transport.AnswerCallback(ctx, ev.CallbackID, "", false)
	}

	if ev.IsCommand() {
		if h, ok := r.commands[ev.Command]; ok {
			return h(ctx, ev)
		}
	}

	for _, c := range r.conversations {
		handled, err := c.Continue(ctx, ev)
		if handled || err != nil {
			return err
		}
	}

	if r.fallback != nil {
		return r.fallback(ctx, ev)
	}
	return nil
}

func (r *Router) cancel(ctx context.Context, ev Event) error {
	cancelled := false
	for _, c := range r.conversations {
		if c.Cancel(ctx, ev) {
			cancelled = true
		}
	}

	if ev.IsCallback() {
		if err := r.transport.AnswerCallback(ctx, ev.CallbackID, "", false); err != nil {
			zap.L().Warn("failed to answer callback", zap.Error(err))
		}
	}

	text := "No active session."
	if cancelled {
		text = "❌ Session cancelled."
	}
	_, err := r.transport.SendText(ctx, ev.ChatID, text, nil)
	return err
}
