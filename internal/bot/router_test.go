package bot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/bot/bottest"
)

type fakeConversation struct {
	owns      bool
	continued int
	cancelled int
	err       error
}

func (f *fakeConversation) Continue(context.Context, bot.Event) (bool, error) {
	if !f.owns {
		return false, nil
	}
	f.continued++
	return true, f.err
}

func (f *fakeConversation) Cancel(context.Context, bot.Event) bool {
	if !f.owns {
		return false
	}
	f.cancelled++
	f.owns = false
	return true
}

func TestRouter_Dispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("Commands route by name", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		called := ""
		r.Command("addssh", func(_ context.Context, ev bot.Event) error {
			called = ev.Command
			return nil
		})

		err := r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: "/addssh", Command: "addssh"})
		assert.NoError(t, err)
		assert.Equal(t, "addssh", called)
	})

	t.Run("Text goes to the conversation owning the session", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		idle := &fakeConversation{}
		active := &fakeConversation{owns: true}
		r.Conversation(idle)
		r.Conversation(active)

		err := r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: "alice"})
		assert.NoError(t, err)
		assert.Equal(t, 0, idle.continued)
		assert.Equal(t, 1, active.continued)
	})

	t.Run("Conversation errors propagate", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		boom := errors.New("boom")
		r.Conversation(&fakeConversation{owns: true, err: boom})

		err := r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: "alice"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Fallback handles unclaimed text", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		r.Conversation(&fakeConversation{})
		fell := false
		r.Fallback(func(context.Context, bot.Event) error {
			fell = true
			return nil
		})

		assert.NoError(t, r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: "hello"}))
		assert.True(t, fell)
	})

	t.Run("Cancel words cancel every owned session", func(t *testing.T) {
		for _, word := range []string{"/batal", "batal", ".batal", " BATAL "} {
			rec := bottest.New()
			r := bot.NewRouter(rec)
			conv := &fakeConversation{owns: true}
			r.Conversation(conv)

			assert.NoError(t, r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: word}))
			assert.Equal(t, 1, conv.cancelled, word)
			assert.Len(t, rec.Containing("cancelled"), 1, word)
		}
	})

	t.Run("Cancel without session", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		r.Conversation(&fakeConversation{})

		assert.NoError(t, r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, Text: "/batal", Command: "batal"}))
		assert.Len(t, rec.Containing("No active session"), 1)
	})

	t.Run("Cancel button answers the callback", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		r.Conversation(&fakeConversation{owns: true})

		assert.NoError(t, r.Dispatch(ctx, bot.Event{ChatID: 1, UserID: 1, CallbackID: "cb", Data: bot.CancelData}))
		assert.Len(t, rec.Answers(), 1)
	})

	t.Run("Callbacks route by longest prefix", func(t *testing.T) {
		rec := bottest.New()
		r := bot.NewRouter(rec)
		hit := ""
		r.Callback("prov:", func(context.Context, bot.Event) error { hit = "prov"; return nil })
		r.Callback("prov:renew", func(context.Context, bot.Event) error { hit = "renew"; return nil })

		assert.NoError(t, r.Dispatch(ctx, bot.Event{CallbackID: "cb", Data: "prov:renewssh:A"}))
		assert.Equal(t, "renew", hit)

		assert.NoError(t, r.Dispatch(ctx, bot.Event{CallbackID: "cb", Data: "prov:addssh:A"}))
		assert.Equal(t, "prov", hit)

		assert.NoError(t, r.Dispatch(ctx, bot.Event{CallbackID: "cb2", Data: "unknown"}))
		assert.Len(t, rec.Answers(), 1)
	})
}

func TestParseCommand(t *testing.T) {
	cmd, args, ok := bot.ParseCommand("/TopUp@shop_bot 5000")
	assert.True(t, ok)
	assert.Equal(t, "topup", cmd)
	assert.Equal(t, "5000", args)

	_, _, ok = bot.ParseCommand("hello")
	assert.False(t, ok)

	_, _, ok = bot.ParseCommand("/")
	assert.False(t, ok)
}
