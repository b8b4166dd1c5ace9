package trial

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/bot/bottest"
	"github.com/GlebRadaev/vpnshop/internal/catalog"
	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/internal/domain"
	"github.com/GlebRadaev/vpnshop/internal/remote"
)

var (
	targetA = domain.Target{ID: "A", Host: "10.0.0.1", Port: 22}
	today   = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
)

func NewMock(t *testing.T) (*Workflow, *MockLedger, *MockCatalog, *MockExecutor, *bottest.Recorder) {
	ctrl := gomock.NewController(t)
	ledger := NewMockLedger(ctrl)
	cat := NewMockCatalog(ctrl)
	executor := NewMockExecutor(ctrl)
	rec := bottest.New()

	cfg := &config.Config{
		SessionTTL:       time.Minute,
		SSHTimeout:       5 * time.Second,
		TrialLimitPerDay: 2,
		TrialMinutes:     30,
		AdminIDs:         []int64{1},
	}
	w := New(cfg, rec, ledger, cat, executor, nil, nil)
	w.now = func() time.Time { return today.Add(15 * time.Hour) }
	return w, ledger, cat, executor, rec
}

func msg(userID int64, text string) bot.Event {
	return bot.Event{ChatID: 7, UserID: userID, UserName: "Bob", Text: text}
}

func pick(userID int64, data string) bot.Event {
	return bot.Event{ChatID: 7, UserID: userID, UserName: "Bob", CallbackID: "cb", MessageID: 3, Data: data}
}

func TestWorkflow_Trial(t *testing.T) {
	w, ledger, cat, executor, rec := NewMock(t)
	ctx := context.Background()

	ledger.EXPECT().TrialsSince(gomock.Any(), int64(42), today).Return(1, nil).Times(2)
	cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)
	cat.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
	executor.EXPECT().Run(gomock.Any(), targetA, "/usr/local/sbin/bot-trialvl 30", 5*time.Second).
		Return(&remote.Result{Combined: "Remarks: trial123\nExpired: 30 minutes"}, nil)
	ledger.EXPECT().EnsureAccount(gomock.Any(), int64(42), "Bob").Return(&domain.Account{UserID: 42}, nil)
	ledger.EXPECT().Charge(gomock.Any(), gomock.Any(), int64(0)).
		DoAndReturn(func(_ context.Context, p *domain.Purchase, _ int64) (*domain.Purchase, int64, error) {
			assert.Equal(t, "trial-vless", p.Kind)
			assert.Equal(t, 0, p.Days)
			assert.Equal(t, "A", p.TargetID)

			var meta map[string]any
			require.NoError(t, json.Unmarshal([]byte(p.Meta), &meta))
			assert.Equal(t, float64(30), meta["minutes"])
			assert.Equal(t, "10.0.0.1", meta["server"])
			return p, 0, nil
		})

	require.NoError(t, w.Start(ctx, msg(42, "/trialvless"), "trialvless"))
	picker := rec.Last()
	require.Len(t, picker.Keyboard, 2)
	assert.Equal(t, "trial:trialvless:A", picker.Keyboard[0][0].Data)
	assert.Equal(t, bot.CancelData, picker.Keyboard[1][0].Data)

	require.NoError(t, w.Pick(ctx, pick(42, "trial:trialvless:A")))

	all := rec.All()
	require.GreaterOrEqual(t, len(all), 4)
	assert.Equal(t, bottest.KindAnswer, all[1].Kind)
	assert.Equal(t, "Selected: A", all[1].Text)
	assert.Equal(t, bottest.KindEdit, all[2].Kind)
	assert.Contains(t, all[2].Text, "Creating")
	assert.Contains(t, rec.Last().Text, "Trial VLess created")
	assert.Contains(t, rec.Last().Text, "trial123")
	assert.False(t, w.sessions.Active(key(msg(42, ""))))
}

func TestWorkflow_LimitReached(t *testing.T) {
	w, ledger, _, _, rec := NewMock(t)

	ledger.EXPECT().TrialsSince(gomock.Any(), int64(42), today).Return(2, nil)

	require.NoError(t, w.Start(context.Background(), msg(42, "/trialssh"), "trialssh"))
	assert.Contains(t, rec.Last().Text, "limit of <b>2</b>")
	assert.False(t, w.sessions.Active(key(msg(42, ""))))
}

func TestWorkflow_AdminExempt(t *testing.T) {
	w, _, cat, _, rec := NewMock(t)

	cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)

	require.NoError(t, w.Start(context.Background(), msg(1, "/trialssh"), "trialssh"))
	assert.Contains(t, rec.Last().Text, "Trial SSH")
	assert.True(t, w.sessions.Active(key(msg(1, ""))))
}

func TestWorkflow_RemoteFailureNotRecorded(t *testing.T) {
	tests := []struct {
		name     string
		result   *remote.Result
		err      error
		expected string
	}{
		{name: "SSH error", err: errors.Join(remote.ErrConnection, errors.New("dial tcp: refused")), expected: "SSH error"},
		{name: "Script failed", result: &remote.Result{ExitCode: 2, Combined: "bot-trial: command not found"}, expected: "command not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _, cat, executor, rec := NewMock(t)
			ctx := context.Background()

			cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)
			cat.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
			executor.EXPECT().Run(gomock.Any(), targetA, "/usr/local/sbin/bot-trial 30", gomock.Any()).Return(tt.result, tt.err)

			require.NoError(t, w.Start(ctx, msg(1, "/trialssh"), "trialssh"))
			require.NoError(t, w.Pick(ctx, pick(1, "trial:trialssh:A")))
			assert.Contains(t, rec.Last().Text, tt.expected)
		})
	}
}

func TestWorkflow_Pick(t *testing.T) {
	t.Run("Unknown target keeps the session", func(t *testing.T) {
		w, _, cat, _, rec := NewMock(t)
		ctx := context.Background()

		cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)
		cat.EXPECT().Target(gomock.Any(), "Z").Return(domain.Target{}, catalog.ErrTargetNotFound)

		require.NoError(t, w.Start(ctx, msg(1, "/trialssh"), "trialssh"))
		require.NoError(t, w.Pick(ctx, pick(1, "trial:trialssh:Z")))

		answers := rec.Answers()
		require.Len(t, answers, 1)
		assert.Equal(t, "Invalid server!", answers[0].Text)
		assert.True(t, w.sessions.Active(key(msg(1, ""))))
	})

	t.Run("Stale menu", func(t *testing.T) {
		w, _, cat, _, rec := NewMock(t)
		ctx := context.Background()

		cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)

		require.NoError(t, w.Start(ctx, msg(1, "/trialssh"), "trialssh"))
		require.NoError(t, w.Pick(ctx, pick(1, "trial:trialvmess:A")))
		assert.Contains(t, rec.Answers()[0].Text, "no longer active")
	})

	t.Run("No session", func(t *testing.T) {
		w, _, _, _, rec := NewMock(t)

		require.NoError(t, w.Pick(context.Background(), pick(1, "trial:trialssh:A")))
		assert.Contains(t, rec.Answers()[0].Text, "expired")
	})
}

func TestWorkflow_ContinueAndCancel(t *testing.T) {
	w, _, cat, _, rec := NewMock(t)
	ctx := context.Background()

	handled, err := w.Continue(ctx, msg(1, "hello"))
	require.NoError(t, err)
	assert.False(t, handled)

	cat.EXPECT().ListTargets(gomock.Any()).Return([]domain.Target{targetA}, nil)
	require.NoError(t, w.Start(ctx, msg(1, "/trialssh"), "trialssh"))

	handled, err = w.Continue(ctx, msg(1, "hello"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, rec.Last().Text, "buttons above")

	require.NoError(t, w.Start(ctx, msg(1, "/trialvmess"), "trialvmess"))
	assert.Contains(t, rec.Last().Text, "/batal first")

	assert.True(t, w.Cancel(ctx, msg(1, "/batal")))
	assert.False(t, w.Cancel(ctx, msg(1, "/batal")))
}

func TestWorkflow_Register(t *testing.T) {
	w, _, _, _, rec := NewMock(t)
	r := bot.NewRouter(rec)
	w.Register(r)

	require.NoError(t, r.Dispatch(context.Background(), bot.Event{ChatID: 7, UserID: 42, Data: "trial:trialssh:A", CallbackID: "x"}))
	assert.Contains(t, rec.Answers()[0].Text, "expired")

	for _, f := range w.Flows() {
		assert.True(t, strings.HasPrefix(f.Kind(), "trial-"), f.Name)
		assert.Contains(t, f.Command, "{MIN}")
	}
}
