package provision

import (
	"context"
	"errors"
	"strings"
	"sync"
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
	"github.com/GlebRadaev/vpnshop/internal/service/ledgerservice"
)

type mocks struct {
	ledger   *MockLedger
	catalog  *MockCatalog
	executor *MockExecutor
	rec      *bottest.Recorder
}

func NewMock(t *testing.T, ttl time.Duration) (*Workflow, *mocks) {
	ctrl := gomock.NewController(t)
	m := &mocks{
		ledger:   NewMockLedger(ctrl),
		catalog:  NewMockCatalog(ctrl),
		executor: NewMockExecutor(ctrl),
		rec:      bottest.New(),
	}
	cfg := &config.Config{SessionTTL: ttl, SSHTimeout: 5 * time.Second}
	w := New(cfg, m.rec, m.ledger, m.catalog, m.executor, nil, nil)
	w.now = func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }
	return w, m
}

var targetA = domain.Target{ID: "A", Host: "10.0.0.1", Port: 22, Username: "root", Password: "x", PricePerDay: 500, Limit: 10}

func msg(text string) bot.Event {
	return bot.Event{ChatID: 7, UserID: 42, UserName: "Alice", Text: text}
}

func pick(flow, target string) bot.Event {
	return bot.Event{ChatID: 7, UserID: 42, UserName: "Alice", CallbackID: "cb", MessageID: 11, Data: CallbackPick + flow + ":" + target}
}

// openAdd runs the add flow up to the duration prompt.
func openAdd(t *testing.T, w *Workflow, m *mocks) {
	t.Helper()
	ctx := context.Background()

	m.catalog.EXPECT().Statuses(gomock.Any(), "ssh").Return([]catalog.TargetStatus{{Target: targetA, Used: 2}}, nil)
	m.catalog.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(2, nil)

	require.NoError(t, w.Start(ctx, msg("/addssh"), "addssh"))
	require.NoError(t, w.Pick(ctx, pick("addssh", "A")))

	for _, text := range []string{"alice", "pw123"} {
		handled, err := w.Continue(ctx, msg(text))
		require.NoError(t, err)
		require.True(t, handled)
	}
	s, ok := w.sessions.Get(key(msg("")))
	require.True(t, ok)
	require.Equal(t, StepDuration, s.Step)
}

func TestWorkflow_HappyPathAdd(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()
	openAdd(t, w, m)

	gomock.InOrder(
		m.ledger.EXPECT().EnsureAccount(gomock.Any(), int64(42), "Alice").Return(&domain.Account{UserID: 42, Balance: 3000}, nil),
		m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(3000), nil),
		m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(2, nil),
		m.executor.EXPECT().Run(gomock.Any(), targetA, "/usr/local/sbin/bot-addssh alice pw123 5", 5*time.Second).
			Return(&remote.Result{ExitCode: 0, Combined: "Username: alice\nExpired: 15 Jan"}, nil),
		m.ledger.EXPECT().Charge(gomock.Any(), gomock.Any(), int64(2500)).
			DoAndReturn(func(_ context.Context, p *domain.Purchase, _ int64) (*domain.Purchase, int64, error) {
				assert.Equal(t, int64(42), p.UserID)
				assert.Equal(t, "ssh", p.Kind)
				assert.Equal(t, 5, p.Days)
				assert.Equal(t, "A", p.TargetID)
				assert.Contains(t, p.Meta, `"username":"alice"`)
				return p, 500, nil
			}),
	)

	handled, err := w.Continue(ctx, msg("5"))
	require.NoError(t, err)
	assert.True(t, handled)

	last := m.rec.Last()
	assert.Contains(t, last.Text, "succeeded")
	assert.Contains(t, last.Text, "Rp500")
	assert.Contains(t, last.Text, "Username: alice")
	assert.False(t, w.Active(msg("")))
}

func TestWorkflow_InsufficientFunds(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	openAdd(t, w, m)

	m.ledger.EXPECT().EnsureAccount(gomock.Any(), int64(42), "Alice").Return(&domain.Account{UserID: 42, Balance: 2000}, nil)
	m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(2000), nil)

	handled, err := w.Continue(context.Background(), msg("5"))
	require.NoError(t, err)
	assert.True(t, handled)

	last := m.rec.Last()
	assert.Contains(t, last.Text, "Insufficient balance")
	assert.Contains(t, last.Text, "Rp2.500")
	assert.Contains(t, last.Text, "Rp500")
	assert.False(t, w.Active(msg("")))
}

func TestWorkflow_RemoteFailure(t *testing.T) {
	tests := []struct {
		name     string
		result   *remote.Result
		err      error
		expected string
	}{
		{
			name:     "Non-zero exit with marker",
			result:   &remote.Result{ExitCode: 1, Combined: "bash: permission denied"},
			expected: "permission denied",
		},
		{
			name:     "Zero exit with marker",
			result:   &remote.Result{ExitCode: 0, Combined: "user already exists: ERROR"},
			expected: "ERROR",
		},
		{
			name:     "Timeout",
			err:      remote.ErrTimeout,
			expected: "Reason: timeout",
		},
		{
			name:     "Connection refused",
			err:      errors.Join(remote.ErrConnection, errors.New("refused")),
			expected: "Reason: connection error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, m := NewMock(t, time.Minute)
			openAdd(t, w, m)

			m.ledger.EXPECT().EnsureAccount(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.Account{}, nil)
			m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(3000), nil)
			m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(2, nil)
			m.executor.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(tt.result, tt.err)

			handled, err := w.Continue(context.Background(), msg("5"))
			require.NoError(t, err)
			assert.True(t, handled)

			last := m.rec.Last()
			assert.Contains(t, last.Text, tt.expected)
			assert.Contains(t, last.Text, "Balance not charged")
			assert.False(t, w.Active(msg("")))
		})
	}
}

func TestWorkflow_CapacityFullAtExecute(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	openAdd(t, w, m)

	m.ledger.EXPECT().EnsureAccount(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.Account{}, nil)
	m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(3000), nil)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(10, nil)

	_, err := w.Continue(context.Background(), msg("5"))
	require.NoError(t, err)
	assert.Contains(t, m.rec.Last().Text, "is full")
	assert.False(t, w.Active(msg("")))
}

func TestWorkflow_ConcurrentAddsShareLastSlot(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()

	last := targetA
	last.Limit = 3
	job := Job{Flow: "addssh", Target: last, Username: "alice", Secret: "pw123", Days: 5, Cost: 2500}
	flow := w.flows["addssh"]

	var (
		mu     sync.Mutex
		used   = 2
		checks int
	)
	running := make(chan struct{})
	release := make(chan struct{})

	m.ledger.EXPECT().EnsureAccount(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.Account{}, nil).Times(2)
	m.ledger.EXPECT().BalanceOf(gomock.Any(), gomock.Any()).Return(int64(3000), nil).Times(2)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").DoAndReturn(func(context.Context, string, string) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		checks++
		return used, nil
	}).Times(2)
	m.executor.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, domain.Target, string, time.Duration) (*remote.Result, error) {
			close(running)
			<-release
			return &remote.Result{Combined: "ok"}, nil
		})
	m.ledger.EXPECT().Charge(gomock.Any(), gomock.Any(), int64(2500)).DoAndReturn(
		func(_ context.Context, p *domain.Purchase, _ int64) (*domain.Purchase, int64, error) {
			mu.Lock()
			defer mu.Unlock()
			used++
			return p, 500, nil
		})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.execute(ctx, bot.Event{ChatID: 7, UserID: 42, UserName: "Alice"}, flow, job)
	}()
	<-running
	go func() {
		defer wg.Done()
		w.execute(ctx, bot.Event{ChatID: 8, UserID: 43, UserName: "Bob"}, flow, job)
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, checks, "second add must wait for the first to be charged")
	mu.Unlock()

	close(release)
	wg.Wait()

	require.Len(t, m.rec.Containing("succeeded"), 1)
	full := m.rec.Containing("is full")
	require.Len(t, full, 1)
	assert.Equal(t, int64(8), full[0].ChatID)
	assert.Empty(t, w.slots.locks)
}

func TestSlotLocks(t *testing.T) {
	s := newSlotLocks()
	unlockA := s.lock("A/ssh")
	unlockB := s.lock("B/ssh")
	assert.Len(t, s.locks, 2)

	acquired := make(chan struct{})
	go func() {
		s.lock("A/ssh")()
		close(acquired)
	}()
	select {
	case <-acquired:
		t.Fatal("lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
	unlockB()
	assert.Empty(t, s.locks)
}

func TestWorkflow_ChargeFailsAfterRemoteSuccess(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	openAdd(t, w, m)

	m.ledger.EXPECT().EnsureAccount(gomock.Any(), gomock.Any(), gomock.Any()).Return(&domain.Account{}, nil)
	m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(3000), nil)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(2, nil)
	m.executor.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(&remote.Result{Combined: "ok"}, nil)
	m.ledger.EXPECT().Charge(gomock.Any(), gomock.Any(), int64(2500)).Return(nil, int64(0), ledgerservice.ErrInsufficientFunds)

	_, err := w.Continue(context.Background(), msg("5"))
	require.NoError(t, err)
	assert.Contains(t, m.rec.Last().Text, "contact the admin")
}

func TestWorkflow_PickFullTarget(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()

	full := targetA
	full.Limit = 2
	m.catalog.EXPECT().Statuses(gomock.Any(), "ssh").Return([]catalog.TargetStatus{{Target: full, Used: 2, Full: true}}, nil)
	m.catalog.EXPECT().Target(gomock.Any(), "A").Return(full, nil)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "ssh").Return(2, nil)

	require.NoError(t, w.Start(ctx, msg("/addssh"), "addssh"))
	picker := m.rec.Last()
	assert.Contains(t, picker.Text, "Server full")
	assert.Equal(t, "❌ A (full)", picker.Keyboard[0][0].Text)

	require.NoError(t, w.Pick(ctx, pick("addssh", "A")))

	answers := m.rec.Answers()
	require.Len(t, answers, 1)
	assert.True(t, answers[0].Alert)
	assert.Contains(t, answers[0].Text, "full")

	s, ok := w.sessions.Get(key(msg("")))
	require.True(t, ok)
	assert.Equal(t, StepSelectTarget, s.Step)
	assert.Empty(t, s.Payload.Target.ID)
}

func TestWorkflow_Validation(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()

	m.catalog.EXPECT().Statuses(gomock.Any(), "vmess").Return([]catalog.TargetStatus{{Target: targetA}}, nil)
	m.catalog.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
	m.catalog.EXPECT().CapacityUsed(gomock.Any(), "A", "vmess").Return(0, nil)

	require.NoError(t, w.Start(ctx, msg("/addvmess"), "addvmess"))

	handled, err := w.Continue(ctx, msg("alice"))
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Contains(t, m.rec.Last().Text, "Pick a server")

	require.NoError(t, w.Pick(ctx, pick("addvmess", "A")))
	edits := 0
	for _, s := range m.rec.All() {
		if s.Kind == bottest.KindEdit {
			edits++
			assert.Equal(t, 11, s.MessageID)
		}
	}
	assert.Equal(t, 1, edits)

	_, err = w.Continue(ctx, msg("a b"))
	require.NoError(t, err)
	assert.Contains(t, m.rec.Last().Text, "Username must be")

	_, err = w.Continue(ctx, msg("alice"))
	require.NoError(t, err)
	assert.Contains(t, m.rec.Last().Text, "duration")

	_, err = w.Continue(ctx, msg("0"))
	require.NoError(t, err)
	assert.Contains(t, m.rec.Last().Text, "Invalid duration")

	s, ok := w.sessions.Get(key(msg("")))
	require.True(t, ok)
	assert.Equal(t, StepDuration, s.Step)
	assert.Equal(t, "alice", s.Payload.Username)
	assert.Empty(t, s.Payload.Secret)
}

func TestWorkflow_NoPrice(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()

	free := targetA
	free.PricePerDay = 0
	free.Limit = 0
	m.catalog.EXPECT().Statuses(gomock.Any(), "trojan").Return([]catalog.TargetStatus{{Target: free}}, nil)
	m.catalog.EXPECT().Target(gomock.Any(), "A").Return(free, nil)

	require.NoError(t, w.Start(ctx, msg("/addtrojan"), "addtrojan"))
	require.NoError(t, w.Pick(ctx, pick("addtrojan", "A")))
	_, err := w.Continue(ctx, msg("alice"))
	require.NoError(t, err)
	_, err = w.Continue(ctx, msg("3"))
	require.NoError(t, err)

	assert.Contains(t, m.rec.Last().Text, "no price")
	assert.False(t, w.Active(msg("")))
}

func TestWorkflow_Renew(t *testing.T) {
	t.Run("User missing aborts before cost", func(t *testing.T) {
		w, m := NewMock(t, time.Minute)
		ctx := context.Background()

		m.catalog.EXPECT().Statuses(gomock.Any(), "renew-ssh").Return([]catalog.TargetStatus{{Target: targetA}}, nil)
		m.catalog.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
		m.executor.EXPECT().Run(gomock.Any(), targetA, "cat /etc/ssh/.ssh.db", 5*time.Second).
			Return(&remote.Result{Stdout: "### alice 2025-02-01\n#& carol 2025-03-01\n"}, nil)

		require.NoError(t, w.Start(ctx, msg("/renewssh"), "renewssh"))
		require.NoError(t, w.Pick(ctx, pick("renewssh", "A")))
		_, err := w.Continue(ctx, msg("bob"))
		require.NoError(t, err)

		assert.Contains(t, m.rec.Last().Text, "was not found")
		assert.False(t, w.Active(msg("")))
	})

	t.Run("User found is renewed and charged", func(t *testing.T) {
		w, m := NewMock(t, time.Minute)
		ctx := context.Background()

		m.catalog.EXPECT().Statuses(gomock.Any(), "renew-vless").Return([]catalog.TargetStatus{{Target: targetA}}, nil)
		m.catalog.EXPECT().Target(gomock.Any(), "A").Return(targetA, nil)
		gomock.InOrder(
			m.executor.EXPECT().Run(gomock.Any(), targetA, "cat /etc/xray/config.json", gomock.Any()).
				Return(&remote.Result{Stdout: "#& bob 2025-02-01\n"}, nil),
			m.ledger.EXPECT().EnsureAccount(gomock.Any(), int64(42), "Alice").Return(&domain.Account{}, nil),
			m.ledger.EXPECT().BalanceOf(gomock.Any(), int64(42)).Return(int64(2000), nil),
			m.executor.EXPECT().Run(gomock.Any(), targetA, "/usr/local/sbin/bot-extvl bob 3", gomock.Any()).
				Return(&remote.Result{Combined: "renewed"}, nil),
			m.ledger.EXPECT().Charge(gomock.Any(), gomock.Any(), int64(1500)).
				DoAndReturn(func(_ context.Context, p *domain.Purchase, _ int64) (*domain.Purchase, int64, error) {
					assert.Equal(t, "renew-vless", p.Kind)
					return p, 500, nil
				}),
		)

		require.NoError(t, w.Start(ctx, msg("/renewvless"), "renewvless"))
		require.NoError(t, w.Pick(ctx, pick("renewvless", "A")))
		_, err := w.Continue(ctx, msg("bob"))
		require.NoError(t, err)
		_, err = w.Continue(ctx, msg("3"))
		require.NoError(t, err)

		assert.Contains(t, m.rec.Last().Text, "succeeded")
	})
}

func TestWorkflow_SecondStartRefused(t *testing.T) {
	w, m := NewMock(t, time.Minute)
	ctx := context.Background()

	m.catalog.EXPECT().Statuses(gomock.Any(), "ssh").Return([]catalog.TargetStatus{{Target: targetA}}, nil)

	require.NoError(t, w.Start(ctx, msg("/addssh"), "addssh"))
	require.NoError(t, w.Start(ctx, msg("/addvmess"), "addvmess"))
	assert.Contains(t, m.rec.Last().Text, "/batal first")

	s, ok := w.sessions.Get(key(msg("")))
	require.True(t, ok)
	assert.Equal(t, "addssh", s.Payload.Flow)

	assert.True(t, w.Cancel(ctx, msg("/batal")))
	assert.False(t, w.Cancel(ctx, msg("/batal")))

	handled, err := w.Continue(ctx, msg("alice"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWorkflow_PickWithoutSession(t *testing.T) {
	w, m := NewMock(t, time.Minute)

	require.NoError(t, w.Pick(context.Background(), pick("addssh", "A")))
	answers := m.rec.Answers()
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0].Text, "expired")
}

func TestWorkflow_Timeout(t *testing.T) {
	w, m := NewMock(t, 60*time.Millisecond)

	m.catalog.EXPECT().Statuses(gomock.Any(), "ssh").Return([]catalog.TargetStatus{{Target: targetA}}, nil)
	require.NoError(t, w.Start(context.Background(), msg("/addssh"), "addssh"))

	require.Eventually(t, func() bool {
		return len(m.rec.Containing("timed out")) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, m.rec.Containing("timed out"), 1)

	handled, err := w.Continue(context.Background(), msg("alice"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestWorkflow_TimeoutRacesAdvance(t *testing.T) {
	w, m := NewMock(t, 50*time.Millisecond)
	ctx := context.Background()

	m.catalog.EXPECT().Statuses(gomock.Any(), "vmess").Return([]catalog.TargetStatus{{Target: targetA}}, nil)
	require.NoError(t, w.Start(ctx, msg("/addvmess"), "addvmess"))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(45 * time.Millisecond)
			_, _ = w.Continue(ctx, msg("hello"))
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return !w.Active(msg("")) }, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, m.rec.Containing("timed out"), 1)
}

func TestMatchAccount(t *testing.T) {
	db := "### alice 2025-01-01\n#& bob 2025-01-02\r\n{\"email\": \"carol\"}\n### dave"
	tests := []struct {
		marker, user string
		expected     lookupResult
	}{
		{"###", "alice", lookupFound},
		{"#&", "bob", lookupFound},
		{"###", "dave", lookupFound},
		{"###", "bob", lookupFallback},
		{"#!", "carol", lookupFallback},
		{"###", "al", lookupFallback},
		{"###", "zed", lookupMissing},
	}
	for _, tt := range tests {
		t.Run(tt.marker+" "+tt.user, func(t *testing.T) {
			assert.Equal(t, tt.expected, matchAccount(db, tt.marker, tt.user))
		})
	}
}

func TestFlow_Render(t *testing.T) {
	flows := map[string]Flow{}
	for _, f := range DefaultFlows() {
		flows[f.Name] = f
	}

	assert.Equal(t, "/usr/local/sbin/bot-addssh alice 'p w;x' 30", flows["addssh"].Render("alice", "p w;x", "30"))
	assert.Equal(t, `/usr/local/sbin/bot-addssh alice 'it'\''s' 1`, flows["addssh"].Render("alice", "it's", "1"))
	assert.Equal(t, "/usr/local/sbin/bot-addws bob 7", flows["addvmess"].Render("bob", "", "7"))

	now := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "3", flows["addvless"].Exp(now, 3))
	dated := flows["addvless"]
	dated.ExpMode = ExpDate
	assert.Equal(t, "2025-02-02", dated.Exp(now, 3))

	for _, f := range DefaultFlows() {
		assert.Equal(t, f.Renew, strings.HasPrefix(f.Kind, "renew-"), f.Name)
	}
}
