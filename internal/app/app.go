package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/bot/telegram"
	"github.com/GlebRadaev/vpnshop/internal/catalog"
	"github.com/GlebRadaev/vpnshop/internal/config"
	"github.com/GlebRadaev/vpnshop/internal/dispatch"
	"github.com/GlebRadaev/vpnshop/internal/gateway"
	"github.com/GlebRadaev/vpnshop/internal/handlers"
	"github.com/GlebRadaev/vpnshop/internal/observability"
	"github.com/GlebRadaev/vpnshop/internal/pg"
	"github.com/GlebRadaev/vpnshop/internal/remote"
	"github.com/GlebRadaev/vpnshop/internal/repo"
	"github.com/GlebRadaev/vpnshop/internal/service"
	"github.com/GlebRadaev/vpnshop/internal/workflow/account"
	"github.com/GlebRadaev/vpnshop/internal/workflow/deposit"
	"github.com/GlebRadaev/vpnshop/internal/workflow/provision"
	"github.com/GlebRadaev/vpnshop/internal/workflow/trial"
	"github.com/GlebRadaev/vpnshop/pkg/auth"
	"github.com/GlebRadaev/vpnshop/pkg/clients"
	"github.com/GlebRadaev/vpnshop/pkg/logger"
)

type ApplicationI interface {
	Start(ctx context.Context) error
	Wait(ctx context.Context, cancel context.CancelFunc) error
}

type Application struct {
	cfg      *config.Config
	api      *handlers.Handlers
	srv      *service.Services
	repo     *repo.Repositories
	tg       *telegram.Client
	router   *bot.Router
	deposits *deposit.Workflow

	errCh chan error
	wg    sync.WaitGroup
	ready bool
}

func New() *Application {
	return &Application{
		errCh: make(chan error),
	}
}

func (a *Application) Start(ctx context.Context) error {
	cfg := config.New()

	err := logger.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("can't init logger: %w", err)
	}

	pool, err := getPgxpool(ctx, cfg)
	if err != nil {
		zap.L().Error("build pgx pool failed: ", zap.Error(err))
		return fmt.Errorf("can't build pgx pool: %w", err)
	}
	if err := pg.RunMigrations(ctx, pool); err != nil {
		zap.L().Error("migrations failed: ", zap.Error(err))
		return fmt.Errorf("can't run migrations: %w", err)
	}
	txManager := pg.NewTXManager(pool)

	conn := pg.New(pool)
	a.cfg = cfg
	a.repo = repo.New(conn)
	a.srv = service.New(a.repo, txManager)

	executor, err := remote.NewSSHExecutor(cfg.KnownHosts)
	if err != nil {
		return fmt.Errorf("can't build ssh executor: %w", err)
	}
	a.tg, err = telegram.New(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("can't connect to telegram: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	a.wireBot(cfg, executor, metrics)
	a.api = handlers.New(a.srv, a.deposits, auth.NewJWTService(cfg.CallbackSecret))

	if err := a.deposits.Resume(ctx); err != nil {
		zap.L().Error("resume deposits failed: ", zap.Error(err))
	}

	if err = a.startHTTPServer(ctx); err != nil {
		return fmt.Errorf("can't start http server: %w", err)
	}

	a.startBot(ctx, dispatch.New(cfg.Workers, a.router, metrics))

	a.ready = true
	zap.L().Info("all systems started successfully")
	return nil
}

// wireBot builds the workflows and registers them on one router.
// The account workflow goes last because it owns the fallback.
func (a *Application) wireBot(cfg *config.Config, executor provision.Executor, metrics *observability.Metrics) {
	ledger := a.srv.LedgerService
	cat := catalog.New(cfg.CatalogPath, ledger)
	policy := remote.NewMarkerPolicy()
	gw := gateway.New(cfg, clients.NewHTTPClient())

	flows := provision.DefaultFlows()
	trials := trial.DefaultFlows()

	a.router = bot.NewRouter(a.tg)
	a.deposits = deposit.New(cfg, a.tg, ledger, gw, metrics)
	provision.New(cfg, a.tg, ledger, cat, executor, policy, metrics, flows...).Register(a.router)
	trial.New(cfg, a.tg, ledger, cat, executor, policy, metrics).Register(a.router)
	a.deposits.Register(a.router)
	account.New(a.tg, ledger, cfg.Brand, cfg.IsAdmin, menu(flows, trials)...).Register(a.router)
}

func menu(flows []provision.Flow, trials []trial.Flow) []account.Entry {
	entries := make([]account.Entry, 0, len(flows)+len(trials)+3)
	for _, f := range flows {
		entries = append(entries, account.Entry{Label: f.Title, Command: f.Name})
	}
	for _, f := range trials {
		entries = append(entries, account.Entry{Label: f.Title, Command: f.Name})
	}
	return append(entries,
		account.Entry{Label: "💰 Top up", Command: "topup"},
		account.Entry{Label: "👤 Balance", Command: "saldo"},
		account.Entry{Label: "📄 History", Command: "history"},
	)
}

func getPgxpool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	cfgpool, err := pgxpool.ParseConfig(cfg.Database)
	if err != nil {
		return nil, err
	}
	dbpool, err := pgxpool.NewWithConfig(ctx, cfgpool)
	if err != nil {
		return nil, err
	}
	if err = dbpool.Ping(ctx); err != nil {
		return nil, err
	}
	return dbpool, nil
}

func (a *Application) startHTTPServer(ctx context.Context) error {
	router := chi.NewRouter()
	a.api.InitRoutes(router)
	server := http.Server{
		Addr:    a.cfg.Address,
		Handler: router,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-ctx.Done()

		sCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(sCtx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		zap.L().Info("starting http server on port", zap.String("port", a.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.errCh <- fmt.Errorf("http server exited with error: %w", err)
		}
	}()

	return nil
}

// startBot feeds telegram updates to the dispatcher. On shutdown queued events
// are drained before the deposit watchers stop.
func (a *Application) startBot(ctx context.Context, d *dispatch.Dispatcher) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.deposits.Close()
		defer d.Close()

		zap.L().Info("bot started", zap.Int("workers", a.cfg.Workers))
		if err := d.Run(ctx, a.tg.Updates(ctx)); err != nil {
			a.errCh <- fmt.Errorf("bot exited with error: %w", err)
		}
	}()
}

func (a *Application) Wait(ctx context.Context, cancel context.CancelFunc) error {
	var appErr error

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for err := range a.errCh {
			cancel()
			zap.L().Error(err.Error())
			appErr = err
		}
	}()

	<-ctx.Done()
	a.wg.Wait()
	close(a.errCh)
	wg.Wait()

	return appErr
}
