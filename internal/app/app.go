// Package app assembles the service from configuration: stores, gateways,
// usecases, HTTP router and background loops.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payroll-bnpl/internal/adapter/eventbus"
	"payroll-bnpl/internal/adapter/gatewayhttp"
	httpadp "payroll-bnpl/internal/adapter/http"
	"payroll-bnpl/internal/adapter/middleware"
	"payroll-bnpl/internal/adapter/repository/gormstore"
	"payroll-bnpl/internal/config"
	"payroll-bnpl/internal/domain/gateway"
	"payroll-bnpl/internal/fixtures"
	"payroll-bnpl/internal/infrastructure/cache"
	"payroll-bnpl/internal/infrastructure/db"
	"payroll-bnpl/internal/infrastructure/logger"
	"payroll-bnpl/internal/usecase/allocation"
	"payroll-bnpl/internal/usecase/checkout"
	"payroll-bnpl/internal/usecase/credit"
	"payroll-bnpl/internal/usecase/outbox"
	"payroll-bnpl/internal/usecase/portfolio"
	"payroll-bnpl/internal/usecase/reconciliation"
	"payroll-bnpl/internal/usecase/settlement"
	"payroll-bnpl/pkg/authtoken"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Cfg   *config.Config
	Log   *zap.Logger
	DB    *gorm.DB
	Redis *redis.Client
	Bus   gateway.EventBus

	Checkout   *checkout.Usecase
	Settlement *settlement.Usecase
	Outbox     *outbox.Dispatcher
	Recon      *reconciliation.Usecase
	Portfolio  *portfolio.Usecase

	closers []func() error
}

// OpenDB connects to the configured database and migrates it when
// AUTO_MIGRATE is set. The CLI uses it for commands that need no Redis.
func OpenDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gdb, err := db.OpenGorm(cfg.DBDriver, cfg.DSN(), cfg.LogLevel, log)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBDriver, err)
	}
	if cfg.AutoMigrate {
		if err := gormstore.Migrate(gdb); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return gdb, nil
}

// Seeder upserts reference data through gdb.
func Seeder(gdb *gorm.DB, log *zap.Logger) *fixtures.Seeder {
	return &fixtures.Seeder{
		Lenders:   gormstore.NewLenderRepository(gdb),
		Employers: gormstore.NewEmployerRepository(gdb),
		Employees: gormstore.NewEmployeeRepository(gdb),
		Merchants: gormstore.NewMerchantRepository(gdb),
		Log:       log,
	}
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: logger.OrNop(log)}

	gdb, err := OpenDB(cfg, a.Log)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	a.onClose(func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}
	a.Redis = rdb
	a.onClose(rdb.Close)

	if err := a.openBus(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	a.wire()
	return a, nil
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *App) openBus(ctx context.Context) error {
	switch a.Cfg.EventBus {
	case "pubsub":
		ps, err := eventbus.NewPubSub(ctx, a.Cfg.PubSubProjectID, a.Cfg.PubSubTopic)
		if err != nil {
			return fmt.Errorf("pubsub: %w", err)
		}
		a.Bus = ps
		a.onClose(ps.Close)
	default:
		a.Bus = eventbus.NewRedisStream(a.Redis, a.Cfg.EventStream, 0)
	}
	a.Log.Info("event bus ready", zap.String("kind", a.Cfg.EventBus))
	return nil
}

func (a *App) wire() {
	cfg := a.Cfg
	gdb := a.DB

	gw := gatewayhttp.Options{APIKey: cfg.GatewayAPIKey, Timeout: cfg.GatewayTimeout, Log: a.Log}
	escrowGW := gatewayhttp.NewEscrow(withBase(gw, cfg.EscrowBaseURL))
	ledgerGW := gatewayhttp.NewLoanLedger(withBase(gw, cfg.LoanLedgerBaseURL))
	crbGW := gatewayhttp.NewCrb(withBase(gw, cfg.CrbBaseURL))

	idem := cache.NewIdempotencyCache(a.Redis, "")
	unit := gormstore.NewGormUoW(gdb)
	contracts := gormstore.NewContractRepository(gdb)
	deductions := gormstore.NewDeductionRepository(gdb)
	remittances := gormstore.NewRemittanceRepository(gdb)
	lenders := gormstore.NewLenderRepository(gdb)

	a.Settlement = settlement.NewUsecase(settlement.Deps{
		UoW:         unit,
		Contracts:   contracts,
		Deductions:  deductions,
		Remittances: remittances,
		Escrow:      escrowGW,
		Cache:       idem,
		Log:         a.Log.Named("settlement"),
	}, settlement.Config{
		PlatformFeeShare: cfg.PlatformFeeShare,
		DefaultAfterDays: cfg.DefaultAfterDays,
		IdempotencyTTL:   cfg.IdempotencyTTL(),
	})

	strategy, _ := allocation.ParseStrategy(cfg.AllocationStrategy)
	a.Checkout = checkout.NewUsecase(checkout.Deps{
		UoW:       unit,
		Contracts: contracts,
		Lenders:   lenders,
		Employees: gormstore.NewEmployeeRepository(gdb),
		Employers: gormstore.NewEmployerRepository(gdb),
		Merchants: gormstore.NewMerchantRepository(gdb),
		Crb:       crbGW,
		Cache:     idem,
		Credit:    credit.NewEngine(credit.Config{MonthlyRate: cfg.CreditMonthlyRate}),
		Allocator: allocation.NewEngine(strategy),
		Tokens:    authtoken.NewIssuer(cfg.AuthTokenSecret, cfg.AuthTokenTTL),
		Holder:    a.Settlement,
		Log:       a.Log.Named("checkout"),
	}, checkout.Config{
		MonthlyRate:    cfg.CreditMonthlyRate,
		Strategy:       strategy,
		IdempotencyTTL: cfg.IdempotencyTTL(),
	})

	a.Outbox = outbox.NewDispatcher(outbox.Deps{
		Outbox:    gormstore.NewOutboxRepository(gdb),
		Contracts: contracts,
		Ledger:    ledgerGW,
		Bus:       a.Bus,
		Log:       a.Log.Named("outbox"),
	}, outbox.Config{
		MaxAttempts: cfg.OutboxMaxAttempts,
		BaseBackoff: cfg.OutboxBaseBackoff,
		MaxBackoff:  cfg.OutboxMaxBackoff,
		Workers:     cfg.OutboxWorkers,
	})

	a.Recon = reconciliation.NewUsecase(reconciliation.Deps{
		Records:       gormstore.NewReconciliationRepository(gdb),
		Contracts:     contracts,
		Deductions:    deductions,
		Remittances:   remittances,
		EscrowTxns:    gormstore.NewEscrowRepository(gdb),
		EscrowGateway: escrowGW,
		LoanLedger:    ledgerGW,
		Log:           a.Log.Named("reconciliation"),
	}, reconciliation.Config{
		LenderTolerance: cfg.ReconToleranceLender,
		EscrowTolerance: cfg.ReconToleranceEscrow,
	})

	a.Portfolio = portfolio.NewUsecase(contracts, lenders)
}

func withBase(o gatewayhttp.Options, base string) gatewayhttp.Options {
	o.BaseURL = base
	return o
}

// Router builds the echo server with every route mounted.
func (a *App) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = httpadp.NewValidator()

	access := a.Log.Named("http")
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				access.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			access.Info("request", fields...)
			return nil
		},
	}))

	log := a.Log
	httpadp.Register(e, httpadp.Handlers{
		Health:   httpadp.NewHandler(),
		Checkout: httpadp.NewCheckoutHandler(a.Checkout, log),
		Orders:   httpadp.NewOrderHandler(a.Settlement, log),
		Employer: httpadp.NewEmployerHandler(a.Settlement, log),
		Lender:   httpadp.NewLenderHandler(a.Portfolio, log),
		Admin:    httpadp.NewAdminHandler(a.Recon, log),
	}, middleware.Idempotency(a.Redis, a.Cfg.IdempotencyTTL(), log))
	return e
}

// RunBackground starts the outbox dispatcher, the reconciliation scheduler and
// the overdue sweep. The returned wait func blocks until all three have
// stopped after ctx is cancelled.
func (a *App) RunBackground(ctx context.Context) (wait func()) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		a.Outbox.Run(ctx, a.Cfg.OutboxPollInterval)
	}()
	go func() {
		defer wg.Done()
		a.Recon.RunDaily(ctx, a.Cfg.ReconInterval)
	}()
	go func() {
		defer wg.Done()
		a.sweepLoop(ctx, a.Cfg.SweepInterval)
	}()
	return wg.Wait
}

func (a *App) sweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			res, err := a.Settlement.SweepOverdue(ctx, time.Now())
			if err != nil {
				a.Log.Error("overdue sweep", zap.Error(err))
				continue
			}
			a.Log.Info("overdue sweep", zap.Int("scanned", res.Scanned),
				zap.Int("overdue", res.Overdue), zap.Strings("defaulted", res.Defaulted))
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
