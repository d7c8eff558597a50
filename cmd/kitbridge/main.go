package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/kitbridge/kitbridge/internal/app"
	"github.com/kitbridge/kitbridge/internal/approvals"
	"github.com/kitbridge/kitbridge/internal/auth"
	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/observability"
	"github.com/kitbridge/kitbridge/internal/platform/cache"
	"github.com/kitbridge/kitbridge/internal/platform/db"
	"github.com/kitbridge/kitbridge/internal/principal"
	"github.com/kitbridge/kitbridge/internal/revocation"
	"github.com/kitbridge/kitbridge/internal/token"
	"github.com/kitbridge/kitbridge/internal/view"
	"github.com/kitbridge/kitbridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.UsedDevSecret {
		logger.Warn("SESSION_SECRET not set, using the development fallback secret")
	}
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("kitbridge stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool); err != nil {
		return err
	}
	repo := principal.NewRepository(dbpool)
	if cfg.SeedFile != "" {
		if err := seed(ctx, dbpool, repo, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	signer, err := token.NewSigner(cfg.SessionSecret)
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	var (
		revoker     auth.Revoker
		revocations gate.Revocations
	)
	if cfg.SessionDenylist {
		redisClient, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		denylist := revocation.NewDenylist(redisClient)
		revoker, revocations = denylist, denylist
		logger.Info("session denylist enabled")
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	sessionGate := gate.New(gate.Config{
		Verifier:      signer,
		Revocations:   revocations,
		Logger:        logger,
		Metrics:       metrics,
		SecureCookies: cfg.IsProduction(),
	})
	authService := auth.NewService(auth.ServiceConfig{
		Repo:    repo,
		Signer:  signer,
		Queue:   jobClient,
		BaseURL: cfg.AppBaseURL,
		Logger:  logger,
		Metrics: metrics,
	})
	authHandler := auth.NewHandler(auth.HandlerConfig{
		Logger:         logger,
		Service:        authService,
		Gate:           sessionGate,
		Revoker:        revoker,
		SecureCookies:  cfg.IsProduction(),
		Debug:          cfg.IsDevelopment(),
		LoginRateLimit: cfg.LoginRateLimit,
	})
	approvalsHandler := approvals.NewHandler(approvals.NewService(repo, logger), sessionGate, logger)

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Gate:             sessionGate,
		Pages:            view.NewPages(templates, logger),
		AuthHandler:      authHandler,
		ApprovalsHandler: approvalsHandler,
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
		GlobalRateLimit:  300,
		HealthCheck: func(r *http.Request) error {
			return dbpool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seed(ctx context.Context, pool *pgxpool.Pool, repo *principal.PGRepository, path string, logger *slog.Logger) error {
	entries, err := principal.LoadSeedFile(path)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		created, err := principal.Seed(ctx, repo.WithTx(tx), entries)
		if err != nil {
			return err
		}
		logger.Info("seeded principals", slog.String("file", path), slog.Int("created", created), slog.Int("entries", len(entries)))
		return nil
	})
}
