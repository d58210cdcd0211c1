// Command server starts the psychometric scoring and session HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/archive"
	httpserver "github.com/fairyhunter13/psychometric-engine/internal/adapter/httpserver"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/repo/memory"
	"github.com/fairyhunter13/psychometric-engine/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/psychometric-engine/internal/app"
	"github.com/fairyhunter13/psychometric-engine/internal/config"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
	"github.com/fairyhunter13/psychometric-engine/internal/instrument"
	"github.com/fairyhunter13/psychometric-engine/internal/service/ratelimiter"
	"github.com/fairyhunter13/psychometric-engine/internal/usecase"
)

// repositories is the storage selected by STORE_DRIVER.
type repositories struct {
	sessions domain.SessionRepository
	answers  domain.AnswerRepository
	results  domain.ResultRepository
	db       app.Pinger
	close    func()
}

func openStore(ctx context.Context, cfg config.Config) (repositories, error) {
	if cfg.StoreDriver == "memory" {
		st := memory.New()
		return repositories{sessions: st.Sessions(), answers: st.Answers(), results: st.Results(), close: func() {}}, nil
	}
	maxElapsed, initial := cfg.GetDBConnectBackoff()
	pool, err := postgres.ConnectWithRetry(ctx, cfg.DBURL, maxElapsed, initial)
	if err != nil {
		return repositories{}, err
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return repositories{}, err
	}
	return repositories{
		sessions: postgres.NewSessionRepo(pool),
		answers:  postgres.NewAnswerRepo(pool),
		results:  postgres.NewResultRepo(pool),
		db:       pool,
		close:    pool.Close,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog, err := instrument.LoadDefault(cfg.InstrumentDir)
	if err != nil {
		slog.Error("instrument catalog invalid", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("instrument catalog loaded", slog.Int("instruments", len(catalog.List())))

	repos, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store init failed", slog.String("driver", cfg.StoreDriver), slog.Any("error", err))
		os.Exit(1)
	}
	defer repos.close()

	deps := app.Dependencies{DB: repos.db}

	sink, err := archive.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("archive sink init failed", slog.String("driver", cfg.ArchiveDriver), slog.Any("error", err))
		os.Exit(1)
	}
	if p, ok := sink.(app.Pinger); ok {
		deps.Archive = p
	}
	effects := []usecase.Effect{usecase.ArchiveEffect(sink, nil)}

	if cfg.KafkaEnabled() {
		producer, err := redpanda.NewProducer(ctx, cfg.KafkaBrokers, cfg.AnalysisTopic)
		if err != nil {
			slog.Error("redpanda producer connect failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := producer.Close(); err != nil {
				slog.Error("failed to close producer", slog.Any("error", err))
			}
		}()
		deps.Kafka = producer
		effects = append(effects, usecase.AnalysisEffect(producer, nil))
	}

	// a nil *RedisLuaLimiter must not reach the router as a non-nil interface
	var limiter httpserver.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		deps.Redis = rdb
		limiter = ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
			app.SessionWriteClass: ratelimiter.NewBucketConfig(cfg.UserRateLimitPerMin, cfg.UserRateLimitBurst),
		})
	}

	pipeline := usecase.NewEffectPipeline(cfg.SideEffectTimeout, effects...)
	sessionSvc := usecase.NewSessionService(repos.sessions, repos.answers, catalog)
	completionSvc := usecase.NewCompletionService(repos.sessions, repos.answers, repos.results, catalog, pipeline)
	resultSvc := usecase.NewResultService(repos.results, repos.answers, catalog)

	srv := httpserver.NewServer(sessionSvc, completionSvc, resultSvc, catalog, app.BuildReadinessChecks(deps)...)
	handler := app.BuildRouter(cfg, srv, limiter)

	go app.NewExpirySweeper(repos.sessions, cfg.ExpirySweepInterval).Run(ctx)
	if retention := cfg.Retention(); retention > 0 {
		go app.NewRetentionCleaner(repos.sessions, retention, cfg.CleanupInterval).Run(ctx)
		slog.Info("retention cleaner started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("store", cfg.StoreDriver))
		errCh <- srvHTTP.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", slog.Any("error", err))
	}
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		slog.Warn("post-commit effects still running at shutdown", slog.Any("error", err))
	}
}
