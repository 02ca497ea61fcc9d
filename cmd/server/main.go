package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ainasago/AccountMaintan-sub000/internal/api"
	"github.com/ainasago/AccountMaintan-sub000/internal/config"
	"github.com/ainasago/AccountMaintan-sub000/internal/db"
	"github.com/ainasago/AccountMaintan-sub000/internal/jobs"
	"github.com/ainasago/AccountMaintan-sub000/internal/metrics"
	"github.com/ainasago/AccountMaintan-sub000/internal/notify"
	"github.com/ainasago/AccountMaintan-sub000/internal/observ"
	"github.com/ainasago/AccountMaintan-sub000/internal/push"
	redisclient "github.com/ainasago/AccountMaintan-sub000/internal/redis"
	"github.com/ainasago/AccountMaintan-sub000/internal/reminder"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting account maintenance server",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database, retried so the server survives a slow postgres boot.
	var database *db.DB
	err = retry.Do(
		func() error {
			var connectErr error
			database, connectErr = db.New(ctx, db.Config{
				Host:     cfg.DBHost,
				Port:     cfg.DBPort,
				User:     cfg.DBUser,
				Password: cfg.DBPassword,
				Database: cfg.DBName,
				SSLMode:  cfg.DBSSLMode,
			}, logger)
			return connectErr
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database not ready, retrying",
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional. Without it there is no duplicate-send guard and no
	// rate limiting, but the pipeline still runs.
	var (
		guard       reminder.SendGuard
		rateLimiter api.RateLimiter
		redisConn   *redisclient.Client
	)
	redisConn, err = redisclient.New(ctx, redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, dedup and rate limiting disabled", zap.Error(err))
	} else {
		defer redisConn.Close()
		guard = redisclient.NewSendGuard(redisConn)
		rateLimiter = redisclient.NewRateLimiter(redisConn, logger, redisclient.RateLimitConfig{
			Limit:  100,
			Window: time.Minute,
		})
	}

	// Email transports. The settings document picks the provider per send;
	// both are registered when configured.
	mailers := make(map[string]notify.Mailer)
	if cfg.SMTPUsername != "" {
		mailers[db.ProviderSMTP] = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}, logger)
	}
	if sesMailer, sesErr := notify.NewSESMailer(ctx, notify.SESConfig{Region: cfg.AWSRegion}, logger); sesErr != nil {
		logger.Warn("ses mailer unavailable", zap.Error(sesErr))
	} else {
		mailers[db.ProviderSES] = sesMailer
	}

	chatSender := notify.NewChatSender(notify.ChatConfig{
		DefaultTimeout: time.Duration(cfg.ChatWebhookTimeout) * time.Second,
	}, logger)

	hub := push.NewHub(logger)

	queue := jobs.NewQueue(jobs.Config{
		Workers:    cfg.JobWorkers,
		MaxRetries: cfg.JobMaxRetries,
	}, logger)
	queue.Start(ctx)

	triggers := jobs.NewRecurring(queue, logger)
	defer triggers.Stop()

	emailFrom := cfg.SMTPFrom
	if emailFrom == "" {
		emailFrom = cfg.SESFromEmail
	}

	evaluator := reminder.NewEvaluator(repo, logger)
	dispatcher := reminder.NewDispatcher(repo, queue, mailers, chatSender, hub, guard, reminder.DispatcherConfig{
		EmailFrom:   emailFrom,
		ChatWebhook: cfg.ChatWebhookURL,
	}, logger)
	fanout := reminder.NewFanout(repo, evaluator, dispatcher, queue, logger)
	scheduler := reminder.NewScheduler(repo, triggers, queue, fanout, logger)

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start reminder scheduler: %w", err)
	}

	// Keep the queue and push gauges current.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := queue.Stats()
				metrics.SetJobQueueDepth(stats.Depth)
				metrics.SetJobsProcessing(stats.Processing)
				metrics.SetPushClients(hub.ClientCount())
			}
		}
	}()

	handler := api.NewHandler(logger, repo, scheduler, dispatcher)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(metrics.Middleware)
	router.Use(requestLogger(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	router.Method(http.MethodGet, "/metrics", metrics.Handler())
	router.Get("/ws", hub.ServeHTTP)

	router.Route("/api/v1", func(r chi.Router) {
		if rateLimiter != nil {
			r.Use(api.RateLimitMiddleware(rateLimiter, logger))
		}

		r.Route("/reminders", func(r chi.Router) {
			r.Post("/start", handler.StartScheduler)
			r.Post("/stop", handler.StopScheduler)
			r.Post("/trigger", handler.TriggerReminders)
			r.Get("/status", handler.SchedulerStatus)
			r.Post("/users/{id}/start", handler.StartUserScheduler)
			r.Post("/users/{id}/stop", handler.StopUserScheduler)
		})

		r.Route("/records", func(r chi.Router) {
			r.Get("/", handler.ListRecords)
			r.Get("/count", handler.CountRecords)
			r.Delete("/{id}", handler.DeleteRecord)
			r.Delete("/", handler.ClearRecords)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/", handler.GetSettings)
			r.Put("/", handler.UpdateSettings)
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", handler.CreateAccount)
			r.Get("/", handler.ListAccounts)
			r.Get("/{id}", handler.GetAccount)
			r.Patch("/{id}", handler.UpdateAccount)
			r.Post("/{id}/visit", handler.VisitAccount)
		})

		r.Post("/notifications/test", handler.TestNotification)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	scheduler.Stop()
	queue.Wait()

	logger.Info("server stopped")
	return nil
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
