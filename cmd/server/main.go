package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/originprotocol/wallet-linker/internal/config"
	"github.com/originprotocol/wallet-linker/internal/database"
	"github.com/originprotocol/wallet-linker/internal/handler"
	"github.com/originprotocol/wallet-linker/internal/jobs"
	"github.com/originprotocol/wallet-linker/internal/meta"
	"github.com/originprotocol/wallet-linker/internal/middleware"
	"github.com/originprotocol/wallet-linker/internal/notify"
	"github.com/originprotocol/wallet-linker/internal/redis"
	"github.com/originprotocol/wallet-linker/internal/relay"
	"github.com/originprotocol/wallet-linker/internal/repository"
	"github.com/originprotocol/wallet-linker/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	linkRepo := repository.NewLinkRepository(db.DB)
	endpointRepo := repository.NewNotificationEndpointRepository(db.DB)

	msgRelay := relay.NewRedisRelay(redisClient, cfg.RelayRetention())
	defer msgRelay.Close()

	var dispatcher notify.Dispatcher = notify.NoopDispatcher{}
	if cfg.APNSKeyFile != "" {
		apns, err := notify.NewAPNSDispatcher(notify.APNSConfig{
			KeyFile:    cfg.APNSKeyFile,
			KeyID:      cfg.APNSKeyID,
			TeamID:     cfg.APNSTeamID,
			BundleID:   cfg.APNSBundleID,
			Production: cfg.APNSProduction,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize apns dispatcher")
		}
		defer apns.Close()
		dispatcher = apns
	} else {
		log.Warn().Msg("APNS_KEY_FILE not set, notifications will not be sent")
	}

	linker := service.NewLinker(
		linkRepo, endpointRepo, msgRelay, dispatcher,
		meta.NoopResolver{}, cfg.CodeSize, cfg.CodeExpiration(),
	)

	rateLimiter := middleware.NewRedisRateLimiter(redisClient.Client)
	codeRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.CodeRequestLimitPerMin, config.CodeRequestWindow, "generate-code",
	)
	bodyLimit := middleware.NewBodyLimitMiddleware(0)

	linkerHandler := handler.NewLinkerHandler(linker, cfg)
	messagesHandler := handler.NewMessagesHandler(linker)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimit.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api/wallet-linker", func(r chi.Router) {
		// SSE streams stay open past the request timeout
		r.Get("/linked-messages/{clientToken}/{lastMessageId}", messagesHandler.SessionMessages)
		r.Get("/wallet-messages/{walletToken}/{lastMessageId}", messagesHandler.WalletMessages)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			r.With(codeRateLimit.Handler).Post("/generate-code", linkerHandler.GenerateCode)
			r.Mount("/", linkerHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(linkRepo, msgRelay, cfg.RelayRetention(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting linking server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
