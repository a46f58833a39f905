package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kisanmitra/voice-client/internal/config"
	"github.com/kisanmitra/voice-client/internal/handler"
	"github.com/kisanmitra/voice-client/internal/i18n"
	"github.com/kisanmitra/voice-client/internal/logging"
	"github.com/kisanmitra/voice-client/internal/model/suggestion"
	"github.com/kisanmitra/voice-client/internal/service/conversation"
	"github.com/kisanmitra/voice-client/internal/service/preference"
	"github.com/kisanmitra/voice-client/internal/service/speech"
	"github.com/kisanmitra/voice-client/internal/service/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	catalog := i18n.Default()

	store, closeStore, err := newPreferenceStore(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	languages := preference.NewLanguages(store, catalog, cfg.Locale.DefaultLanguage, logger.Named("preference"))

	backend := transport.NewClient(cfg.Backend.BaseURL,
		transport.WithCatalog(catalog),
		transport.WithLogger(logger.Named("transport")),
	)

	// Speech output is optional; without credentials sessions stay silent.
	var synth speech.Synthesizer
	if cfg.Speech.Enabled {
		synth = speech.NewVolcengineClient(cfg.Speech.Model(), logger.Named("tts"))
		logger.Info("speech output enabled")
	} else {
		logger.Info("speech credentials not configured, speech output disabled")
	}

	registry := conversation.NewRegistry(conversation.RegistryConfig{
		Backend:         backend,
		Synthesizer:     synth,
		Languages:       languages,
		Catalog:         catalog,
		Logger:          logger.Named("conversation"),
		AutoSpeak:       cfg.Speech.AutoSpeak && synth != nil,
		AudioFormat:     cfg.Backend.AudioFormat,
		DefaultFarmerID: cfg.Backend.FarmerID,
	})
	defer registry.CloseAll()

	router := handler.NewRouter(handler.Deps{
		Registry:       registry,
		Languages:      languages,
		Suggestions:    suggestion.NewMemoryStore(suggestion.Seed()),
		Catalog:        catalog,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SpeechEnabled:  synth != nil,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("voice gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", cfg.Backend.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newPreferenceStore(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (preference.Store, func(), error) {
	if !cfg.Enabled() {
		logger.Info("REDIS_ADDR not set, keeping preferences in memory")
		return preference.NewMemoryStore(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	logger.Info("preferences stored in redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return preference.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
}
