package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"heatbridge/config"
	"heatbridge/internal/api"
	"heatbridge/internal/coordinator"
	"heatbridge/internal/dewarmte"
	"heatbridge/internal/logging"
	"heatbridge/internal/mqtt"
	"heatbridge/internal/notify"
	"heatbridge/internal/storage/sqlite"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.NewLogger(logging.LoggerConfig{
		Format: cfg.Logging.Format,
		Level:  logging.ParseLevel(cfg.Logging.Level),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Token persistence is optional; without it tokens live in memory
	// and a restart re-authenticates with the password.
	var tokenStore dewarmte.TokenStore
	if cfg.Database.Path != "" {
		logger.Info("opening token store", "path", cfg.Database.Path)
		store, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to open token store: %w", err)
		}
		defer store.Close()
		tokenStore = store
	}

	client := dewarmte.NewClient(dewarmte.Config{
		BaseURL:  cfg.DeWarmte.BaseURL,
		Email:    cfg.DeWarmte.Username,
		Password: cfg.DeWarmte.Password,
	}, tokenStore, logger)

	coord := coordinator.New(client, coordinator.Options{
		Interval:     time.Duration(cfg.DeWarmte.PollIntervalSeconds) * time.Second,
		Timeout:      time.Duration(cfg.DeWarmte.CycleTimeoutSeconds) * time.Second,
		WithInsights: cfg.DeWarmte.EnableInsights,
	}, logger)

	if cfg.Telegram.BotToken != "" {
		notifier, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("failed to create Telegram notifier: %w", err)
		}
		coord.SetNotifier(notifier)
		logger.Info("Telegram alerting enabled", "chat_id", cfg.Telegram.ChatID)
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.BrokerURL != "" {
		publisher = mqtt.NewPublisher(mqtt.Config{
			BrokerURL:   cfg.MQTT.BrokerURL,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			ClientID:    cfg.MQTT.ClientID,
		}, logger)
		coord.AddListener(publisher.PublishSnapshot)

		if err := publisher.Start(ctx); err != nil {
			return fmt.Errorf("failed to connect to MQTT: %w", err)
		}
		defer publisher.Stop()
	}

	// Eager first refresh: the system is initialized once this cycle
	// has completed, successfully or not. A failure here is surfaced
	// but does not abort startup; the loop keeps retrying on schedule.
	logger.Info("running initial refresh")
	if err := coord.Refresh(ctx); err != nil {
		logger.Error("initial refresh failed, serving empty snapshot until recovery", "error", err)
	}

	go coord.Start()
	defer coord.Stop()

	router := api.NewRouter(api.RouterConfig{
		Coordinator: coord,
		APIKey:      cfg.Security.APIKey,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
