package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/auth"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/config"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/connection"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/database"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/dispatch"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/event"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/logger"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/metrics"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/server"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/session"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/subscription"
	"github.com/life-stream-dev/life-stream-go-chat-gateway/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "chat-gateway",
		Short:         "Real-time chat gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	return cmd
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error occured while reading config: %w", err)
	}

	loggerCallback := logger.Init(cfg.LogDir, cfg.DebugMode)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)
	defer func() {
		if err := cleaner.Clean(); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCallback, err := tracing.Setup(ctx, cfg.Tracing, cfg.AppName)
	if err != nil {
		logger.ErrorF("Error occured while initializing tracing, details: %v", err)
		return err
	}
	cleaner.Add(tracingCallback)

	store, err := openTokenStore(ctx, cfg, cleaner)
	if err != nil {
		logger.ErrorF("Error occured while initializing token store, details: %v", err)
		return err
	}
	issuer := auth.NewIssuer(store)

	options, err := session.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	registry := connection.NewManager()
	index := subscription.NewIndex(subscription.DefaultShardCount)
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promRegistry, index.ChannelCount)
	dispatcher := dispatch.NewDispatcher(registry, index, m)
	driver := session.NewDriver(options, registry, index, dispatcher, issuer, m)

	srv := server.NewServer(cfg, driver, issuer, promRegistry)
	cleaner.Add(srv)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.StartServer()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.ErrorF("Server stopped with error: %v", err)
		}
		return err
	case <-ctx.Done():
		logger.InfoF("Received shutdown signal")
		return nil
	}
}

func openTokenStore(ctx context.Context, cfg config.Config, cleaner *event.Cleaner) (database.TokenStore, error) {
	var store database.TokenStore
	switch cfg.TokenStore.Backend {
	case "mongo":
		db, err := database.ConnectDatabase(ctx, cfg.Database, cfg.AppName)
		if err != nil {
			return nil, err
		}
		cleaner.Add(database.NewDBCloseCallback(db))
		store = database.NewDatabaseStore(db)
	case "redis":
		client, err := database.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		cleaner.Add(database.NewRedisCloseCallback(client))
		store = database.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.TokenTTL())
	case "memory":
		store = database.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.TokenStore.Backend)
	}

	if cfg.TokenStore.CacheSize > 0 {
		ttl := cfg.TokenCacheTTL()
		logger.InfoF("Token cache enabled, size %d, ttl %v", cfg.TokenStore.CacheSize, ttl)
		store = database.NewCachedStore(store, cfg.TokenStore.CacheSize, ttl)
	}
	logger.InfoF("Token store backend: %s", cfg.TokenStore.Backend)
	return store, nil
}
