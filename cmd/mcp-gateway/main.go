// Command mcp-gateway serves a remote MCP gateway: an SSE stream endpoint, a
// message ingestion endpoint, and a small document pipeline behind four
// built-in tools.
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

	"github.com/joho/godotenv"

	"github.com/notewire/mcp-gateway/internal/config"
	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/docstore/memory"
	"github.com/notewire/mcp-gateway/internal/docstore/redisstore"
	"github.com/notewire/mcp-gateway/internal/gateway"
	"github.com/notewire/mcp-gateway/internal/logctx"
	"github.com/notewire/mcp-gateway/internal/mcp"
	"github.com/notewire/mcp-gateway/internal/registry"
	"github.com/notewire/mcp-gateway/internal/tools"
	"github.com/notewire/mcp-gateway/internal/upstream"
)

const (
	serverName    = "remote-mcp-gateway"
	serverVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	// .env always wins over the inherited environment.
	_ = godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store docstore.Store
	if cfg.RedisAddr != "" {
		store, err = redisstore.New(ctx, redisstore.Config{Addr: cfg.RedisAddr})
		if err != nil {
			return fmt.Errorf("redis document store: %w", err)
		}
		log.Info("docstore.redis", slog.String("addr", cfg.RedisAddr))
	} else {
		store = memory.New()
		log.Info("docstore.memory")
	}
	defer store.Close()

	upstreams := upstream.NewRegistry(log)
	upstreams.LoadFromEnv(cfg.UpstreamURLs)
	if err := upstreams.LoadFromFile(cfg.UpstreamConfigPath); err != nil {
		log.Warn("upstreams.load.fail", slog.String("err", err.Error()))
	}
	go func() {
		if err := upstreams.Watch(ctx, cfg.UpstreamConfigPath); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("upstreams.watch.fail", slog.String("err", err.Error()))
		}
	}()
	log.Info("upstreams.loaded", slog.Int("count", len(upstreams.Snapshot())))

	reg := registry.New(registry.WithLogger(log))
	if err := tools.RegisterAll(reg, store); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	handler, err := gateway.NewHandler(gateway.HandlerConfig{
		APIKey:     cfg.APIKey,
		ServerInfo: mcp.ImplementationInfo{Name: serverName, Version: serverVersion},
		Registry:   reg,
		Store:      store,
		Upstreams:  upstreams,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listen", slog.Int("port", cfg.Port), slog.Bool("auth", cfg.APIKey != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown.fail", slog.String("err", err.Error()))
	}
	log.Info("shutdown.ok")
	return nil
}
