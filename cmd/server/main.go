package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/safechat/internal/auth"
	"github.com/Tyrowin/safechat/internal/server"
	"github.com/Tyrowin/safechat/internal/storage"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "SafeChat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and serves until SIGINT or SIGTERM.
func run() (int, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing user database...")
		_ = db.Close()
	}()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AuthTokenDuration)
	if err != nil {
		return exitConfig, err
	}
	authService := auth.NewService(storage.NewUserRepository(db), tokens, logger)

	srv, err := server.New(cfg, authService, logger)
	if err != nil {
		return exitConfig, err
	}
	srv.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	logger.Info("SafeChat started", "addr", cfg.Port, "default_topic", cfg.DefaultTopic,
		"public_capacity", cfg.PublicTopicCapacity, "leave_scope", cfg.LeaveScope)

	select {
	case err := <-serveErr:
		if err != nil {
			_ = srv.Shutdown(context.Background())
			return exitRuntime, fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		return exitRuntime, err
	}
	return exitOK, nil
}
