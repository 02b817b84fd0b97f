package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment and defaults still apply.
	_ = godotenv.Load()

	config, err := server.NewConfigFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := server.NewLogger(config.LogLevel, os.Stderr)

	hub := server.NewHub(*config, log)
	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub))

	ln, err := server.Listen(httpServer)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", config.Port, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.StartServer(httpServer, ln, log)
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully")
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := hub.Shutdown(config.ShutdownTimeout); err != nil {
		return fmt.Errorf("hub shutdown: %w", err)
	}

	log.Info("Relay stopped cleanly")
	return nil
}
