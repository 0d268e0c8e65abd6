package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"webhook-relay/internal/auth"
	"webhook-relay/internal/common/logging"
	"webhook-relay/internal/config"
)

// Version is reported at startup.
const Version = "1.0.0"

const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	// Parse command line flags
	var issueToken bool
	var tokenSubject string
	var tokenTTL time.Duration
	flag.BoolVar(&issueToken, "issue-admin-token", false, "Print a management API token and exit")
	flag.StringVar(&tokenSubject, "subject", "admin", "Subject of the issued token")
	flag.DurationVar(&tokenTTL, "ttl", auth.DefaultTTL, "Lifetime of the issued token")
	flag.Parse()

	// Load and validate configuration
	cfg := config.Load()

	// Initialize logging
	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	if issueToken {
		return printToken(cfg, tokenSubject, tokenTTL)
	}

	logging.Info("Starting webhook relay",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", Version),
	)

	// Initialize application
	app, err := New(cfg)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	srv, err := app.RunServer()
	if err != nil {
		logging.Error("Failed to build server", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down server...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		serverErr := srv.Shutdown(shutdownCtx)
		if serverErr != nil {
			logging.Error("Server forced to shutdown", serverErr)
		}
		if err := app.Shutdown(shutdownCtx); err != nil {
			logging.Warn("Error during app shutdown", logging.String("error", err.Error()))
		}
		return serverErr
	})

	if err := g.Wait(); err != nil {
		logging.Error("Server failed", err)
		return err
	}

	logging.Info("Server exited")
	return nil
}

func printToken(cfg *config.Config, subject string, ttl time.Duration) error {
	a, err := auth.New(cfg.JWTSecret)
	if err != nil {
		return err
	}
	token, err := a.GenerateJWT(subject, "admin", ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
