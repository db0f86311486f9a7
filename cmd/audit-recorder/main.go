// Command audit-recorder runs the authentication-failure audit service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/upb/authaudit/app"
	"github.com/upb/authaudit/auth"
	"github.com/upb/authaudit/config"
	"github.com/upb/authaudit/internal/observability"
	"github.com/upb/authaudit/routes"
	"go.uber.org/zap"
)

func main() {
	issueFor := flag.String("issue-operator-token", "", "print an operator token for this subject and exit")
	roles := flag.String("roles", "auditor", "comma-separated roles for -issue-operator-token")
	ttl := flag.Duration("ttl", 12*time.Hour, "lifetime of the issued operator token")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *issueFor != "" {
		if err := issueOperatorToken(os.Stdout, cfg, *issueFor, *roles, *ttl); err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue operator token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := initLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("audit recorder exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// initLogger builds the process logger from the loaded observability settings,
// so values from .env apply as well as the environment
func initLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	return observability.NewLogger(cfg)
}

func issueOperatorToken(out io.Writer, cfg *config.Config, subject, roles string, ttl time.Duration) error {
	var roleList []string
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roleList = append(roleList, r)
		}
	}

	token, err := auth.NewOperatorTokens(cfg.Operator.JWTSecret, cfg.Operator.Issuer).Issue(subject, roleList, ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", server.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("sink", cfg.Sink.Kind))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutting down server...", zap.String("signal", sig.String()))
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	if err := deps.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	logger.Info("server stopped")
	return runErr
}
