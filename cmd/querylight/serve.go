package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/config"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/controller"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/engine"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/pkg/security"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/server"
	"github.com/Top4ik228-Akey-Ivan/Highlight-case/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the query API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, a.logger, a.cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	return cmd
}

// openEngine wires the engine to the on-disk snapshot codec.
func openEngine(cfg config.Config, logger *zap.Logger) (*engine.Engine, error) {
	reader, err := storage.NewColumnReader()
	if err != nil {
		return nil, fmt.Errorf("create reader: %w", err)
	}
	writer, err := storage.NewColumnWriter()
	if err != nil {
		return nil, fmt.Errorf("create writer: %w", err)
	}
	return engine.New(engine.Options{
		DataDir:     cfg.Data.Dir,
		MaxHistory:  cfg.Data.MaxHistory,
		MaxQueryLen: cfg.Server.MaxQueryLen,
		Retention:   cfg.Data.Retention,
	}, reader.ReadSnapshot, writer.WriteSnapshot, logger)
}

// openTokens loads the API token store, sealed when auth.key_file is set.
func openTokens(cfg config.Auth, logger *zap.Logger) (*controller.Store, error) {
	var key security.Key
	if cfg.KeyFile != "" {
		k, generated, err := security.LoadKey(cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		if generated {
			logger.Warn("generated a new token store key", zap.String("file", cfg.KeyFile))
		}
		key = k
	}

	if err := os.MkdirAll(filepath.Dir(cfg.TokenFile), 0755); err != nil {
		return nil, err
	}
	store := controller.NewStore(cfg.TokenFile, key)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	return store, nil
}

func runServe(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	e, err := openEngine(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("engine initialized",
		zap.String("data", cfg.Data.Dir),
		zap.Duration("retention", cfg.Data.Retention),
		zap.Int("max_history", cfg.Data.MaxHistory),
	)

	var tokens *controller.Store
	if cfg.Auth.Enabled {
		if tokens, err = openTokens(cfg.Auth, logger); err != nil {
			e.Close()
			return err
		}
		if tokens.Len() == 0 {
			logger.Warn("auth is enabled but no tokens exist; create one with 'querylight token create'")
		}
	}

	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		e.Run(engineCtx, cfg.Data.CleanInterval)
	}()

	srv := server.New(e, tokens, cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server stopped", zap.Error(serveErr))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	stopEngine()
	<-engineDone

	logger.Info("flushing history to disk")
	if err := e.Close(); err != nil {
		logger.Error("final flush failed", zap.Error(err))
		serveErr = errors.Join(serveErr, err)
	}

	logger.Info("querylight exited gracefully")
	return serveErr
}
