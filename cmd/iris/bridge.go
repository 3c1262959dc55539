package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irislive/iris/pkg/bridge"
	"github.com/irislive/iris/pkg/live"
	"github.com/irislive/iris/pkg/store"
)

const bridgeShutdownGrace = 10 * time.Second

// runBridge serves the WebSocket bridge instead of the terminal client.
// Each browser connection gets its own live session; the store and the
// Gemini client are shared.
func runBridge(ctx context.Context, cfg cliConfig, errOut io.Writer) error {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(ctx, cfg.storeConfig(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	dialer, err := live.NewGeminiDialer(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	factory := func(ctrl live.AppController) (*live.Session, error) {
		reg := live.NewToolRegistry()
		if err := live.RegisterAppTools(reg, ctrl, nil); err != nil {
			return nil, err
		}
		if err := live.RegisterAssistantTools(reg, st); err != nil {
			return nil, err
		}
		return live.NewSession(cfg.sessionConfig(), dialer, reg)
	}

	srv := bridge.New(bridge.Config{Addr: cfg.BridgeAddr}, factory, logger)
	httpSrv := &http.Server{
		Addr:              cfg.BridgeAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting bridge", "addr", cfg.BridgeAddr, "model", cfg.Model, "store", cfg.StoreDriver)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), bridgeShutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge stopped")
	return nil
}
