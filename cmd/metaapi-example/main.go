// Command metaapi-example connects to a single MetaApi account, waits for
// the initial synchronization to complete, logs the account summary,
// submits one market trade, then runs until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	_ "go.uber.org/automaxprocs"

	metaapi "github.com/metaapi-go/sdk"
	"github.com/metaapi-go/sdk/internal/logging"
)

func main() {
	cfg, err := loadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	api, err := metaapi.New(cfg.Token, cfg.options(), logger)
	if err != nil {
		logger.Fatal("invalid metaapi options", zap.Error(err))
	}
	defer api.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runMetricsServer(ctx, cfg.MetricsAddr, api, logger)

	conn := api.Connect(cfg.AccountID)
	conn.AddListener(&loggingListener{logger: logger})

	if err := conn.Connect(ctx); err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer conn.Close()

	if err := conn.WaitSynchronized(ctx, "", cfg.WaitTimeout); err != nil {
		logger.Fatal("synchronization did not complete", zap.Error(err))
	}

	account, err := conn.GetAccountInformation(ctx)
	if err != nil {
		logger.Error("get account information failed", zap.Error(err))
	} else {
		logger.Info("account synchronized",
			zap.Int64("login", account.Login),
			zap.String("broker", account.Broker),
			zap.Float64("balance", account.Balance),
			zap.Float64("equity", account.Equity))
	}

	result, err := conn.Trade(ctx, map[string]any{
		"actionType": "ORDER_TYPE_BUY",
		"symbol":     "EURUSD",
		"volume":     0.01,
	})
	if err != nil {
		logger.Error("trade failed", zap.Error(err))
	} else {
		logger.Info("trade accepted", zap.ByteString("response", result))
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
}

func runMetricsServer(ctx context.Context, addr string, api *metaapi.MetaApi, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", api.Metrics().Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics http server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics http server shutdown error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("metrics http server error", zap.Error(err))
		}
	}
}

// loggingListener logs a line for each connect, disconnect and
// synchronization-started event it observes, demonstrating SynchronizationListener without pulling in the
// packets package directly.
type loggingListener struct {
	metaapi.BaseListener
	logger *zap.Logger
}

func (l *loggingListener) OnConnected() {
	l.logger.Info("connected")
}

func (l *loggingListener) OnDisconnected() {
	l.logger.Warn("disconnected")
}

func (l *loggingListener) OnSynchronizationStarted() {
	l.logger.Info("synchronization started")
}
