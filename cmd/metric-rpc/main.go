package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"predixaai-anomaly/internal/config"
	"predixaai-anomaly/internal/metricstore"
)

// metric-rpc serves a metric source over JSON-RPC, either on HTTP or as a
// one-shot stdio process for the stdio transport.
func main() {
	mode := strings.ToLower(getenv("RPC_MODE", "http"))
	logOut := io.Writer(os.Stdout)
	if mode == "stdio" {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, nil))
	cfg := config.Load()

	sourcePath := getenv("METRIC_SOURCE_CONFIG_PATH", "")
	if sourcePath == "" {
		logger.Error("METRIC_SOURCE_CONFIG_PATH is required")
		os.Exit(1)
	}
	source, err := metricstore.LoadSourceConfig(sourcePath)
	if err != nil {
		logger.Error("failed to load metric source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	source.MaxRows = cfg.Limits.MaxResultRows
	source.QueryTimeout = cfg.MetricQueryTimeout

	var decrypter metricstore.Decrypter
	if cfg.EncryptionKey != "" {
		opener, err := config.NewSecretOpener(cfg.EncryptionKey)
		if err != nil {
			logger.Error("invalid encryption key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		decrypter = opener
	}
	store, closer, err := metricstore.Open(source, decrypter)
	if err != nil {
		logger.Error("failed to open metric source", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	server := &metricstore.RPCServer{Store: store, Timeout: cfg.MetricQueryTimeout}

	if mode == "stdio" {
		if err := server.ServeStdio(context.Background(), os.Stdin, os.Stdout); err != nil {
			logger.Error("stdio request failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	port := getenv("PORT", "9000")
	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	logger.Info("metric rpc server listening", slog.String("port", port), slog.String("source", source.Type))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
