package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/yagim/sigsvc/internal/auth"
	"github.com/yagim/sigsvc/internal/biz"
	"github.com/yagim/sigsvc/internal/broker"
	"github.com/yagim/sigsvc/internal/config"
	"github.com/yagim/sigsvc/internal/httpserver"
	"github.com/yagim/sigsvc/internal/metrics"
	"github.com/yagim/sigsvc/internal/sessionsvc"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting sigsvc",
		"listen_addr", cfg.ListenAddr(),
		"mode", cfg.Mode,
		"sessionsvc_url", cfg.SessionSvcURL,
		"auth_user_id_source", cfg.AuthUserIDSource,
		"debug_no_auth", cfg.DebugNoAuth,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, buildTimestamp := resolveBuildInfo(buildCommit, buildTime)
	build := httpserver.BuildInfo{Commit: commit, BuildTime: buildTimestamp}

	m := metrics.New()
	svcClient := sessionsvc.New(cfg.SessionSvcURL, m)
	sessions := biz.NewSessionsManager(svcClient, logger)
	gate := auth.NewGate(cfg)
	b := broker.New(broker.Config{
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		AllowedOrigins:       cfg.AllowedOrigins,
	}, sessions, m, logger)

	srv := httpserver.New(cfg, logger, gate, b, m, build)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
