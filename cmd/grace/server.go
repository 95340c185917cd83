package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mindburn-labs/grace/pkg/app"
	"github.com/mindburn-labs/grace/pkg/config"
)

// runServerCmd boots a Node from environment configuration (Lite Mode
// falls back to SQLite/in-process stores when GRACE_DATABASE_URL and
// GRACE_REDIS_ADDR are unset) and runs it until an interrupt, mirroring
// the teacher's runServer()'s build-then-block-on-signal shape.
func runServerCmd() {
	cfg := config.Load()
	slog.SetLogLoggerLevel(parseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	node, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("grace: failed to build node", "error", err)
		os.Exit(1)
	}

	node.Run(ctx)
	slog.Info("grace: node running", "ledger", cfg.LedgerPath, "mesh_queue_depth", cfg.MeshQueueDepth)

	<-ctx.Done()
	slog.Info("grace: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SafeIOTimeout*5)
	defer cancel()
	if err := node.Shutdown(shutdownCtx); err != nil {
		slog.Error("grace: shutdown error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
