package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillswap/realtime/internal/api"
	"github.com/skillswap/realtime/internal/broker"
	"github.com/skillswap/realtime/internal/config"
	"github.com/skillswap/realtime/internal/history"
	"github.com/skillswap/realtime/internal/identity"
	"github.com/skillswap/realtime/internal/presence"
	"github.com/skillswap/realtime/internal/sandbox"
	"github.com/skillswap/realtime/internal/state"
	"github.com/skillswap/realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogger()

	hist, err := history.OpenSQLite(cfg.DBPath, cfg.HistoryBacklog)
	if err != nil {
		slog.Error("history store init failed", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer hist.Close()

	sweeper := history.NewSweeper(hist, history.RetentionConfig{
		Interval: cfg.HistorySweepTick,
		MaxAge:   cfg.HistoryMaxAge,
	})
	sweeper.Start()
	defer sweeper.Stop()

	var runner sandbox.Runner
	if cfg.SandboxURL != "" {
		runner = sandbox.NewHTTPRunner(cfg.SandboxURL, cfg.SandboxTimeout)
	}

	brk := broker.New(broker.Config{
		Store:          state.NewStore(cfg.ChatBacklog),
		Presence:       presence.NewTracker(),
		History:        hist,
		Authorizer:     identity.AllowAll{},
		Runner:         runner,
		ThrottleWindow: cfg.ThrottleWindow,
	})
	go brk.Run()
	defer brk.Stop()

	verifier := identity.NewJWTVerifier(cfg.JWTSecret)

	router := api.New(brk, hist).Router()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(brk, verifier, w, r)
	})

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		slog.Info("realtime server starting", "addr", cfg.Addr, "env", cfg.Env, "db", cfg.DBPath)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func setupLogger() {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
