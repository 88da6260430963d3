package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/methminihima/medivault/internal/api"
	"github.com/methminihima/medivault/internal/config"
	"github.com/methminihima/medivault/internal/core"
	"github.com/methminihima/medivault/internal/database"
	"github.com/methminihima/medivault/internal/logging"
	"github.com/methminihima/medivault/internal/notification"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return 1
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, cfg, db, logger)
	if err != nil {
		slog.Error("failed to start client", "error", err)
		return 1
	}
	defer c.Close()

	res, err := c.Start(ctx)
	if err != nil {
		slog.Error("failed to restore session", "error", err)
		return 1
	}
	if res == nil {
		email := os.Getenv("MEDIVAULT_EMAIL")
		if email == "" {
			slog.Error("no stored session; set MEDIVAULT_EMAIL and MEDIVAULT_PASSWORD to log in")
			return 1
		}
		remember, _ := strconv.ParseBool(os.Getenv("MEDIVAULT_REMEMBER_ME"))
		res, err = c.Login(ctx, api.Credentials{
			Email:    email,
			Password: os.Getenv("MEDIVAULT_PASSWORD"),
		}, remember)
		if err != nil {
			slog.Error("login failed", "error", err)
			return 1
		}
	}
	slog.Info("signed in",
		"user", res.Session.User.FullName,
		"role", res.Session.User.Role,
		"route", res.Route,
		"expires_at", res.Session.ExpiresAt,
	)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	unsubscribe := c.Notifications().Subscribe(printView)
	defer unsubscribe()

	<-ctx.Done()
	slog.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics shutdown error", "error", err)
		}
	}
	return 0
}

func printView(v notification.View) {
	fmt.Printf("\n%d notifications, %d unread\n", len(v.Items), v.Unread)
	for _, n := range v.Items {
		cls := notification.Classify(n)
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Printf("%s [%-12s %-6s] %s  %s\n",
			mark, cls.Category, cls.Priority, n.CreatedAt.Local().Format(time.Kitchen), n.Title)
	}
}
