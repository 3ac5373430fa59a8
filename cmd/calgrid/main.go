package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calgrid/internal/config"
	appLog "calgrid/internal/log"
	"calgrid/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	debug      bool
}

func main() {
	appLog.Info("calgrid starting", "version", "0.1.0-dev")

	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"slot_minutes", conf.SlotMinutes,
		"month_event_cap", conf.MonthEventCap,
		"refresh", conf.RefreshCron,
		"feed_count", len(conf.Feeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	server := web.NewServer(conf, flags.debug)

	if flags.once {
		// Single-shot: warm the feed cache and exit. systemd 타이머 등
		// 외부 스케줄러에서 호출하는 용도.
		server.RefreshFeeds(ctx)
		appLog.Info("calgrid exiting (once)")
		return
	}

	// Initial warm-up so the first request does not pay the fetch cost.
	server.RefreshFeeds(ctx)

	// Periodic feed refresh driven by the configured cron spec.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		appLog.Info("scheduled feed refresh", "spec", conf.RefreshCron)
		server.RefreshFeeds(ctx)
	}); err != nil {
		appLog.Error("invalid refresh cron spec", err, "spec", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	httpSrv := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("http server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http shutdown failed", err)
	}

	appLog.Info("calgrid exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calgrid/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Warm the feed cache once and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging and relative cache paths")

	flag.Parse()

	return cfg
}
