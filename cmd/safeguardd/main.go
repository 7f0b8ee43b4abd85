// Command safeguardd is the safeguard HTTP daemon. It serves the change
// pipeline and audit trail to authenticated agents and monitors accepted
// deployments in the background.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/safeguard-project/safeguard/internal/audit"
	"github.com/safeguard-project/safeguard/internal/collector"
	"github.com/safeguard-project/safeguard/internal/gatekeeper"
	"github.com/safeguard-project/safeguard/internal/httpapi"
	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/internal/pipeline"
	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/metrics"
	"github.com/safeguard-project/safeguard/pkg/notify"
	"github.com/safeguard-project/safeguard/pkg/policy"
)

func main() {
	configPath := flag.String("config", "", "path to safeguard.yaml")
	flag.Parse()

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.ErrorErr("config load failed", err)
		os.Exit(1)
	}

	log := logging.NewLogger(logging.ParseLevel(cfg.Logging.Level))
	logging.SetGlobal(log)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := httpapi.NewTokenManager(cfg.Auth)
	if err != nil {
		log.ErrorErr("auth init failed", err)
		os.Exit(1)
	}

	pol := policy.Default()
	if cfg.Audit.PolicyPath != "" {
		if pol, err = policy.Load(cfg.Audit.PolicyPath); err != nil {
			log.ErrorErr("policy load failed", err)
			os.Exit(1)
		}
	}

	signingKey, err := cfg.SigningKey()
	if err != nil {
		log.ErrorErr("signing key load failed", err)
		os.Exit(1)
	}
	if signingKey == nil {
		log.Warn("no signing key configured, audit trail runs keyless")
	}

	var notifier notify.Notifier
	var webhook *notify.Webhook
	if cfg.Webhook.URL != "" {
		wcfg := notify.DefaultWebhookConfig(cfg.Webhook.URL)
		wcfg.Secret = cfg.Webhook.Secret
		webhook = notify.NewWebhook(wcfg, log)
		notifier = webhook
	}

	reg := metrics.Default()

	trail, err := audit.Open(cfg.Audit.Dir, audit.Options{
		SigningKey:      signingKey,
		Notifier:        notifier,
		NotifyThreshold: pol.HighRiskNotifyThreshold,
		Logger:          log,
		Registry:        reg,
	})
	if err != nil {
		log.ErrorErr("audit trail open failed", err)
		os.Exit(1)
	}
	defer trail.Close()

	// Monitoring needs a metric backend. Without one the daemon still
	// validates and records but never starts sessions.
	var mon *monitor.Monitor
	if cfg.Redis.Addr != "" {
		col, err := collector.OpenRedis(rootCtx, collector.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			log.ErrorErr("redis collector init failed", err)
			os.Exit(1)
		}
		defer col.Close()
		mon = monitor.New(trail, col,
			monitor.WithLogger(log),
			monitor.WithRegistry(reg),
		)
	} else {
		log.Warn("no redis addr configured, monitoring disabled")
	}

	pipeCfg := pipeline.Config{
		Trail:      trail,
		Gatekeeper: gatekeeper.New(log),
		Policy:     pol,
		Logger:     log,
		Registry:   reg,
	}
	if mon != nil {
		pipeCfg.Monitor = mon
	}
	pipe, err := pipeline.New(pipeCfg)
	if err != nil {
		log.ErrorErr("pipeline init failed", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	server := &httpapi.Server{
		Pipeline: pipe,
		Trail:    trail,
		Monitor:  mon,
		Registry: reg,
		Log:      log.With(map[string]any{"component": "http"}),
	}
	server.Register(r, httpapi.RequireAgentToken(tokens))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("safeguardd listening", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorErr("http server failed", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr("http shutdown failed", err)
	}

	// Sessions append their final entries before the trail closes.
	if mon != nil {
		mon.StopAll()
	}
	if webhook != nil {
		_ = webhook.Close()
	}
}
