package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/internal/collector"
	"github.com/safeguard-project/safeguard/internal/monitor"
	"github.com/safeguard-project/safeguard/pkg/color"
	"github.com/safeguard-project/safeguard/pkg/model"
	"github.com/safeguard-project/safeguard/pkg/progress"
)

var (
	monitorVersion    string
	monitorDeployment string
	monitorBaseline   string
	monitorStatic     string
	monitorRedisAddr  string
	monitorWindow     time.Duration
	monitorPoll       time.Duration
	monitorPolicyPath string
	monitorAgentID    string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run a foreground monitoring session",
	Long: `Run a bounded monitoring session for one deployment in the
foreground and report incidents as they happen.

Metrics come from the Redis collector (the deployment must be registered
and publishing) or from a fixed --static sample for dry runs. The session
ends when the window elapses, a threshold breach rolls the deployment
back, or the command is interrupted.

Exit status is 0 when the session completes clean, 1 otherwise.

Examples:
  safeguard monitor --version v1.2.0 --baseline error_rate=0.01
  safeguard monitor --version v1.2.0 --window 5m --poll 10s
  safeguard monitor --version v1.2.0 --static error_rate=0.01 --baseline error_rate=0.01`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		pol := loadPolicy(cfg, monitorPolicyPath)

		trail := openTrail(cfg)
		defer trail.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var col collector.MetricCollector
		if monitorStatic != "" {
			sample, err := parseMetricsFlag(monitorStatic)
			if err != nil {
				fmtErr("monitor: --static: %v", err)
				os.Exit(1)
			}
			col = collector.NewStatic(*sample)
		} else {
			addr := monitorRedisAddr
			if addr == "" {
				addr = cfg.Redis.Addr
			}
			if addr == "" {
				fmtErr("monitor: no metric source (set redis.addr in config, --redis, or --static)")
				os.Exit(1)
			}
			rc, err := collector.OpenRedis(ctx, collector.RedisConfig{
				Addr:      addr,
				Password:  cfg.Redis.Password,
				DB:        cfg.Redis.DB,
				KeyPrefix: cfg.Redis.KeyPrefix,
			})
			if err != nil {
				fmtErr("monitor: %v", err)
				os.Exit(1)
			}
			defer rc.Close()
			col = rc
		}

		baseline, err := parseMetricsFlag(monitorBaseline)
		if err != nil {
			fmtErr("monitor: --baseline: %v", err)
			os.Exit(1)
		}

		window := monitorWindow
		if window <= 0 {
			window = pol.MonitoringWindow()
		}
		poll := monitorPoll
		if poll <= 0 {
			poll = pol.PollEvery()
		}

		deploymentID := monitorDeployment
		if deploymentID == "" {
			deploymentID = model.NewDeploymentID(monitorVersion)
		}

		mon := monitor.New(trail, col)
		mon.OnIncident(printIncident)

		session, err := mon.Start(ctx, monitor.StartOptions{
			DeploymentID: deploymentID,
			Version:      monitorVersion,
			Agent:        model.AgentDescriptor{ID: monitorAgentID, Type: model.AgentOps, SuccessRate: 0.75},
			Baseline:     baseline,
			Thresholds:   pol.RollbackThresholds,
			Window:       window,
			PollInterval: poll,
		})
		if err != nil {
			fmtErr("monitor: %v", err)
			os.Exit(1)
		}

		fmt.Printf("Monitoring %s for %s (poll %s)\n", deploymentID, window, poll)

		stopBar := watchBar(session.Done(), window)

		select {
		case <-ctx.Done():
			session.Stop()
			<-session.Done()
		case <-session.Done():
		}
		stopBar()

		final := session.Status()
		if jsonOutput {
			outputJSON(final)
		} else {
			fmt.Printf("Session %s: %s\n", final.DeploymentID, final.Status)
		}

		if final.Status != model.SessionCompleted {
			os.Exit(1)
		}
	},
}

// watchBar renders a per-second countdown of the window on stderr. Short
// windows and JSON mode skip it.
func watchBar(done <-chan struct{}, window time.Duration) (stop func()) {
	totalSec := int(window / time.Second)
	if jsonOutput || totalSec < 2 {
		return func() {}
	}

	term := progress.NewTerminal("watch", totalSec, true)
	watch := progress.New("watch", totalSec, term.Callback())
	ticker := time.NewTicker(time.Second)
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				watch.Increment("")
			case <-done:
				return
			case <-quit:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(quit)
		term.Done("")
	}
}

func printIncident(inc model.Incident) {
	severity := string(inc.Severity)
	if color.Enabled() {
		switch {
		case inc.Severity.AtLeast(model.SeverityHigh):
			severity = color.Error(severity)
		case inc.Severity == model.SeverityMedium:
			severity = color.Warning(severity)
		}
	}
	fmt.Printf("[%s] %s  %s\n", severity, inc.ID, inc.Message)
}

func init() {
	monitorCmd.Flags().StringVar(&monitorVersion, "version", "", "release version under watch")
	monitorCmd.Flags().StringVar(&monitorDeployment, "deployment", "", "deployment id (default derived from version)")
	monitorCmd.Flags().StringVar(&monitorBaseline, "baseline", "", "baseline sample name=value,... (default sampled at start)")
	monitorCmd.Flags().StringVar(&monitorStatic, "static", "", "fixed sample name=value,... instead of Redis")
	monitorCmd.Flags().StringVar(&monitorRedisAddr, "redis", "", "redis address (overrides config)")
	monitorCmd.Flags().DurationVar(&monitorWindow, "window", 0, "monitoring window (default from policy)")
	monitorCmd.Flags().DurationVar(&monitorPoll, "poll", 0, "poll interval (default from policy)")
	monitorCmd.Flags().StringVar(&monitorPolicyPath, "policy", "", "policy file (overrides config)")
	monitorCmd.Flags().StringVar(&monitorAgentID, "agent-id", "cli", "agent identifier for audit records")
	rootCmd.AddCommand(monitorCmd)
}
