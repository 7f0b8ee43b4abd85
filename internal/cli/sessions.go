package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/safeguard-project/safeguard/internal/httpapi"
	"github.com/safeguard-project/safeguard/pkg/color"
	"github.com/safeguard-project/safeguard/pkg/config"
	"github.com/safeguard-project/safeguard/pkg/model"
)

var (
	sessionsAddr string
	sessionsStop string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the daemon's monitoring sessions",
	Long: `List the daemon's monitoring sessions, newest first.

Talks to a running safeguardd over HTTP; the request is authenticated
with a token minted from the shared SAFEGUARD_JWT_SECRET.

Examples:
  safeguard sessions
  safeguard sessions --addr http://deploy-host:8440
  safeguard sessions --stop deploy-v1.2.0-a1b2c3d4`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		client, base, token, err := daemonClient(cfg)
		if err != nil {
			fmtErr("sessions: %v", err)
			os.Exit(1)
		}

		if sessionsStop != "" {
			stopDaemonSession(client, base, token, sessionsStop)
			return
		}

		req, err := http.NewRequest(http.MethodGet, base+"/v1/sessions", nil)
		if err != nil {
			fmtErr("sessions: %v", err)
			os.Exit(1)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			fmtErr("sessions: %v (is safeguardd running?)", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			fmtErr("sessions: %v", err)
			os.Exit(1)
		}
		if resp.StatusCode != http.StatusOK {
			fmtErr("sessions: daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
			os.Exit(1)
		}

		var reply struct {
			Sessions []model.MonitoringSession `json:"sessions"`
		}
		if err := json.Unmarshal(body, &reply); err != nil {
			fmtErr("sessions: %v", err)
			os.Exit(1)
		}

		if jsonOutput {
			outputJSON(reply.Sessions)
			return
		}

		if len(reply.Sessions) == 0 {
			fmt.Println("No sessions.")
			return
		}
		for _, s := range reply.Sessions {
			id := s.DeploymentID
			if color.Enabled() {
				id = color.DeploymentID(id)
			}
			fmt.Printf("%s  %-11s  %s  started %s\n",
				id, s.Status, s.Version, s.StartedAt.Format(time.RFC3339))
		}
	},
}

func stopDaemonSession(client *http.Client, base, token, deploymentID string) {
	req, err := http.NewRequest(http.MethodPost, base+"/v1/sessions/"+deploymentID+"/stop", nil)
	if err != nil {
		fmtErr("sessions: %v", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		fmtErr("sessions: %v (is safeguardd running?)", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmtErr("sessions: %v", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmtErr("sessions: daemon returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
		os.Exit(1)
	}

	var reply struct {
		Session model.MonitoringSession `json:"session"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		fmtErr("sessions: %v", err)
		os.Exit(1)
	}

	if jsonOutput {
		outputJSON(reply.Session)
		return
	}
	fmt.Printf("Session %s: %s\n", reply.Session.DeploymentID, reply.Session.Status)
}

// daemonClient builds an HTTP client, base URL, and bearer token for the
// daemon from the shared config.
func daemonClient(cfg *config.Config) (*http.Client, string, string, error) {
	tokens, err := httpapi.NewTokenManager(cfg.Auth)
	if err != nil {
		return nil, "", "", err
	}
	token, err := tokens.Issue(time.Now(), model.AgentDescriptor{
		ID:          "cli",
		Name:        "cli",
		Type:        model.AgentOps,
		SuccessRate: 0.75,
	})
	if err != nil {
		return nil, "", "", err
	}

	base := sessionsAddr
	if base == "" {
		base = cfg.HTTP.Addr
	}
	if strings.HasPrefix(base, ":") {
		base = "http://localhost" + base
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	base = strings.TrimSuffix(base, "/")

	return &http.Client{Timeout: 10 * time.Second}, base, token, nil
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsAddr, "addr", "", "daemon address (default from config)")
	sessionsCmd.Flags().StringVar(&sessionsStop, "stop", "", "stop the session for this deployment id")
	rootCmd.AddCommand(sessionsCmd)
}
