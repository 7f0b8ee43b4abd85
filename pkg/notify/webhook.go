package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/safeguard-project/safeguard/pkg/logging"
	"github.com/safeguard-project/safeguard/pkg/model"
)

// WebhookConfig configures a webhook notifier.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"`
	// MinSeverity drops notifications below this severity. Empty means
	// deliver everything.
	MinSeverity model.Severity `yaml:"min_severity,omitempty"`
	Timeout     time.Duration  `yaml:"timeout"`
	MaxRetries  int            `yaml:"max_retries"`
	RetryDelay  time.Duration  `yaml:"retry_delay"`
	QueueSize   int            `yaml:"queue_size"`
}

// DefaultWebhookConfig returns the default webhook settings.
func DefaultWebhookConfig(url string) WebhookConfig {
	return WebhookConfig{
		URL:        url,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		QueueSize:  100,
	}
}

// alert is the JSON body posted to the webhook endpoint.
type alert struct {
	Severity  model.Severity `json:"severity"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Webhook posts alerts to an HTTP endpoint from a background worker. Notify
// enqueues and returns immediately; a full queue drops the alert rather than
// blocking the caller.
type Webhook struct {
	cfg    WebhookConfig
	http   *http.Client
	log    *logging.Logger
	queue  chan alert
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewWebhook creates a webhook notifier and starts its delivery worker.
func NewWebhook(cfg WebhookConfig, log *logging.Logger) *Webhook {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log == nil {
		log = logging.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Webhook{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log,
		queue:  make(chan alert, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	w.start()
	return w
}

func (w *Webhook) start() {
	w.once.Do(func() {
		w.wg.Add(1)
		go w.worker()
	})
}

func (w *Webhook) worker() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			// Drain remaining alerts
			for len(w.queue) > 0 {
				w.deliver(<-w.queue)
			}
			return
		case a := <-w.queue:
			w.deliver(a)
		}
	}
}

// Notify queues an alert for delivery.
func (w *Webhook) Notify(_ context.Context, severity model.Severity, message string, meta map[string]any) error {
	if w.cfg.MinSeverity != "" && !severity.AtLeast(w.cfg.MinSeverity) {
		return nil
	}

	a := alert{
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Meta:      meta,
	}

	select {
	case w.queue <- a:
	default:
		w.log.Warn("notification queue full, dropping alert", map[string]any{
			"severity": severity,
			"message":  message,
		})
	}
	return nil
}

func (w *Webhook) deliver(a alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		w.log.ErrorErr("marshal alert", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.cfg.RetryDelay):
			}
		}

		req, err := w.request(payload)
		if err != nil {
			w.log.ErrorErr("build webhook request", err)
			return
		}

		resp, err := w.http.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		lastErr = fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	w.log.ErrorErr("webhook delivery failed", lastErr, map[string]any{
		"url":      w.cfg.URL,
		"severity": a.Severity,
	})
}

func (w *Webhook) request(payload []byte) (*http.Request, error) {
	// Deliberately not bound to w.ctx: alerts drained during Close must
	// still complete their request.
	req, err := http.NewRequest(http.MethodPost, w.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Safeguard-Webhook/1.0")

	if w.cfg.Secret != "" {
		req.Header.Set("X-Safeguard-Signature", sign(payload, w.cfg.Secret))
	}
	return req, nil
}

// sign creates an HMAC-SHA256 signature for the payload.
func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close stops the worker after draining queued alerts.
func (w *Webhook) Close() error {
	w.cancel()
	w.wg.Wait()
	return nil
}
