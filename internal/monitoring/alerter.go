package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/devcarbon/internal/config"
	"github.com/sells-group/devcarbon/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBreakerOpen       AlertType = "breaker_open"
	AlertDefaultFactorRate AlertType = "default_factor_rate"
	AlertEventsDropped     AlertType = "events_dropped"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig

	mu          sync.Mutex
	lastDropped int64
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "alert webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// Dropped events alert only on growth since the previous evaluation.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if len(snap.OpenBreakers) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertBreakerOpen,
			Severity: "medium",
			Message: fmt.Sprintf("Circuit open for provider(s): %s",
				strings.Join(snap.OpenBreakers, ", ")),
			Details: map[string]any{
				"providers": snap.OpenBreakers,
			},
			Timestamp: now,
		})
	}

	minResults := a.cfg.MinResults
	if minResults <= 0 {
		minResults = 1
	}
	if snap.ResultsTotal >= minResults && snap.DefaultFactorRate > a.cfg.DefaultRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDefaultFactorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"%.1f%% of results used the global default factor, above threshold %.1f%% (%d / %d in last %dh)",
				snap.DefaultFactorRate*100, a.cfg.DefaultRateThreshold*100,
				snap.DefaultFactorUsed, snap.ResultsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"default_rate": snap.DefaultFactorRate,
				"threshold":    a.cfg.DefaultRateThreshold,
				"default_used": snap.DefaultFactorUsed,
				"total":        snap.ResultsTotal,
			},
			Timestamp: now,
		})
	}

	a.mu.Lock()
	grown := snap.DroppedEvents - a.lastDropped
	a.lastDropped = snap.DroppedEvents
	a.mu.Unlock()
	if grown > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertEventsDropped,
			Severity:  "low",
			Message:   fmt.Sprintf("%d result event(s) dropped since the last check", grown),
			Details:   map[string]any{"dropped": grown, "dropped_total": snap.DroppedEvents},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL, or logs them when
// no webhook is configured. Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		for _, alert := range alerts {
			zap.L().Warn("monitoring: alert",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
				zap.String("message", alert.Message),
			)
		}
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying transient
// failures.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return resilience.TransportError("monitoring: webhook", err)
		}
		defer resp.Body.Close() //nolint:errcheck

		return resilience.ResponseError("monitoring: webhook", resp)
	})
}
