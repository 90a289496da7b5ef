package monitoring

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/config"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// minFinishedRuns is how many finished runs the failure rate needs before it alerts.
const minFinishedRuns = 3

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate     AlertType = "run_failure_rate"
	AlertSubmissionFailures AlertType = "submission_failures"
	AlertFactDropRate       AlertType = "fact_drop_rate"
	AlertStuckRuns          AlertType = "stuck_runs"
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
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsComplete + snap.RunsFailed
	if finished >= minFinishedRuns && snap.RunFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RunFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RunFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Each failed submission is a filing missing from the output.
	if snap.SubmissionsFailed > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSubmissionFailures,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d submission(s) failed to emit in last %dh",
				snap.SubmissionsFailed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed":  snap.SubmissionsFailed,
				"emitted": snap.SubmissionsEmitted,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DropRateThreshold > 0 && snap.FactDropRate > a.cfg.DropRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFactDropRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Fact drop rate %.2f%% exceeds threshold %.2f%% (%d of %d facts in last %dh)",
				snap.FactDropRate*100, a.cfg.DropRateThreshold*100,
				snap.FactsDropped, snap.Facts, snap.LookbackHours,
			),
			Details: map[string]any{
				"drop_rate": snap.FactDropRate,
				"threshold": a.cfg.DropRateThreshold,
				"dropped":   snap.FactsDropped,
				"facts":     snap.Facts,
			},
			Timestamp: now,
		})
	}

	if len(snap.RunsStuck) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStuckRuns,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d run(s) still running after %dh",
				len(snap.RunsStuck), a.cfg.StaleAfterHours,
			),
			Details: map[string]any{
				"run_ids": snap.RunsStuck,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
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

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := jsonAPI.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
