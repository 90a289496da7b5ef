package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/secfin/internal/config"
)

const defaultCheckInterval = 15 * time.Minute

// Report is the outcome of one ledger health check.
type Report struct {
	Snapshot *MetricsSnapshot
	Alerts   []Alert
	// Sent counts the alerts posted to the webhook by this check.
	Sent int
}

// Checker evaluates run-ledger health. A condition that stays raised across
// consecutive checks is posted once, when it first appears. Not safe for
// concurrent use.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	active    map[AlertType]bool
}

// NewChecker builds a checker from the monitoring config.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		active:    make(map[AlertType]bool),
	}
}

// Check collects one snapshot and evaluates it. Every alert raised is in the
// report; only alert types not raised by the previous check are posted.
func (c *Checker) Check(ctx context.Context) (*Report, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect ledger metrics")
	}

	rep := &Report{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}

	raised := make(map[AlertType]bool, len(rep.Alerts))
	var fresh []Alert
	for _, a := range rep.Alerts {
		raised[a.Type] = true
		if !c.active[a.Type] {
			fresh = append(fresh, a)
		}
	}
	c.active = raised
	rep.Sent = c.alerter.SendAlerts(ctx, fresh)
	return rep, nil
}

// Run checks immediately and then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("ledger health checks starting",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	tick := time.NewTicker(c.interval)
	defer tick.Stop()

	for {
		rep, err := c.Check(ctx)
		switch {
		case err != nil:
			log.Error("ledger health check failed", zap.Error(err))
		case len(rep.Alerts) > 0:
			log.Warn("ledger health alerts raised",
				zap.Int("alerts", len(rep.Alerts)),
				zap.Int("sent", rep.Sent),
				zap.String("latest_partition", rep.Snapshot.LatestPartition),
			)
		}

		select {
		case <-ctx.Done():
			log.Info("ledger health checks stopped")
			return
		case <-tick.C:
		}
	}
}
