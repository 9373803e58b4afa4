// Package alerting implements the security-alerting supplement (SPEC_FULL.md
// §12): a best-effort Slack notification when a hub's invocation-failure
// rate crosses a threshold within a sliding window, a signal for possible
// credential probing. RecordFailure runs on the request path, before the
// response is written, but never blocks on network I/O: the Slack post runs
// in its own goroutine.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/vaultmesh/datahub/internal/telemetry"
)

// Notifier sends a Slack alert when a hub's invocation-failure count crosses
// Threshold within Window. If botToken is empty it is a no-op (logging only),
// mirroring the teacher's optional-provider pattern.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger

	threshold int
	window    time.Duration

	mu       chan struct{} // binary semaphore guarding failures
	failures map[string][]time.Time
}

// NewNotifier creates a Notifier. threshold is the number of invocation
// failures within window that triggers an alert for a given hub.
func NewNotifier(botToken, channel string, logger *slog.Logger, threshold int, window time.Duration) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	n := &Notifier{
		client:    client,
		channel:   channel,
		logger:    logger,
		threshold: threshold,
		window:    window,
		mu:        make(chan struct{}, 1),
		failures:  make(map[string][]time.Time),
	}
	n.mu <- struct{}{}
	return n
}

// IsEnabled reports whether a Slack client is configured.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// RecordFailure registers an invocation-verification failure for hubID and,
// if the sliding-window threshold is crossed, fires an async Slack alert.
// It never blocks on network I/O.
func (n *Notifier) RecordFailure(hubID string) {
	telemetry.SecurityAlertsTotal.WithLabelValues("invocation_failure").Inc()

	<-n.mu
	now := time.Now()
	cutoff := now.Add(-n.window)
	kept := n.failures[hubID][:0]
	for _, t := range n.failures[hubID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	n.failures[hubID] = kept
	count := len(kept)
	if count >= n.threshold {
		delete(n.failures, hubID)
	}
	n.mu <- struct{}{}

	if count < n.threshold {
		return
	}

	go n.notify(hubID, count)
}

func (n *Notifier) notify(hubID string, count int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text := fmt.Sprintf(":rotating_light: %d invocation failures for hub `%s` in the last %s — possible credential probing.",
		count, hubID, n.window)

	if !n.IsEnabled() {
		n.logger.Warn("security alert (slack disabled)", "hub_id", hubID, "failure_count", count)
		return
	}

	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting security alert to slack", "error", err, "hub_id", hubID)
		return
	}
	n.logger.Info("posted security alert to slack", "hub_id", hubID, "failure_count", count)
}
