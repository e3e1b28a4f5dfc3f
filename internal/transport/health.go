package transport

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/retry"
)

const unhealthyThreshold = 3

// HealthWatcher periodically pings one upstream client and calls onChange
// whenever its healthy/unhealthy status flips. Three consecutive ping
// failures mark it unhealthy (§4.J).
type HealthWatcher struct {
	client   *Client
	interval time.Duration
	onChange func(healthy bool)
	logger   zerolog.Logger

	consecutiveFailures int
	healthy             bool
}

// NewHealthWatcher builds a watcher for client, pinging every interval.
func NewHealthWatcher(client *Client, interval time.Duration, onChange func(healthy bool), logger zerolog.Logger) *HealthWatcher {
	return &HealthWatcher{
		client:   client,
		interval: interval,
		onChange: onChange,
		healthy:  true,
		logger:   logger.With().Str("component", "transport.health").Logger(),
	}
}

// Run blocks pinging on a ticker until ctx is cancelled.
func (w *HealthWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pingOnce(ctx)
		}
	}
}

func (w *HealthWatcher) pingOnce(ctx context.Context) {
	cfg := retry.Config{
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Jitter:         0.2,
	}

	err := retry.Do(ctx, cfg, func() error {
		return w.client.Ping(ctx)
	}, func(error) bool { return true })

	if err != nil {
		w.consecutiveFailures++
		w.logger.Warn().Err(err).Int("consecutive_failures", w.consecutiveFailures).Msg("upstream health ping failed")
		if w.consecutiveFailures >= unhealthyThreshold && w.healthy {
			w.healthy = false
			w.onChange(false)
		}
		return
	}

	w.consecutiveFailures = 0
	if !w.healthy {
		w.healthy = true
		w.onChange(true)
	}
}
