package work

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ntorque/ntorque/pkg/logger"
)

// Prometheus metrics for the worker processes.
var (
	// tasksPerformed counts finished performer runs by outcome:
	// "completed", "rescheduled", "failed" or "missed" (claim lost).
	tasksPerformed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ntorque_performed_total",
		Help: "The total number of performed task attempts",
	}, []string{"outcome"})

	// requestDuration tracks outbound web-hook latency.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ntorque_request_duration_seconds",
		Help:    "Duration of outbound web hook requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// channelDepth tracks the number of pending notifications per channel.
	channelDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ntorque_channel_depth",
		Help: "Number of notifications in each channel",
	}, []string{"channel"})

	// tasksRequeued counts notifications re-emitted by the requeuer.
	tasksRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ntorque_requeued_total",
		Help: "The total number of overdue tasks republished",
	})

	// tasksCleaned counts old tasks removed by the cleaner.
	tasksCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ntorque_cleaned_total",
		Help: "The total number of old tasks deleted",
	})
)

// ChannelLengther reports a channel's depth.
type ChannelLengther interface {
	Length(ctx context.Context, channel string) (int64, error)
}

// MonitorChannelDepth periodically samples channel depths into the gauge
// until the context is cancelled.
func MonitorChannelDepth(ctx context.Context, notifier ChannelLengther, channels []string, interval time.Duration) {
	log := logger.Component("metrics")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, channel := range channels {
				depth, err := notifier.Length(ctx, channel)
				if err != nil {
					log.Warn().Err(err).Str("channel", channel).Msg("Depth sample failed")
					continue
				}
				channelDepth.WithLabelValues(channel).Set(float64(depth))
			}
		}
	}
}
