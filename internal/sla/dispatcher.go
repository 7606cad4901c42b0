package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Channel is one external alert integration.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert models.BreachAlert) error
}

// ChannelResult is the outcome of one channel delivery.
type ChannelResult struct {
	Channel  string
	Err      error
	Duration time.Duration
}

// Dispatcher sends an alert to all channels in parallel. Each channel gets
// its own deadline and no channel's failure cancels another.
type Dispatcher struct {
	channels []Channel
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewDispatcher(channels []Channel, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		channels: channels,
		timeout:  timeout,
		metrics:  m,
		logger:   logger.With(zap.String("mod", "breach_dispatch")),
	}
}

// Channels returns the names of the configured channels.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch waits for every channel and returns their results in channel order.
func (d *Dispatcher) Dispatch(ctx context.Context, alert models.BreachAlert) []ChannelResult {
	results := make([]ChannelResult, len(d.channels))

	var g errgroup.Group
	for i, ch := range d.channels {
		i, ch := i, ch
		g.Go(func() error {
			results[i] = d.send(ctx, ch, alert)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, alert models.BreachAlert) (res ChannelResult) {
	res.Channel = ch.Name()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("channel %s panicked: %v", res.Channel, r)
		}
		res.Duration = time.Since(start)
		d.metrics.BreachDispatch.WithLabelValues(res.Channel, metrics.Result(res.Err)).Inc()

		log := d.logger.With(
			zap.String("channel", res.Channel),
			zap.String("alert_id", alert.ID.String()),
			zap.String("type", alert.Type),
			zap.Duration("duration", res.Duration),
		)
		if res.Err != nil {
			log.Error("breach alert delivery failed", zap.Error(res.Err))
			return
		}
		log.Info("breach alert delivered")
	}()

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	res.Err = ch.Send(cctx, alert)
	return res
}
