package moderator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tullo/moderation/internal/models"
	"go.uber.org/zap"
)

const (
	intakeBatch     = 32
	intakeBlock     = 5 * time.Second
	intakeStaleIdle = time.Minute
	intakeRetryWait = time.Second
)

// IntakeQueue is implemented by cache.RedisClient. Entries are delivered to
// one consumer of the group and stay pending until acknowledged.
type IntakeQueue interface {
	EnsureIntakeGroup(ctx context.Context) error
	ReadIntake(ctx context.Context, consumer string, count int64, block time.Duration) ([]models.IntakeMessage, error)
	ClaimStaleIntake(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]models.IntakeMessage, error)
	AckIntake(ctx context.Context, ids ...string) error
}

// Bot feeds queued flag and signal events into Intake. Each event is handled
// in its own goroutine and acknowledged once handled, so an event queued
// while no bot runs is picked up later and one left by a crashed bot is
// reclaimed after intakeStaleIdle.
type Bot struct {
	queue    IntakeQueue
	consumer string
	intake   *Intake
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewBot creates a new intake bot reading as consumer, which must be unique
// per running instance.
func NewBot(queue IntakeQueue, consumer string, intake *Intake, logger *zap.Logger) *Bot {
	return &Bot{
		queue:    queue,
		consumer: consumer,
		intake:   intake,
		logger:   logger.With(zap.String("mod", "bot"), zap.String("consumer", consumer)),
	}
}

// Run consumes until ctx is cancelled, then waits for in-flight events.
func (b *Bot) Run(ctx context.Context) {
	if b.queue == nil {
		b.logger.Warn("intake bot requires Redis; not started")
		return
	}
	if err := b.queue.EnsureIntakeGroup(ctx); err != nil {
		b.logger.Error("failed to prepare intake group", zap.Error(err))
	}

	b.logger.Info("intake bot started")
	defer b.wg.Wait()

	var lastClaim time.Time
	for ctx.Err() == nil {
		if time.Since(lastClaim) >= intakeStaleIdle {
			lastClaim = time.Now()
			stale, err := b.queue.ClaimStaleIntake(ctx, b.consumer, intakeStaleIdle, intakeBatch)
			if err != nil && ctx.Err() == nil {
				b.logger.Warn("failed to reclaim stale intake", zap.Error(err))
			}
			if len(stale) > 0 {
				b.logger.Info("reclaimed stale intake", zap.Int("count", len(stale)))
			}
			b.dispatch(ctx, stale)
		}

		msgs, err := b.queue.ReadIntake(ctx, b.consumer, intakeBatch, intakeBlock)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			b.logger.Warn("failed to read intake", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(intakeRetryWait):
			}
			// the group may be gone after a Redis restart
			if err := b.queue.EnsureIntakeGroup(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("failed to prepare intake group", zap.Error(err))
			}
			continue
		}
		b.dispatch(ctx, msgs)
	}
	b.logger.Info("intake bot stopping")
}

func (b *Bot) dispatch(ctx context.Context, msgs []models.IntakeMessage) {
	for _, msg := range msgs {
		msg := msg
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			hctx := context.WithoutCancel(ctx)
			b.handle(hctx, msg.Data)
			if err := b.queue.AckIntake(hctx, msg.ID); err != nil {
				b.logger.Warn("failed to ack intake", zap.String("entry", msg.ID), zap.Error(err))
			}
		}()
	}
}

func (b *Bot) handle(ctx context.Context, payload string) {
	var env struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("dropping malformed intake message", zap.Error(err))
		return
	}

	switch env.Event {
	case models.EventFlagCreated:
		var ev models.FlagCreatedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			b.logger.Warn("dropping malformed flag event", zap.Error(err))
			return
		}
		if _, err := b.intake.SubmitFlag(ctx, ev); err != nil {
			b.logger.Warn("rejected flag event", zap.Error(err))
		}
	case models.EventSignalDetected:
		var ev models.AutoSignalEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			b.logger.Warn("dropping malformed signal event", zap.Error(err))
			return
		}
		if err := b.intake.OnAutoSignal(ctx, ev); err != nil {
			b.logger.Warn("rejected signal event", zap.Error(err))
		}
	default:
		b.logger.Debug("ignoring intake event", zap.String("event", env.Event))
	}
}
