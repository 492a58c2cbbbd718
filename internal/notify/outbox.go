package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// Deliverer описывает доставку одного уведомления.
type Deliverer interface {
	Deliver(ctx context.Context, p Payload) (Ack, error)
}

// OutboxStore хранит уведомления, которые не удалось доставить сразу.
type OutboxStore interface {
	EnqueueNotification(ctx context.Context, e model.OutboxEntry) error
	ClaimDueNotifications(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]model.OutboxEntry, error)
	MarkNotificationSent(ctx context.Context, id string, attempts int) error
	RescheduleNotification(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	MarkNotificationDead(ctx context.Context, id string, attempts int, lastErr string) error
}

const defaultRedeliveryDelay = 30 * time.Second

// Notifier доставляет уведомление по принципу best-effort: при временной ошибке
// уведомление откладывается в outbox для повторной доставки.
type Notifier struct {
	deliverer Deliverer
	outbox    OutboxStore
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotifier создаёт Notifier. Если outbox равен nil, недоставленные уведомления только логируются.
func NewNotifier(d Deliverer, outbox OutboxStore, logger *zap.Logger) *Notifier {
	return &Notifier{
		deliverer: d,
		outbox:    outbox,
		logger:    logger,
		now:       time.Now,
	}
}

// Notify доставляет уведомление или ставит его в outbox. Ошибка возвращается только тогда,
// когда уведомление потеряно: не доставлено и не сохранено.
func (n *Notifier) Notify(ctx context.Context, p Payload) error {
	ack, err := n.deliverer.Deliver(ctx, p)
	if err == nil {
		n.logger.Debug("notification delivered",
			zap.String("kind", string(p.Kind)),
			zap.Int64("message_id", ack.MessageID),
			zap.Int("attempts", len(ack.Attempts)),
		)
		return nil
	}

	var derr *DeliveryError
	if !errors.As(err, &derr) || !derr.Retryable() {
		n.logger.Error("notification dropped", zap.String("kind", string(p.Kind)), zap.Error(err))
		return err
	}

	if n.outbox == nil {
		n.logger.Error("notification lost, outbox disabled", zap.String("kind", string(p.Kind)), zap.Error(err))
		return err
	}

	data, mErr := p.Marshal()
	if mErr != nil {
		n.logger.Error("notification lost, encode failed", zap.String("kind", string(p.Kind)), zap.Error(mErr))
		return fmt.Errorf("encode payload: %w", mErr)
	}

	delay := defaultRedeliveryDelay
	if derr.RetryAfter > delay {
		delay = derr.RetryAfter
	}

	// Attempts считает HTTP-попытки, а не проходы relay: попытки первого Deliver уже сделаны.
	now := n.now()
	entry := model.OutboxEntry{
		ID:            uuid.NewString(),
		Kind:          string(p.Kind),
		Payload:       data,
		Status:        model.OutboxPending,
		Attempts:      attemptsMade(derr),
		LastError:     derr.Error(),
		NextAttemptAt: now.Add(delay),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// Outbox пишем с тем же отвязанным контекстом, что и доставку: отмена запроса не должна терять уведомление.
	if qErr := n.outbox.EnqueueNotification(context.WithoutCancel(ctx), entry); qErr != nil {
		n.logger.Error("notification lost, enqueue failed",
			zap.String("kind", string(p.Kind)),
			zap.NamedError("delivery_error", err),
			zap.Error(qErr),
		)
		return fmt.Errorf("enqueue notification: %w", qErr)
	}

	n.logger.Warn("notification queued for redelivery",
		zap.String("id", entry.ID),
		zap.String("kind", string(p.Kind)),
		zap.String("code", string(derr.Code)),
		zap.Time("next_attempt_at", entry.NextAttemptAt),
	)
	return nil
}

// attemptsMade возвращает число HTTP-попыток, сделанных одним вызовом Deliver.
func attemptsMade(derr *DeliveryError) int {
	if derr == nil || len(derr.Attempts) == 0 {
		return 1
	}
	return len(derr.Attempts)
}

// RelayConfig задаёт параметры фоновой повторной доставки.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts ограничивает общее число HTTP-попыток по записи, включая попытки до постановки в outbox.
	MaxAttempts int
	BaseBackoff  time.Duration
	Lease        time.Duration
}

// Relay повторно доставляет уведомления из outbox.
type Relay struct {
	store     OutboxStore
	deliverer Deliverer
	cfg       RelayConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewRelay создаёт Relay с параметрами по умолчанию для незаданных полей.
func NewRelay(store OutboxStore, d Deliverer, cfg RelayConfig, logger *zap.Logger) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	return &Relay{store: store, deliverer: d, cfg: cfg, logger: logger, now: time.Now}
}

// Run обрабатывает outbox до отмены контекста.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch выполняет один проход по созревшим записям и возвращает число доставленных.
func (r *Relay) ProcessBatch(ctx context.Context) int {
	now := r.now()
	entries, err := r.store.ClaimDueNotifications(ctx, now, r.cfg.Lease, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("claim outbox entries", zap.Error(err))
		return 0
	}

	delivered := 0
	for _, e := range entries {
		p, err := UnmarshalPayload(e.Payload)
		if err != nil {
			r.markDead(ctx, e, e.Attempts+1, err.Error())
			continue
		}

		ack, err := r.deliverer.Deliver(ctx, p)
		if err == nil {
			if err := r.store.MarkNotificationSent(ctx, e.ID, e.Attempts+max(len(ack.Attempts), 1)); err != nil {
				r.logger.Error("mark outbox entry sent", zap.String("id", e.ID), zap.Error(err))
			}
			delivered++
			continue
		}

		var derr *DeliveryError
		isDelivery := errors.As(err, &derr)
		attempts := e.Attempts + attemptsMade(derr)
		if !isDelivery || !derr.Retryable() || attempts >= r.cfg.MaxAttempts {
			r.markDead(ctx, e, attempts, err.Error())
			continue
		}

		next := now.Add(r.backoff(attempts))
		if derr.RetryAfter > 0 && now.Add(derr.RetryAfter).After(next) {
			next = now.Add(derr.RetryAfter)
		}
		if err := r.store.RescheduleNotification(ctx, e.ID, attempts, next, err.Error()); err != nil {
			r.logger.Error("reschedule outbox entry", zap.String("id", e.ID), zap.Error(err))
		}

		// Мессенджер ограничил темп: остаток пачки подождёт следующего прохода.
		if derr.Code == CodeRateLimited {
			break
		}
	}

	return delivered
}

func (r *Relay) backoff(attempts int) time.Duration {
	shift := attempts - 1
	if shift > 10 {
		shift = 10
	}
	return r.cfg.BaseBackoff * time.Duration(1<<uint(shift))
}

func (r *Relay) markDead(ctx context.Context, e model.OutboxEntry, attempts int, reason string) {
	r.logger.Error("notification moved to dead letters",
		zap.String("id", e.ID),
		zap.String("kind", e.Kind),
		zap.Int("attempts", attempts),
		zap.String("last_error", reason),
	)
	if err := r.store.MarkNotificationDead(ctx, e.ID, attempts, reason); err != nil {
		r.logger.Error("mark outbox entry dead", zap.String("id", e.ID), zap.Error(err))
	}
}
