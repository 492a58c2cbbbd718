// Package workflow переводит объекты модерации между статусами и выполняет
// побочные эффекты перехода: активацию мастера, инвалидацию кэша и уведомление.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/cache"
	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/notify"
)

var (
	// ErrTransitionNotAllowed возвращается для статуса, недопустимого для данного вида объекта.
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
	// ErrUnknownSubject возвращается для неизвестного вида объекта модерации.
	ErrUnknownSubject = errors.New("unknown workflow subject")
	// ErrActivationFailed возвращается, когда ручной повтор активации не удался.
	ErrActivationFailed = errors.New("worker activation failed")
)

// SubjectStore — хранилище объектов модерации.
type SubjectStore interface {
	UpdateWorkerStatus(ctx context.Context, id string, status model.WorkflowStatus, activationPending bool) (model.Worker, error)
	UpdateListingStatus(ctx context.Context, id string, status model.WorkflowStatus) (model.Listing, error)
	SetActivationPending(ctx context.Context, id string, pending bool) error
	GetWorker(ctx context.Context, id string) (model.Worker, error)
	ListActivationPending(ctx context.Context) ([]model.Worker, error)
}

// Activator включает учётную запись мастера в коммерческом бэкенде.
type Activator interface {
	Activate(ctx context.Context, accountID string) error
}

// Invalidator сбрасывает закэшированные списки по тегу.
type Invalidator interface {
	Invalidate(ctx context.Context, tag string) error
}

// Notifier доставляет уведомление о переходе.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) error
}

// Ack подтверждает выполненный переход.
type Ack struct {
	Subject           model.SubjectKind    `json:"subject"`
	ID                string               `json:"id"`
	Status            model.WorkflowStatus `json:"status"`
	ActivationPending bool                 `json:"activation_pending"`
}

// Tracker выполняет переходы статусов. Проверку прав выполняет middleware до вызова.
type Tracker struct {
	store       SubjectStore
	activator   Activator
	invalidator Invalidator
	notifier    Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewTracker создаёт Tracker.
func NewTracker(store SubjectStore, activator Activator, invalidator Invalidator, notifier Notifier, logger *zap.Logger) *Tracker {
	return &Tracker{
		store:       store,
		activator:   activator,
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// Normalize приводит целевой статус к допустимому для вида объекта.
// Для объявлений approved означает published, сброс объявления в pending запрещён.
func Normalize(kind model.SubjectKind, target model.WorkflowStatus) (model.WorkflowStatus, error) {
	switch kind {
	case model.SubjectWorker:
		switch target {
		case model.StatusPending, model.StatusApproved, model.StatusRejected:
			return target, nil
		}
	case model.SubjectListing:
		switch target {
		case model.StatusApproved, model.StatusPublished:
			return model.StatusPublished, nil
		case model.StatusRejected:
			return target, nil
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSubject, kind)
	}
	return "", fmt.Errorf("%w: %s to %q", ErrTransitionNotAllowed, kind, target)
}

// Transition сохраняет новый статус и затем выполняет побочные эффекты.
// Сбой активации не отменяет перехода: мастер остаётся approved с флагом activation_pending.
func (t *Tracker) Transition(ctx context.Context, kind model.SubjectKind, id string, target model.WorkflowStatus) (Ack, error) {
	status, err := Normalize(kind, target)
	if err != nil {
		return Ack{}, err
	}

	var (
		ack   Ack
		title string
	)
	switch kind {
	case model.SubjectWorker:
		w, err := t.transitionWorker(ctx, id, status)
		if err != nil {
			return Ack{}, err
		}
		ack = Ack{Subject: kind, ID: w.ID, Status: w.Status, ActivationPending: w.ActivationPending}
		title = workerTitle(w)
	case model.SubjectListing:
		l, err := t.store.UpdateListingStatus(ctx, id, status)
		if err != nil {
			return Ack{}, fmt.Errorf("update listing %s status: %w", id, err)
		}
		ack = Ack{Subject: kind, ID: l.ID, Status: l.Status}
		title = l.Title
	}

	t.logger.Info("workflow status changed",
		zap.String("subject", string(kind)),
		zap.String("id", id),
		zap.String("status", string(ack.Status)),
		zap.Bool("activation_pending", ack.ActivationPending),
	)

	t.afterWrite(ctx, ack, title)
	return ack, nil
}

func (t *Tracker) transitionWorker(ctx context.Context, id string, status model.WorkflowStatus) (model.Worker, error) {
	approving := status == model.StatusApproved

	w, err := t.store.UpdateWorkerStatus(ctx, id, status, approving)
	if err != nil {
		return model.Worker{}, fmt.Errorf("update worker %s status: %w", id, err)
	}
	if !approving {
		return w, nil
	}

	if err := t.activate(ctx, w); err != nil {
		t.logger.Error("worker approved but not activated",
			zap.String("id", w.ID),
			zap.String("account_id", w.AccountID),
			zap.Error(err),
		)
		return w, nil
	}
	w.ActivationPending = false
	return w, nil
}

// activate включает учётную запись и снимает флаг. Ошибка оставляет флаг установленным.
func (t *Tracker) activate(ctx context.Context, w model.Worker) error {
	if w.AccountID == "" {
		return errors.New("worker has no commerce account")
	}
	if err := t.activator.Activate(ctx, w.AccountID); err != nil {
		return err
	}
	if err := t.store.SetActivationPending(ctx, w.ID, false); err != nil {
		return fmt.Errorf("clear activation flag: %w", err)
	}
	return nil
}

// afterWrite инвалидирует кэш ровно один раз и отправляет уведомление. Ошибки только логируются.
func (t *Tracker) afterWrite(ctx context.Context, ack Ack, title string) {
	tag := cache.TagFor(ack.Subject)
	if err := t.invalidator.Invalidate(ctx, tag); err != nil {
		t.logger.Error("cache invalidation failed", zap.String("tag", tag), zap.Error(err))
	}

	p := notify.NewStatusChange(notify.StatusChange{
		Subject:           ack.Subject,
		ID:                ack.ID,
		Title:             title,
		Status:            ack.Status,
		ActivationPending: ack.ActivationPending,
	}, t.now())
	if err := t.notifier.Notify(ctx, p); err != nil {
		t.logger.Warn("status change notification lost",
			zap.String("subject", string(ack.Subject)),
			zap.String("id", ack.ID),
			zap.Error(err),
		)
	}
}

// RetryActivation повторяет активацию одобренного, но не активированного мастера.
func (t *Tracker) RetryActivation(ctx context.Context, workerID string) (Ack, error) {
	w, err := t.store.GetWorker(ctx, workerID)
	if err != nil {
		return Ack{}, fmt.Errorf("get worker %s: %w", workerID, err)
	}
	if w.Status != model.StatusApproved {
		return Ack{}, fmt.Errorf("%w: worker %s is %s", ErrTransitionNotAllowed, workerID, w.Status)
	}

	ack := Ack{Subject: model.SubjectWorker, ID: w.ID, Status: w.Status}
	if !w.ActivationPending {
		return ack, nil
	}

	if err := t.activate(ctx, w); err != nil {
		t.logger.Error("manual worker activation failed", zap.String("id", w.ID), zap.Error(err))
		return Ack{}, fmt.Errorf("%w: %w", ErrActivationFailed, err)
	}

	t.logger.Info("worker activated on retry", zap.String("id", w.ID))
	t.afterWrite(ctx, ack, workerTitle(w))
	return ack, nil
}

// ListInconsistent возвращает одобренных мастеров, чья активация не завершена.
func (t *Tracker) ListInconsistent(ctx context.Context) ([]model.Worker, error) {
	workers, err := t.store.ListActivationPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list activation pending: %w", err)
	}
	return workers, nil
}

func workerTitle(w model.Worker) string {
	return strings.TrimSpace(w.FirstName + " " + w.LastName)
}
