// Package service реализует сценарии витрины: вход с переносом корзины, заявки мастеров,
// объявления продавцов и очереди модерации.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/cache"
	"github.com/mmeshcher/storefront-core/internal/cart"
	"github.com/mmeshcher/storefront-core/internal/commerce"
	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/notify"
	"github.com/mmeshcher/storefront-core/internal/repository"
	"github.com/mmeshcher/storefront-core/internal/workflow"
)

// ErrInvalidCredentials возвращается при неудачной аутентификации в бэкенде.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	WorkerExists(ctx context.Context, email string) (bool, error)
	CreateWorker(ctx context.Context, w model.Worker) error
	ListWorkers(ctx context.Context, status model.WorkflowStatus) ([]model.Worker, error)
	CreateListing(ctx context.Context, l model.Listing) error
	ListListings(ctx context.Context, status model.WorkflowStatus) ([]model.Listing, error)
	ListDeadNotifications(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	RequeueNotification(ctx context.Context, id string, now time.Time) (model.OutboxEntry, error)
}

// Commerce — операции коммерческого бэкенда, которые вызывает сервис напрямую.
type Commerce interface {
	Authenticate(ctx context.Context, email, password string, region model.Region) (model.Account, error)
	RegisterWorker(ctx context.Context, w commerce.WorkerAccount) (string, error)
}

// Merger переносит гостевую корзину в корзину аккаунта.
type Merger interface {
	MergeOnLogin(ctx context.Context, req cart.MergeRequest) (cart.Outcome, error)
}

// Tracker выполняет переходы статусов модерации.
type Tracker interface {
	Transition(ctx context.Context, kind model.SubjectKind, id string, target model.WorkflowStatus) (workflow.Ack, error)
	RetryActivation(ctx context.Context, workerID string) (workflow.Ack, error)
	ListInconsistent(ctx context.Context) ([]model.Worker, error)
}

// Notifier доставляет уведомления модераторам.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) error
}

// ListCache кэширует списки модерации и витрины. Set отказывает с cache.ErrStale,
// если тег инвалидирован после чтения поколения.
type ListCache interface {
	Get(ctx context.Context, tag, variant string, dst any) (bool, error)
	Generation(ctx context.Context, tag string) (int64, error)
	Set(ctx context.Context, tag, variant string, gen int64, v any) error
}

// Deps собирает зависимости сервиса.
type Deps struct {
	Repo     Repository
	Commerce Commerce
	Merger   Merger
	Tracker  Tracker
	Notifier Notifier
	Cache    ListCache
	Logger   *zap.Logger
}

// Service содержит сценарии витрины.
type Service struct {
	repo     Repository
	commerce Commerce
	merger   Merger
	tracker  Tracker
	notifier Notifier
	cache    ListCache
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт сервис. Cache может быть nil, тогда списки читаются из БД.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     d.Repo,
		commerce: d.Commerce,
		merger:   d.Merger,
		tracker:  d.Tracker,
		notifier: d.Notifier,
		cache:    d.Cache,
		logger:   logger,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// LoginInput — данные входа покупателя.
type LoginInput struct {
	Email       string
	Password    string
	GuestCartID string
	Region      model.Region
}

// LoginResult — итог входа: аккаунт и корзина, которую сессия должна считать текущей.
type LoginResult struct {
	Account model.Account
	Merge   cart.Outcome
	CartID  string
}

// Login аутентифицирует покупателя и переносит гостевую корзину.
// Сбой переноса не влияет на результат входа, текущей остаётся гостевая корзина.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	acc, err := s.commerce.Authenticate(ctx, in.Email, in.Password, in.Region)
	if err != nil {
		if errors.Is(err, commerce.ErrUnauthorized) {
			return LoginResult{}, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		return LoginResult{}, fmt.Errorf("authenticate: %w", err)
	}

	outcome, err := s.merger.MergeOnLogin(ctx, cart.MergeRequest{
		Account:     acc,
		GuestCartID: in.GuestCartID,
		Region:      in.Region,
	})
	if err != nil {
		s.logger.Warn("login completed without cart merge", zap.String("email", acc.Email), zap.Error(err))
	}

	cartID := outcome.CartID
	if outcome.Result == cart.Failed && in.GuestCartID != "" {
		cartID = in.GuestCartID
	}
	if cartID == "" {
		cartID = acc.CurrentCartID()
	}
	if cartID == "" {
		cartID = in.GuestCartID
	}

	return LoginResult{Account: acc, Merge: outcome, CartID: cartID}, nil
}

// WorkerApplication — заявка мастера.
type WorkerApplication struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Role      string
	Password  string
	Region    model.Region
}

// ApplyWorker регистрирует неактивную учётную запись мастера, сохраняет заявку
// в статусе pending и уведомляет модераторов.
func (s *Service) ApplyWorker(ctx context.Context, in WorkerApplication) (model.Worker, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	// Учётная запись в бэкенде заводится до вставки заявки, поэтому дубль отсекается заранее.
	exists, err := s.repo.WorkerExists(ctx, email)
	if err != nil {
		return model.Worker{}, err
	}
	if exists {
		return model.Worker{}, fmt.Errorf("%w: %s", repository.ErrWorkerExists, email)
	}

	accountID, err := s.commerce.RegisterWorker(ctx, commerce.WorkerAccount{
		Email:     email,
		Password:  in.Password,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Role:      in.Role,
		Channel:   in.Region.Channel(),
	})
	if errors.Is(err, commerce.ErrAlreadyExists) {
		return model.Worker{}, fmt.Errorf("%w: %s", repository.ErrWorkerExists, email)
	}
	if err != nil {
		return model.Worker{}, fmt.Errorf("register worker account: %w", err)
	}

	now := s.now().UTC()
	w := model.Worker{
		ID:        uuid.NewString(),
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     email,
		Phone:     in.Phone,
		Role:      in.Role,
		AccountID: accountID,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateWorker(ctx, w); err != nil {
		s.logger.Error("worker account registered but application not saved",
			zap.String("account_id", accountID), zap.Error(err))
		return model.Worker{}, err
	}

	s.notify(ctx, notify.NewWorkerApplication(notify.WorkerApplication{
		FirstName:      w.FirstName,
		LastName:       w.LastName,
		Email:          w.Email,
		Phone:          w.Phone,
		Role:           w.Role,
		PasswordLength: len([]rune(in.Password)),
	}, now))

	return w, nil
}

// ListingInput — объявление продавца.
type ListingInput struct {
	Title       string
	Category    string
	Price       decimal.Decimal
	Description string
	Contact     string
	PhotoURL    string
}

// SubmitListing сохраняет объявление в статусе pending и уведомляет модераторов.
func (s *Service) SubmitListing(ctx context.Context, in ListingInput) (model.Listing, error) {
	now := s.now().UTC()
	l := model.Listing{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Category:    in.Category,
		Price:       in.Price,
		Description: in.Description,
		Contact:     in.Contact,
		PhotoURL:    in.PhotoURL,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateListing(ctx, l); err != nil {
		return model.Listing{}, err
	}

	s.notify(ctx, notify.NewSellerListing(notify.SellerListing{
		Title:       l.Title,
		Category:    l.Category,
		Price:       l.Price,
		Description: l.Description,
		Contact:     l.Contact,
		PhotoURL:    l.PhotoURL,
	}, now))

	return l, nil
}

func (s *Service) notify(ctx context.Context, p notify.Payload) {
	if err := s.notifier.Notify(ctx, p); err != nil {
		s.logger.Warn("moderation notification lost", zap.String("kind", string(p.Kind)), zap.Error(err))
	}
}

// ListWorkers возвращает заявки мастеров в статусе, используя кэш.
func (s *Service) ListWorkers(ctx context.Context, status model.WorkflowStatus) ([]model.Worker, error) {
	return cachedList(ctx, s, model.SubjectWorker, status, s.repo.ListWorkers)
}

// ListListings возвращает объявления в статусе, используя кэш.
func (s *Service) ListListings(ctx context.Context, status model.WorkflowStatus) ([]model.Listing, error) {
	return cachedList(ctx, s, model.SubjectListing, status, s.repo.ListListings)
}

// cachedList читает список из кэша, а при промахе из БД. Сбой кэша не мешает чтению.
func cachedList[T any](ctx context.Context, s *Service, kind model.SubjectKind, status model.WorkflowStatus,
	load func(context.Context, model.WorkflowStatus) ([]T, error)) ([]T, error) {
	tag := cache.TagFor(kind)
	variant := string(status)
	if variant == "" {
		variant = "all"
	}

	cacheable := s.cache != nil
	var gen int64
	if cacheable {
		var cached []T
		ok, err := s.cache.Get(ctx, tag, variant, &cached)
		if err != nil {
			s.logger.Warn("list cache read failed", zap.String("tag", tag), zap.Error(err))
		}
		if ok {
			return cached, nil
		}

		// поколение читается до БД, чтобы не закэшировать список, снятый до перехода
		if gen, err = s.cache.Generation(ctx, tag); err != nil {
			s.logger.Warn("list cache generation read failed", zap.String("tag", tag), zap.Error(err))
			cacheable = false
		}
	}

	items, err := load(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	if items == nil {
		items = []T{}
	}

	if cacheable {
		err := s.cache.Set(ctx, tag, variant, gen, items)
		switch {
		case errors.Is(err, cache.ErrStale):
			s.logger.Debug("list changed while loading, not cached", zap.String("tag", tag))
		case err != nil:
			s.logger.Warn("list cache write failed", zap.String("tag", tag), zap.Error(err))
		}
	}
	return items, nil
}

// Transition меняет статус объекта модерации.
func (s *Service) Transition(ctx context.Context, kind model.SubjectKind, id string, target model.WorkflowStatus) (workflow.Ack, error) {
	return s.tracker.Transition(ctx, kind, id, target)
}

// RetryActivation повторяет активацию мастера.
func (s *Service) RetryActivation(ctx context.Context, workerID string) (workflow.Ack, error) {
	return s.tracker.RetryActivation(ctx, workerID)
}

// ListInconsistentWorkers возвращает одобренных, но не активированных мастеров.
func (s *Service) ListInconsistentWorkers(ctx context.Context) ([]model.Worker, error) {
	return s.tracker.ListInconsistent(ctx)
}

const deadNotificationsLimit = 100

// ListDeadNotifications возвращает уведомления, исчерпавшие попытки доставки.
func (s *Service) ListDeadNotifications(ctx context.Context) ([]model.OutboxEntry, error) {
	return s.repo.ListDeadNotifications(ctx, deadNotificationsLimit)
}

// RetryNotification возвращает уведомление из dead letters в очередь доставки.
func (s *Service) RetryNotification(ctx context.Context, id string) (model.OutboxEntry, error) {
	e, err := s.repo.RequeueNotification(ctx, id, s.now())
	if err != nil {
		return model.OutboxEntry{}, err
	}
	s.logger.Info("dead notification requeued", zap.String("id", id), zap.String("kind", e.Kind))
	return e, nil
}
