// Package cart сводит гостевую корзину с корзиной аккаунта при входе покупателя.
package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/storefront-core/internal/commerce"
	"github.com/mmeshcher/storefront-core/internal/model"
)

// Backend — операции коммерческого бэкенда, нужные для слияния.
type Backend interface {
	GetCart(ctx context.Context, id string, region model.Region) (model.Cart, error)
	AddLines(ctx context.Context, cartID string, lines []model.CartLine, region model.Region) (model.Cart, error)
	AttachCustomer(ctx context.Context, cartID, accessToken string) (model.Cart, error)
}

// Guard ограничивает слияние одним запуском на пару аккаунт/гостевая корзина.
// Release снимает захват, чтобы неудачное слияние можно было повторить при следующем входе.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Result — итог слияния.
type Result string

const (
	NothingToMerge Result = "nothing_to_merge"
	Attached       Result = "attached"
	Merged         Result = "merged"
	AlreadyMerged  Result = "already_merged"
	Skipped        Result = "skipped"
	Failed         Result = "failed"
)

// Outcome описывает результат и корзину, которую сессия должна считать текущей.
type Outcome struct {
	Result     Result
	CartID     string
	AddedLines int
}

// MergeRequest — входные данные слияния.
type MergeRequest struct {
	Account     model.Account
	GuestCartID string
	Region      model.Region
}

const defaultGuardTTL = 10 * time.Minute

// Coordinator выполняет слияние корзин. Состояния между запросами не хранит.
type Coordinator struct {
	backend  Backend
	guard    Guard
	guardTTL time.Duration
	logger   *zap.Logger
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithGuard включает защиту от повторного слияния.
func WithGuard(g Guard, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.guard = g
		if ttl > 0 {
			c.guardTTL = ttl
		}
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// NewCoordinator создаёт Coordinator.
func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend:  backend,
		guardTTL: defaultGuardTTL,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MergeOnLogin переносит в корзину аккаунта варианты гостевой корзины, которых там ещё нет.
// Существующие строки аккаунта не меняются, гостевая корзина не удаляется.
// Ошибка сопровождается результатом Failed и не должна прерывать вход. При Failed текущей
// остаётся гостевая корзина, а захват guard снимается.
func (c *Coordinator) MergeOnLogin(ctx context.Context, req MergeRequest) (Outcome, error) {
	accountCartID := req.Account.CurrentCartID()

	if req.GuestCartID == "" {
		return Outcome{Result: NothingToMerge, CartID: accountCartID}, nil
	}
	if req.GuestCartID == accountCartID {
		return Outcome{Result: AlreadyMerged, CartID: accountCartID}, nil
	}

	log := c.logger.With(
		zap.String("email", req.Account.Email),
		zap.String("guest_cart", req.GuestCartID),
		zap.String("account_cart", accountCartID),
	)

	key := guardKey(req.Account.Email, req.GuestCartID)
	var held bool
	if c.guard != nil {
		ok, err := c.guard.Acquire(ctx, key, c.guardTTL)
		switch {
		case err != nil:
			log.Warn("merge guard unavailable, merging without it", zap.Error(err))
		case !ok:
			log.Debug("merge already ran for this login")
			cartID := accountCartID
			if cartID == "" {
				cartID = req.GuestCartID
			}
			return Outcome{Result: Skipped, CartID: cartID}, nil
		default:
			held = true
		}
	}

	fail := func(err error) (Outcome, error) {
		log.Error("cart merge failed", zap.Error(err))
		if held {
			c.release(ctx, log, key)
		}
		return Outcome{Result: Failed, CartID: req.GuestCartID}, err
	}

	if accountCartID == "" {
		attached, err := c.backend.AttachCustomer(ctx, req.GuestCartID, req.Account.AccessToken)
		if err != nil {
			return fail(fmt.Errorf("attach customer: %w", err))
		}
		log.Info("guest cart attached to account")
		return Outcome{Result: Attached, CartID: attached.ID}, nil
	}

	var (
		guest, account model.Cart
		guestGone      bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		guest, err = c.backend.GetCart(gctx, req.GuestCartID, req.Region)
		if errors.Is(err, commerce.ErrNotFound) {
			guestGone = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("get guest cart: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if account, err = c.backend.GetCart(gctx, accountCartID, req.Region); err != nil {
			return fmt.Errorf("get account cart: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if guestGone {
		log.Debug("guest cart no longer exists")
		return Outcome{Result: NothingToMerge, CartID: accountCartID}, nil
	}

	lines := NewLines(account.Lines, guest.Lines)
	if len(lines) == 0 {
		return Outcome{Result: AlreadyMerged, CartID: accountCartID}, nil
	}

	merged, err := c.backend.AddLines(ctx, accountCartID, lines, req.Region)
	if err != nil {
		return fail(fmt.Errorf("add lines: %w", err))
	}

	cartID := merged.ID
	if cartID == "" {
		cartID = accountCartID
	}
	log.Info("guest cart merged", zap.Int("added_lines", len(lines)))
	return Outcome{Result: Merged, CartID: cartID, AddedLines: len(lines)}, nil
}

// release снимает захват и после отмены запроса: иначе повтор входа получит Skipped до истечения ttl.
func (c *Coordinator) release(ctx context.Context, log *zap.Logger, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := c.guard.Release(ctx, key); err != nil {
		log.Warn("merge guard not released", zap.Error(err))
	}
}

func guardKey(email, guestCartID string) string {
	return email + ":" + guestCartID
}

// NewLines возвращает строки гостевой корзины с вариантами, которых нет в корзине аккаунта.
// Повторы варианта в гостевой корзине схлопываются в первую строку, строки с
// неположительным количеством отбрасываются.
func NewLines(account, guest []model.CartLine) []model.CartLine {
	seen := make(map[string]struct{}, len(account)+len(guest))
	for _, l := range account {
		seen[l.VariantID] = struct{}{}
	}

	var out []model.CartLine
	for _, l := range guest {
		if l.VariantID == "" || l.Quantity <= 0 {
			continue
		}
		if _, ok := seen[l.VariantID]; ok {
			continue
		}
		seen[l.VariantID] = struct{}{}
		out = append(out, l)
	}
	return out
}
