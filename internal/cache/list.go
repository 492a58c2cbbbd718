// Package cache хранит в Redis списки для модерации и витрины,
// инвалидирует их по тегу и защищает слияние корзин от повторного запуска.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// ErrStale возвращается из Set, если тег был инвалидирован после чтения поколения.
var ErrStale = errors.New("cached list is stale")

const (
	defaultPrefix  = "storefront:"
	defaultTTL     = 5 * time.Minute
	defaultChannel = "storefront:invalidations"
)

// Invalidation — сообщение об инвалидации, публикуемое в канал Pub/Sub.
type Invalidation struct {
	Tag string    `json:"tag"`
	At  time.Time `json:"at"`
}

// TagFor возвращает тег кэша для списков объектов модерации данного вида.
func TagFor(kind model.SubjectKind) string {
	return string(kind)
}

// ListCache кэширует сериализованные списки. Каждый ключ входит в множество своего тега,
// поэтому инвалидация тега удаляет все его варианты за один проход.
// У тега есть счётчик поколений: Invalidate увеличивает его, а Set записывает список,
// только если поколение не изменилось с момента, когда читатель пошёл в БД.
type ListCache struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

// ListCacheOption настраивает ListCache.
type ListCacheOption func(*ListCache)

// WithTTL задаёт время жизни записей.
func WithTTL(ttl time.Duration) ListCacheOption {
	return func(c *ListCache) {
		c.ttl = ttl
	}
}

// WithChannel задаёт канал Pub/Sub для сообщений об инвалидации.
func WithChannel(channel string) ListCacheOption {
	return func(c *ListCache) {
		c.channel = channel
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) ListCacheOption {
	return func(c *ListCache) {
		c.logger = l
	}
}

// NewListCache создаёт кэш поверх существующего клиента. Клиентом владеет вызывающий.
func NewListCache(client *redis.Client, opts ...ListCacheOption) *ListCache {
	c := &ListCache{
		client:  client,
		prefix:  defaultPrefix,
		ttl:     defaultTTL,
		channel: defaultChannel,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ListCache) key(tag, variant string) string {
	return c.prefix + "list:" + tag + ":" + variant
}

func (c *ListCache) tagKey(tag string) string {
	return c.prefix + "tag:" + tag
}

func (c *ListCache) genKey(tag string) string {
	return c.prefix + "gen:" + tag
}

// Generation возвращает текущее поколение тега. Его нужно прочитать до загрузки списка из БД
// и передать в Set.
func (c *ListCache) Generation(ctx context.Context, tag string) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey(tag)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get tag generation: %w", err)
	}
	return gen, nil
}

// Get читает список в dst. Возвращает false, если записи нет.
func (c *ListCache) Get(ctx context.Context, tag, variant string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, c.key(tag, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get cached list: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached list: %w", err)
	}
	return true, nil
}

// Set сохраняет список и регистрирует ключ в множестве тега, если поколение тега всё ещё gen.
// Иначе список устарел и не записывается: возвращается ErrStale.
func (c *ListCache) Set(ctx context.Context, tag, variant string, gen int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode list: %w", err)
	}

	key := c.key(tag, variant)
	tagKey := c.tagKey(tag)
	genKey := c.genKey(tag)

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return ErrStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			pipe.SAdd(ctx, tagKey, key)
			pipe.Expire(ctx, tagKey, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("cache list: %w", err)
	}
}

// Invalidate сдвигает поколение тега, удаляет все его записи и публикует сообщение об инвалидации.
func (c *ListCache) Invalidate(ctx context.Context, tag string) error {
	tagKey := c.tagKey(tag)

	if err := c.client.Incr(ctx, c.genKey(tag)).Err(); err != nil {
		return fmt.Errorf("bump tag generation: %w", err)
	}

	keys, err := c.client.SMembers(ctx, tagKey).Result()
	if err != nil {
		return fmt.Errorf("list tag members: %w", err)
	}
	if err := c.client.Del(ctx, append(keys, tagKey)...).Err(); err != nil {
		return fmt.Errorf("delete tagged keys: %w", err)
	}

	data, err := json.Marshal(Invalidation{Tag: tag, At: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	c.logger.Debug("cache tag invalidated", zap.String("tag", tag), zap.Int("keys", len(keys)))
	return nil
}

// Subscribe вызывает fn для каждого сообщения об инвалидации до отмены контекста.
func (c *ListCache) Subscribe(ctx context.Context, fn func(Invalidation)) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv Invalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				c.logger.Warn("malformed invalidation message", zap.String("payload", msg.Payload), zap.Error(err))
				continue
			}
			fn(inv)
		}
	}
}
