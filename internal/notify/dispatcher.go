// Package notify доставляет уведомления модерации во внешний мессенджер.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL        = "https://api.telegram.org"
	defaultMaxAttempts    = 2
	defaultAttemptTimeout = 8 * time.Second

	maxResponseSize = 64 * 1024
)

// Config содержит реквизиты и политику доставки.
type Config struct {
	BaseURL  string
	Token    string
	ChatID   string
	ThreadID int64

	// MaxAttempts — общее число попыток на один вызов Deliver.
	MaxAttempts int
	// BaseDelay — шаг линейной задержки: перед попыткой n+1 ждём n*BaseDelay. Ноль — без паузы.
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
	// RatePerSecond ограничивает темп исходящих запросов. Ноль отключает ограничение.
	RatePerSecond float64
}

// Dispatcher отправляет уведомления в Bot API мессенджера.
type Dispatcher struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.httpClient = c
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher создаёт диспетчер, подставляя значения по умолчанию для незаданных параметров.
func NewDispatcher(cfg Config, opts ...Option) *Dispatcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	d := &Dispatcher{
		cfg:        cfg,
		httpClient: cleanhttp.DefaultPooledClient(),
		limiter:    rate.NewLimiter(limit, 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Ack подтверждает успешную доставку.
type Ack struct {
	MessageID int64
	Attempts  []DeliveryAttempt
}

type sendMessageRequest struct {
	ChatID          string `json:"chat_id"`
	Text            string `json:"text"`
	ParseMode       string `json:"parse_mode"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Deliver форматирует и отправляет уведомление.
//
// Попытка, начатая до отмены запроса клиента, доводится до конца: диспетчер отвязывается от
// отмены входящего контекста и ограничивает каждую попытку собственным таймаутом.
func (d *Dispatcher) Deliver(ctx context.Context, p Payload) (Ack, error) {
	if d.cfg.Token == "" || d.cfg.ChatID == "" {
		return Ack{}, &DeliveryError{Code: CodeConfig, Message: "bot token and chat id are required"}
	}

	text, err := Render(p)
	if err != nil {
		return Ack{}, &DeliveryError{Code: CodeRender, Message: err.Error()}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:          d.cfg.ChatID,
		Text:            text,
		ParseMode:       "MarkdownV2",
		MessageThreadID: d.cfg.ThreadID,
	})
	if err != nil {
		return Ack{}, &DeliveryError{Code: CodeRender, Message: fmt.Sprintf("encode request: %v", err)}
	}

	ctx = context.WithoutCancel(ctx)

	var (
		attempts  []DeliveryAttempt
		last      *DeliveryError
		messageID int64
	)

	backoff := retry.WithMaxRetries(uint64(d.cfg.MaxAttempts-1), linearBackoff(d.cfg.BaseDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		n := len(attempts) + 1

		id, derr := d.send(ctx, body)
		if derr == nil {
			attempts = append(attempts, DeliveryAttempt{Number: n, Outcome: OutcomeSuccess})
			messageID = id
			return nil
		}

		last = derr
		if derr.Code == CodeRateLimited {
			attempts = append(attempts, DeliveryAttempt{Number: n, Outcome: OutcomeFatalError, ErrorCode: derr.Code, Message: derr.Message})
			return derr
		}

		attempts = append(attempts, DeliveryAttempt{Number: n, Outcome: OutcomeRetryableError, ErrorCode: derr.Code, Message: derr.Message})
		d.logger.Warn("notification attempt failed",
			zap.String("kind", string(p.Kind)),
			zap.Int("attempt", n),
			zap.String("code", string(derr.Code)),
			zap.String("message", derr.Message),
		)
		return retry.RetryableError(derr)
	})

	if err == nil {
		return Ack{MessageID: messageID, Attempts: attempts}, nil
	}

	if last == nil {
		last = &DeliveryError{Code: CodeTransport, Message: err.Error()}
	}
	last.Attempts = attempts
	return Ack{}, last
}

func (d *Dispatcher) send(ctx context.Context, body []byte) (int64, *DeliveryError) {
	if err := d.limiter.Wait(ctx); err != nil {
		return 0, &DeliveryError{Code: CodeTransport, Message: fmt.Sprintf("rate limiter: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(), bytes.NewReader(body))
	if err != nil {
		return 0, &DeliveryError{Code: CodeTransport, Message: fmt.Sprintf("create request: %v", redact(err))}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, &DeliveryError{Code: CodeTransport, Message: fmt.Sprintf("do request: %v", redact(err))}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, &DeliveryError{Code: CodeTransport, StatusCode: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var result apiResponse
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode == http.StatusTooManyRequests {
		return 0, &DeliveryError{
			Code:       CodeRateLimited,
			StatusCode: resp.StatusCode,
			Message:    describe(result, raw),
			RetryAfter: retryAfter(resp, result),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &DeliveryError{Code: CodeHTTP, StatusCode: resp.StatusCode, Message: describe(result, raw)}
	}

	if decodeErr != nil {
		d.logger.Debug("unexpected notification response body", zap.Error(decodeErr))
	}
	return result.Result.MessageID, nil
}

func (d *Dispatcher) endpoint() string {
	base := strings.TrimRight(d.cfg.BaseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base + "/bot" + d.cfg.Token + "/sendMessage"
}

func linearBackoff(base time.Duration) retry.Backoff {
	var attempt int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	})
}

func describe(r apiResponse, raw []byte) string {
	if r.Description != "" {
		return r.Description
	}
	return strings.TrimSpace(string(raw))
}

func retryAfter(resp *http.Response, r apiResponse) time.Duration {
	if r.Parameters.RetryAfter > 0 {
		return time.Duration(r.Parameters.RetryAfter) * time.Second
	}
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// redact убирает URL с токеном бота из сетевых ошибок.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Err
	}
	return err
}
