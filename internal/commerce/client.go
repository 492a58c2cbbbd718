// Package commerce предоставляет клиент GraphQL API коммерческого бэкенда.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const maxResponseSize = 4 * 1024 * 1024

var (
	// ErrNotFound возвращается, когда запрошенный объект отсутствует в бэкенде.
	ErrNotFound = errors.New("commerce object not found")
	// ErrUnauthorized возвращается при неверных учётных данных или токене.
	ErrUnauthorized = errors.New("commerce request unauthorized")
	// ErrAlreadyExists возвращается, когда объект с такими данными уже заведён в бэкенде.
	ErrAlreadyExists = errors.New("commerce object already exists")
)

// OperationError описывает ошибки GraphQL или ошибки мутации бэкенда.
type OperationError struct {
	Operation string
	Messages  []string
	Codes     []string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, strings.Join(e.Messages, "; "))
}

// Client выполняет запросы к бэкенду. Чтения повторяются автоматически,
// мутации отправляются ровно один раз: повтор checkoutLinesAdd удвоил бы количество.
type Client struct {
	endpoint  string
	appToken  string
	queries   *retryablehttp.Client
	mutations *http.Client
	logger    *zap.Logger
}

// Option настраивает Client.
type Option func(*Client)

// WithAppToken задаёт сервисный токен для административных мутаций.
func WithAppToken(token string) Option {
	return func(c *Client) {
		c.appToken = token
	}
}

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithHTTPClient подменяет транспорт для чтений и мутаций.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.queries.HTTPClient = hc
		c.mutations = hc
	}
}

// NewClient создаёт клиент для GraphQL-эндпоинта.
func NewClient(endpoint string, opts ...Option) *Client {
	queries := retryablehttp.NewClient()
	queries.RetryMax = 2
	queries.RetryWaitMin = 200 * time.Millisecond
	queries.RetryWaitMax = 2 * time.Second
	queries.HTTPClient.Timeout = 10 * time.Second

	mutations := cleanhttp.DefaultPooledClient()
	mutations.Timeout = 15 * time.Second

	c := &Client{
		endpoint:  endpoint,
		queries:   queries,
		mutations: mutations,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queries.Logger = leveledLogger{c.logger.Sugar()}

	return c
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Exception struct {
			Code string `json:"code"`
		} `json:"exception"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// mutationError — элемент поля errors в ответе мутации.
type mutationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func checkMutation(op string, errs []mutationError) error {
	if len(errs) == 0 {
		return nil
	}
	e := &OperationError{Operation: op}
	for _, m := range errs {
		msg := m.Message
		if m.Field != "" {
			msg = m.Field + ": " + msg
		}
		e.Messages = append(e.Messages, msg)
		e.Codes = append(e.Codes, m.Code)
	}
	for _, code := range e.Codes {
		switch code {
		case "NOT_FOUND":
			return fmt.Errorf("%w: %w", ErrNotFound, e)
		case "INVALID_CREDENTIALS", "INACTIVE":
			return fmt.Errorf("%w: %w", ErrUnauthorized, e)
		case "UNIQUE":
			return fmt.Errorf("%w: %w", ErrAlreadyExists, e)
		}
	}
	return e
}

func (c *Client) query(ctx context.Context, op, query string, vars map[string]any, bearer string, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	setHeaders(req.Header, bearer)

	resp, err := c.queries.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", op, err)
	}
	defer resp.Body.Close()

	return decode(op, resp, out)
}

func (c *Client) mutate(ctx context.Context, op, query string, vars map[string]any, bearer string, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	setHeaders(req.Header, bearer)

	resp, err := c.mutations.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", op, err)
	}
	defer resp.Body.Close()

	return decode(op, resp, out)
}

func setHeaders(h http.Header, bearer string) {
	h.Set("Content-Type", "application/json")
	if bearer != "" {
		h.Set("Authorization", "Bearer "+bearer)
	}
}

func decode(op string, resp *http.Response, out any) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s: %w (status %d)", op, ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var gr graphQLResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}

	if len(gr.Errors) > 0 {
		e := &OperationError{Operation: op}
		for _, ge := range gr.Errors {
			e.Messages = append(e.Messages, ge.Message)
			e.Codes = append(e.Codes, ge.Extensions.Exception.Code)
		}
		for _, code := range e.Codes {
			if code == "PermissionDenied" || code == "ExpiredSignatureError" || code == "InvalidTokenError" {
				return fmt.Errorf("%w: %w", ErrUnauthorized, e)
			}
		}
		return e
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gr.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// leveledLogger адаптирует zap к интерфейсу retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
