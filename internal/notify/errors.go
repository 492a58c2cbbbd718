package notify

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode классифицирует ошибку доставки.
type ErrorCode string

const (
	// CodeConfig — не заданы реквизиты доставки. Повтор бессмысленен.
	CodeConfig ErrorCode = "config"
	// CodeRender — уведомление не удалось сформировать. Повтор бессмысленен.
	CodeRender ErrorCode = "render"
	// CodeRateLimited — мессенджер ответил 429. В рамках вызова не повторяется.
	CodeRateLimited ErrorCode = "rate_limited"
	// CodeTransport — таймаут или сетевая ошибка.
	CodeTransport ErrorCode = "transport"
	// CodeHTTP — ответ вне диапазона 2xx, кроме 429.
	CodeHTTP ErrorCode = "http_error"
)

var (
	// ErrNotConfigured сопоставляется с DeliveryError с кодом CodeConfig.
	ErrNotConfigured = errors.New("notification delivery is not configured")
	// ErrRateLimited сопоставляется с DeliveryError с кодом CodeRateLimited.
	ErrRateLimited = errors.New("notification endpoint rate limited")
)

// Outcome — результат одной попытки доставки.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeRetryableError Outcome = "retryable_error"
	OutcomeFatalError     Outcome = "fatal_error"
)

// DeliveryAttempt описывает одну попытку отправки. Существует только в рамках вызова Deliver.
type DeliveryAttempt struct {
	Number    int
	Outcome   Outcome
	ErrorCode ErrorCode
	Message   string
}

// DeliveryError — итоговая ошибка доставки с кодом и сообщением последней попытки.
type DeliveryError struct {
	Code       ErrorCode
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Attempts   []DeliveryAttempt
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notification delivery failed after %d attempt(s): %s (status %d): %s",
			len(e.Attempts), e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("notification delivery failed after %d attempt(s): %s: %s", len(e.Attempts), e.Code, e.Message)
}

// Is позволяет сравнивать ошибку с ErrNotConfigured и ErrRateLimited через errors.Is.
func (e *DeliveryError) Is(target error) bool {
	switch target {
	case ErrNotConfigured:
		return e.Code == CodeConfig
	case ErrRateLimited:
		return e.Code == CodeRateLimited
	}
	return false
}

// Retryable сообщает, имеет ли смысл повторить доставку позже, вне текущего вызова.
func (e *DeliveryError) Retryable() bool {
	switch e.Code {
	case CodeTransport, CodeHTTP, CodeRateLimited:
		return true
	}
	return false
}
