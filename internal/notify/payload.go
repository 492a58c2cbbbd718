package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-core/internal/model"
)

// Kind — дискриминант варианта уведомления.
type Kind string

const (
	KindWorkerApplication Kind = "worker_application"
	KindSellerListing     Kind = "seller_listing"
	KindStatusChange      Kind = "status_change"
)

// WorkerApplication — заявка мастера на подключение.
type WorkerApplication struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Role           string `json:"role"`
	PasswordLength int    `json:"password_length"`
}

// SellerListing — новое объявление продавца.
type SellerListing struct {
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Contact     string          `json:"contact"`
	PhotoURL    string          `json:"photo_url,omitempty"`
}

// StatusChange — смена статуса объекта модерации.
type StatusChange struct {
	Subject model.SubjectKind    `json:"subject"`
	ID      string               `json:"id"`
	Title   string               `json:"title"`
	Status  model.WorkflowStatus `json:"status"`
	// ActivationPending выставляется, когда мастер одобрен, но аккаунт ещё не активирован.
	ActivationPending bool `json:"activation_pending,omitempty"`
}

// Payload — уведомление в виде суммы типов. Заполнено ровно одно поле варианта,
// соответствующее Kind. Значение не изменяется после создания.
type Payload struct {
	Kind              Kind               `json:"kind"`
	CreatedAt         time.Time          `json:"created_at"`
	WorkerApplication *WorkerApplication `json:"worker_application,omitempty"`
	SellerListing     *SellerListing     `json:"seller_listing,omitempty"`
	StatusChange      *StatusChange      `json:"status_change,omitempty"`
}

// NewWorkerApplication создаёт уведомление о заявке мастера, фиксируя время создания.
func NewWorkerApplication(a WorkerApplication, now time.Time) Payload {
	return Payload{Kind: KindWorkerApplication, CreatedAt: now, WorkerApplication: &a}
}

// NewSellerListing создаёт уведомление о новом объявлении.
func NewSellerListing(l SellerListing, now time.Time) Payload {
	return Payload{Kind: KindSellerListing, CreatedAt: now, SellerListing: &l}
}

// NewStatusChange создаёт уведомление о смене статуса.
func NewStatusChange(c StatusChange, now time.Time) Payload {
	return Payload{Kind: KindStatusChange, CreatedAt: now, StatusChange: &c}
}

// Validate проверяет согласованность дискриминанта и варианта.
func (p Payload) Validate() error {
	set := 0
	if p.WorkerApplication != nil {
		set++
	}
	if p.SellerListing != nil {
		set++
	}
	if p.StatusChange != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("payload %q must carry exactly one variant, got %d", p.Kind, set)
	}

	switch {
	case p.Kind == KindWorkerApplication && p.WorkerApplication != nil,
		p.Kind == KindSellerListing && p.SellerListing != nil,
		p.Kind == KindStatusChange && p.StatusChange != nil:
		return nil
	}
	return fmt.Errorf("payload kind %q does not match its variant", p.Kind)
}

// Marshal сериализует уведомление для хранения в outbox.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload восстанавливает уведомление из outbox.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
