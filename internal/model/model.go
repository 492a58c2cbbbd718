// Package model содержит доменные сущности витрины: регионы, корзины и объекты модерации.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market описывает коммерческий регион со своей валютой, страной и языком по умолчанию.
type Market struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Channel            string   `json:"channel"`
	Currency           string   `json:"currency"`
	CountryCode        string   `json:"country_code"`
	Continent          string   `json:"continent"`
	DefaultLanguage    string   `json:"default_language"`
	SupportedLanguages []string `json:"supported_languages"`
}

// Language описывает язык витрины, один к одному с локалью.
type Language struct {
	ID     string `json:"id"`
	Code   string `json:"code"`
	Locale string `json:"locale"`
	Name   string `json:"name"`
}

// Region — разрешённая пара рынок/язык, в рамках которой выполняются все запросы к бэкенду.
// Значение создаётся на каждый запрос и не разделяется между запросами.
type Region struct {
	Market   Market   `json:"market"`
	Language Language `json:"language"`
}

// Channel возвращает канал продаж региона.
func (r Region) Channel() string { return r.Market.Channel }

// LanguageCode возвращает код языка в формате коммерческого бэкенда.
func (r Region) LanguageCode() string { return r.Language.Code }

// CartLine — строка корзины. Внутри одной корзины на вариант товара приходится не больше одной строки.
type CartLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Cart описывает корзину (checkout) коммерческого бэкенда. Идентификатор всегда назначает бэкенд.
type Cart struct {
	ID           string     `json:"id"`
	OwnerEmail   string     `json:"owner_email,omitempty"`
	Lines        []CartLine `json:"lines"`
	Channel      string     `json:"channel"`
	LanguageCode string     `json:"language_code"`
}

// IsGuest сообщает, что корзина ещё не привязана к аккаунту.
func (c Cart) IsGuest() bool { return c.OwnerEmail == "" }

// Account — аутентифицированный покупатель, как его видит сессия. Токены выпускает бэкенд.
type Account struct {
	Email        string
	AccessToken  string
	RefreshToken string
	// CartIDs — известные корзины аккаунта, самая свежая первой.
	CartIDs []string
}

// CurrentCartID возвращает самую свежую корзину аккаунта или пустую строку.
func (a Account) CurrentCartID() string {
	if len(a.CartIDs) == 0 {
		return ""
	}
	return a.CartIDs[0]
}

// WorkflowStatus — статус объекта модерации.
type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusApproved  WorkflowStatus = "approved"
	StatusPublished WorkflowStatus = "published"
	StatusRejected  WorkflowStatus = "rejected"
)

// Valid проверяет, что статус входит в допустимый набор.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusPublished, StatusRejected:
		return true
	}
	return false
}

// SubjectKind различает виды объектов модерации.
type SubjectKind string

const (
	SubjectWorker  SubjectKind = "workers"
	SubjectListing SubjectKind = "listings"
)

// Worker — заявка мастера на подключение к сервису ремонта.
type Worker struct {
	ID                string
	FirstName         string
	LastName          string
	Email             string
	Phone             string
	Role              string
	AccountID         string
	Status            WorkflowStatus
	ActivationPending bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Listing — объявление продавца на маркетплейсе.
type Listing struct {
	ID          string
	Title       string
	Category    string
	Price       decimal.Decimal
	Description string
	Contact     string
	PhotoURL    string
	Status      WorkflowStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OutboxStatus — состояние недоставленного уведомления.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxEntry — уведомление, сохранённое для повторной доставки.
type OutboxEntry struct {
	ID            string
	Kind          string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
