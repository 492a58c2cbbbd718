// Package handler содержит HTTP-обработчики API витрины.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/middleware"
	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/region"
	"github.com/mmeshcher/storefront-core/internal/repository"
	"github.com/mmeshcher/storefront-core/internal/service"
	"github.com/mmeshcher/storefront-core/internal/validation"
	"github.com/mmeshcher/storefront-core/internal/workflow"
)

// CheckoutCookie хранит идентификатор текущей корзины посетителя.
const CheckoutCookie = "checkout_id"

const checkoutCookieTTL = 30 * 24 * time.Hour

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Login(ctx context.Context, in service.LoginInput) (service.LoginResult, error)
	ApplyWorker(ctx context.Context, in service.WorkerApplication) (model.Worker, error)
	SubmitListing(ctx context.Context, in service.ListingInput) (model.Listing, error)
	ListWorkers(ctx context.Context, status model.WorkflowStatus) ([]model.Worker, error)
	ListListings(ctx context.Context, status model.WorkflowStatus) ([]model.Listing, error)
	Transition(ctx context.Context, kind model.SubjectKind, id string, target model.WorkflowStatus) (workflow.Ack, error)
	RetryActivation(ctx context.Context, workerID string) (workflow.Ack, error)
	ListInconsistentWorkers(ctx context.Context) ([]model.Worker, error)
	ListDeadNotifications(ctx context.Context) ([]model.OutboxEntry, error)
	RetryNotification(ctx context.Context, id string) (model.OutboxEntry, error)
}

// Handler реализует HTTP-обработчики API витрины.
type Handler struct {
	service       Service
	logger        *zap.Logger
	sessions      *middleware.SessionManager
	admins        []string
	defaultLocale string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, sessions *middleware.SessionManager, admins []string, defaultLocale string) *Handler {
	return &Handler{
		service:       s,
		logger:        logger,
		sessions:      sessions,
		admins:        admins,
		defaultLocale: defaultLocale,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) region(w http.ResponseWriter, r *http.Request) (model.Region, bool) {
	reg, err := region.FromRequest(r, h.defaultLocale)
	if err != nil {
		h.logger.Error("resolve region error", zap.Error(err), zap.String("default_locale", h.defaultLocale))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return model.Region{}, false
	}
	return reg, true
}

// decodeValid читает JSON-тело и проверяет его теги validate.
// Возвращает false, если ответ с ошибкой уже записан.
func decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}

	if err := validation.Struct(dst); err != nil {
		var verr *validation.Error
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": verr.Fields})
			return false
		}
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}
	return true
}

// GetRegion возвращает регион, определённый для запроса.
func (h *Handler) GetRegion(w http.ResponseWriter, r *http.Request) {
	reg, ok := h.region(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Email  string `json:"email"`
	CartID string `json:"cart_id,omitempty"`
	Merge  string `json:"merge"`
}

// Login аутентифицирует покупателя, устанавливает cookie сессии и переносит гостевую корзину.
// Ошибка переноса не меняет ответ.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeValid(w, r, &req) {
		return
	}

	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	var guestCartID string
	if c, err := r.Cookie(CheckoutCookie); err == nil {
		guestCartID = c.Value
	}

	res, err := h.service.Login(r.Context(), service.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		GuestCartID: guestCartID,
		Region:      reg,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := h.sessions.SetSessionCookie(w, res.Account.Email); err != nil {
		h.logger.Error("set session cookie error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if res.CartID != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     CheckoutCookie,
			Value:    res.CartID,
			Path:     "/",
			Expires:  time.Now().Add(checkoutCookieTTL),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Email:  res.Account.Email,
		CartID: res.CartID,
		Merge:  string(res.Merge.Result),
	})
}

type workerRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,phone"`
	Role      string `json:"role" validate:"required,max=64"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
}

type workerResponse struct {
	ID                string `json:"id"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	Role              string `json:"role"`
	Status            string `json:"status"`
	ActivationPending bool   `json:"activation_pending"`
	CreatedAt         string `json:"created_at"`
}

func newWorkerResponse(w model.Worker) workerResponse {
	return workerResponse{
		ID:                w.ID,
		FirstName:         w.FirstName,
		LastName:          w.LastName,
		Email:             w.Email,
		Phone:             w.Phone,
		Role:              w.Role,
		Status:            string(w.Status),
		ActivationPending: w.ActivationPending,
		CreatedAt:         w.CreatedAt.Format(time.RFC3339),
	}
}

// ApplyWorker принимает заявку мастера.
func (h *Handler) ApplyWorker(w http.ResponseWriter, r *http.Request) {
	var req workerRequest
	if !decodeValid(w, r, &req) {
		return
	}

	reg, ok := h.region(w, r)
	if !ok {
		return
	}

	worker, err := h.service.ApplyWorker(r.Context(), service.WorkerApplication{
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
		Email:     req.Email,
		Phone:     strings.TrimSpace(req.Phone),
		Role:      req.Role,
		Password:  req.Password,
		Region:    reg,
	})
	if err != nil {
		if errors.Is(err, repository.ErrWorkerExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("apply worker error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, newWorkerResponse(worker))
}

type listingRequest struct {
	Title       string          `json:"title" validate:"required,max=200"`
	Category    string          `json:"category" validate:"required,max=100"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
	Description string          `json:"description" validate:"max=4000"`
	Contact     string          `json:"contact" validate:"required,max=200"`
	PhotoURL    string          `json:"photo_url" validate:"omitempty,url"`
}

type listingResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Price       string `json:"price"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func newListingResponse(l model.Listing) listingResponse {
	return listingResponse{
		ID:          l.ID,
		Title:       l.Title,
		Category:    l.Category,
		Price:       l.Price.StringFixed(2),
		Description: l.Description,
		Contact:     l.Contact,
		PhotoURL:    l.PhotoURL,
		Status:      string(l.Status),
		CreatedAt:   l.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitListing принимает объявление продавца.
func (h *Handler) SubmitListing(w http.ResponseWriter, r *http.Request) {
	var req listingRequest
	if !decodeValid(w, r, &req) {
		return
	}

	listing, err := h.service.SubmitListing(r.Context(), service.ListingInput{
		Title:       strings.TrimSpace(req.Title),
		Category:    req.Category,
		Price:       req.Price,
		Description: req.Description,
		Contact:     strings.TrimSpace(req.Contact),
		PhotoURL:    req.PhotoURL,
	})
	if err != nil {
		h.logger.Error("submit listing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, newListingResponse(listing))
}

// GetPublishedListings возвращает опубликованные объявления.
func (h *Handler) GetPublishedListings(w http.ResponseWriter, r *http.Request) {
	h.writeListings(w, r, model.StatusPublished)
}

func (h *Handler) writeListings(w http.ResponseWriter, r *http.Request, status model.WorkflowStatus) {
	listings, err := h.service.ListListings(r.Context(), status)
	if err != nil {
		h.logger.Error("list listings error", zap.Error(err), zap.String("status", string(status)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(listings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		resp = append(resp, newListingResponse(l))
	}
	writeJSON(w, http.StatusOK, resp)
}
