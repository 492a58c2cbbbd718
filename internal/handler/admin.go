package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront-core/internal/model"
	"github.com/mmeshcher/storefront-core/internal/repository"
	"github.com/mmeshcher/storefront-core/internal/workflow"
)

// statusFromQuery читает фильтр ?status=. Пустое значение означает все статусы.
func statusFromQuery(w http.ResponseWriter, r *http.Request) (model.WorkflowStatus, bool) {
	status := model.WorkflowStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return "", false
	}
	return status, true
}

// ListWorkers возвращает очередь заявок мастеров.
func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	status, ok := statusFromQuery(w, r)
	if !ok {
		return
	}

	workers, err := h.service.ListWorkers(r.Context(), status)
	if err != nil {
		h.logger.Error("list workers error", zap.Error(err), zap.String("status", string(status)))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeWorkers(w, workers)
}

// ListListings возвращает очередь объявлений.
func (h *Handler) ListListings(w http.ResponseWriter, r *http.Request) {
	status, ok := statusFromQuery(w, r)
	if !ok {
		return
	}
	h.writeListings(w, r, status)
}

// ListInconsistentWorkers возвращает одобренных мастеров без активированной учётной записи.
func (h *Handler) ListInconsistentWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.service.ListInconsistentWorkers(r.Context())
	if err != nil {
		h.logger.Error("list inconsistent workers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.writeWorkers(w, workers)
}

func (h *Handler) writeWorkers(w http.ResponseWriter, workers []model.Worker) {
	if len(workers) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]workerResponse, 0, len(workers))
	for _, wk := range workers {
		resp = append(resp, newWorkerResponse(wk))
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// UpdateStatus возвращает обработчик перехода статуса для вида объекта модерации.
func (h *Handler) UpdateStatus(kind model.SubjectKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req statusRequest
		if !decodeValid(w, r, &req) {
			return
		}

		id := chi.URLParam(r, "id")
		ack, err := h.service.Transition(r.Context(), kind, id, model.WorkflowStatus(req.Status))
		if err != nil {
			h.writeWorkflowError(w, err, "update status error", kind, id)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

// RetryActivation повторяет активацию учётной записи мастера.
func (h *Handler) RetryActivation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ack, err := h.service.RetryActivation(r.Context(), id)
	if err != nil {
		h.writeWorkflowError(w, err, "retry activation error", model.SubjectWorker, id)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error, msg string, kind model.SubjectKind, id string) {
	switch {
	case errors.Is(err, workflow.ErrUnknownSubject), errors.Is(err, repository.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, workflow.ErrTransitionNotAllowed):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, workflow.ErrActivationFailed):
		h.logger.Warn(msg, zap.Error(err), zap.String("subject", string(kind)), zap.String("id", id))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("subject", string(kind)), zap.String("id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type notificationResponse struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func newNotificationResponse(e model.OutboxEntry) notificationResponse {
	return notificationResponse{
		ID:        e.ID,
		Kind:      e.Kind,
		Status:    string(e.Status),
		Attempts:  e.Attempts,
		LastError: e.LastError,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
		UpdatedAt: e.UpdatedAt.Format(time.RFC3339),
	}
}

// ListDeadNotifications возвращает уведомления, которые не удалось доставить.
func (h *Handler) ListDeadNotifications(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.ListDeadNotifications(r.Context())
	if err != nil {
		h.logger.Error("list dead notifications error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]notificationResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, newNotificationResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// RetryNotification возвращает уведомление в очередь доставки.
func (h *Handler) RetryNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := h.service.RetryNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("retry notification error", zap.Error(err), zap.String("id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, newNotificationResponse(e))
}
