package tasks

import (
	"errors"
	"net/http"

	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/platform/server"
	"github.com/cashflow/platform/internal/store"
	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service       *Service
	AllowedOrigin string
}

func NewHandler(service *Service, allowedOrigin string) *Handler {
	return &Handler{Service: service, AllowedOrigin: allowedOrigin}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(server.CORS(h.AllowedOrigin))
	r.Use(auth.Middleware(h.Service.Tokens))

	r.Post("/api/v1/tasks", h.handleCreate)
	r.Get("/api/v1/tasks/{taskID}", h.handleGet)
	r.Patch("/api/v1/tasks/{taskID}", h.handleUpdate)
	r.Post("/api/v1/tasks/{taskID}/close", h.handleClose)
	return r
}

type TaskView struct {
	PublicID string `json:"public_id"`
	Version  int64  `json:"version"`
	Task
}

func viewOf(rec store.Record[Task]) TaskView {
	return TaskView{PublicID: rec.Meta.PublicID, Version: rec.Meta.Version, Task: rec.State}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Service.CreateTask(r.Context(), auth.ActorFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, viewOf(rec))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req TaskUpdate
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Service.UpdateTask(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "taskID"), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.CloseTask(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTitle), errors.Is(err, ErrInvalidReward):
		server.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrAuthorDisabled):
		server.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		server.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTaskLocked):
		server.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrAuthorUnknown):
		// The author's user.created event has not been replicated yet.
		w.Header().Set("Retry-After", "1")
		server.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.Service.Log.WithError(err).Error("tasks request failed")
		server.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
