package moderation

import (
	"errors"
	"net/http"

	"github.com/cashflow/platform/internal/platform/auth"
	"github.com/cashflow/platform/internal/platform/server"
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
	r.Use(auth.RequireRole(auth.RoleModerator, auth.RoleAdmin))

	r.Post("/api/v1/users/{userID}/ban", h.handleSanction(KindBan))
	r.Post("/api/v1/users/{userID}/warn", h.handleSanction(KindWarning))
	r.Get("/api/v1/sanctions/{sanctionID}", h.handleGetSanction)
	r.Post("/api/v1/tasks/{taskID}/approve", h.handleApprove)
	return r
}

type sanctionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleSanction(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sanctionRequest
		if !server.DecodeJSON(w, r, &req) {
			return
		}
		actor := auth.ActorFromContext(r.Context())
		userID := chi.URLParam(r, "userID")

		apply := h.Service.WarnUser
		if kind == KindBan {
			apply = h.Service.BanUser
		}
		rec, err := apply(r.Context(), actor, userID, req.Reason)
		if err != nil {
			h.fail(w, err)
			return
		}
		server.WriteJSON(w, http.StatusCreated, map[string]any{
			"public_id": rec.Meta.PublicID,
			"sanction":  rec.State,
		})
	}
}

func (h *Handler) handleGetSanction(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Sanction(r.Context(), chi.URLParam(r, "sanctionID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"public_id": rec.Meta.PublicID,
		"sanction":  rec.State,
	})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.ApproveTask(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "taskID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusAccepted, map[string]any{
		"public_id": rec.Meta.PublicID,
		"approval":  rec.State,
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrReasonRequired):
		server.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserUnknown), errors.Is(err, ErrTaskUnknown), errors.Is(err, ErrNotFound):
		server.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyBanned), errors.Is(err, ErrAlreadyApproved), errors.Is(err, ErrTaskNotOpen):
		server.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.Service.Log.WithError(err).Error("moderation request failed")
		server.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
