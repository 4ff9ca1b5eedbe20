package accounts

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

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)

	r.Group(func(authR chi.Router) {
		authR.Use(auth.Middleware(h.Service.Tokens))
		authR.Get("/api/v1/users/me", h.handleMe)
		authR.Get("/api/v1/users/{userID}", h.handleGetUser)
		authR.Patch("/api/v1/users/{userID}", h.handleUpdateProfile)

		authR.Group(func(adminR chi.Router) {
			adminR.Use(auth.RequireRole(auth.RoleAdmin))
			adminR.Post("/api/v1/users/{userID}/deactivate", h.handleSetActive(false))
			adminR.Post("/api/v1/users/{userID}/activate", h.handleSetActive(true))
			adminR.Put("/api/v1/users/{userID}/role", h.handleSetRole)
		})
	})
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type roleRequest struct {
	RoleID int `json:"role_id"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	resp, err := h.Service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, auth.ActorFromContext(r.Context()).UserID)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, chi.URLParam(r, "userID"))
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.Service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileUpdate
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Service.UpdateProfile(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "userID"), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := h.Service.SetActive(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "userID"), active)
		if err != nil {
			h.fail(w, err)
			return
		}
		server.WriteJSON(w, http.StatusOK, viewOf(rec))
	}
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Service.SetRole(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "userID"), req.RoleID)
	if err != nil {
		h.fail(w, err)
		return
	}
	server.WriteJSON(w, http.StatusOK, viewOf(rec))
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidUserName), errors.Is(err, ErrInvalidPassword):
		server.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		server.WriteError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrUserBanned), errors.Is(err, ErrUserInactive), errors.Is(err, ErrForbidden):
		server.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		server.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmailTaken):
		server.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.Service.Log.WithError(err).Error("accounts request failed")
		server.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
