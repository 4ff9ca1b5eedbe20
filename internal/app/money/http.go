package money

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

	r.Post("/api/v1/deposits", h.handleDeposit)
	r.Get("/api/v1/transactions/{txID}", h.handleGet)

	r.Group(func(adminR chi.Router) {
		adminR.Use(auth.RequireRole(auth.RoleAdmin))
		adminR.Post("/api/v1/tasks/{taskID}/payout", h.handlePayout)
		adminR.Post("/api/v1/transactions/{txID}/complete", h.handleComplete)
		adminR.Post("/api/v1/transactions/{txID}/fail", h.handleFail)
	})
	return r
}

type TransactionView struct {
	PublicID string `json:"public_id"`
	Version  int64  `json:"version"`
	Transaction
}

func viewOf(rec store.Record[Transaction]) TransactionView {
	return TransactionView{PublicID: rec.Meta.PublicID, Version: rec.Meta.Version, Transaction: rec.State}
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !server.DecodeJSON(w, r, &req) {
		return
	}
	rec, err := h.Service.Deposit(r.Context(), auth.ActorFromContext(r.Context()), req)
	h.respond(w, http.StatusCreated, rec, err)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.Get(r.Context(), chi.URLParam(r, "txID"))
	if err == nil {
		claims, _ := auth.ClaimsFromContext(r.Context())
		if rec.State.UserID != claims.Subject && !claims.HasRole(auth.RoleAdmin) {
			err = ErrNotFound
		}
	}
	h.respond(w, http.StatusOK, rec, err)
}

func (h *Handler) handlePayout(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.PayoutTask(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "taskID"))
	h.respond(w, http.StatusCreated, rec, err)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.CompleteTransaction(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "txID"))
	h.respond(w, http.StatusOK, rec, err)
}

func (h *Handler) handleFail(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Service.FailTransaction(r.Context(), auth.ActorFromContext(r.Context()), chi.URLParam(r, "txID"))
	h.respond(w, http.StatusOK, rec, err)
}

func (h *Handler) respond(w http.ResponseWriter, status int, rec store.Record[Transaction], err error) {
	switch {
	case err == nil:
		server.WriteJSON(w, status, viewOf(rec))
	case errors.Is(err, ErrInvalidAmount):
		server.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUserDisabled):
		server.WriteError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrTaskUnknown):
		server.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyPaid), errors.Is(err, ErrNotPending), errors.Is(err, ErrTaskNotApproved):
		server.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrUserUnknown):
		w.Header().Set("Retry-After", "1")
		server.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.Service.Log.WithError(err).Error("money request failed")
		server.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
