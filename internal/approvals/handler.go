package approvals

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kitbridge/kitbridge/internal/gate"
	"github.com/kitbridge/kitbridge/internal/platform/httpx"
	"github.com/kitbridge/kitbridge/internal/principal"
)

// Handler exposes the admin approval API.
type Handler struct {
	service *Service
	gate    *gate.Gate
	logger  *slog.Logger
}

// NewHandler constructs the approvals handler.
func NewHandler(service *Service, g *gate.Gate, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, gate: g, logger: logger}
}

// MountRoutes registers the approval endpoints behind the admin API guard.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.gate.RequireKind(principal.KindAdmin))
	r.Get("/{kind}", h.list)
	r.Post("/{kind}/{id}", h.approve)
}

// kindParam accepts either the kind name or its URL segment.
func kindParam(r *http.Request) principal.Kind {
	raw := chi.URLParam(r, "kind")
	if d, ok := principal.BySegment(raw); ok {
		return d.Kind
	}
	return principal.Kind(raw)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	kind := kindParam(r)
	pending, err := h.service.ListPending(r.Context(), kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"kind":    kind,
		"pending": pending,
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	kind := kindParam(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Error(w, http.StatusBadRequest, "invalid id")
		return
	}
	approver := ""
	if claims := gate.ClaimsFromContext(r.Context()); claims != nil {
		approver = claims.SecondaryID
	}
	if err := h.service.Approve(r.Context(), kind, id, approver); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Warn("approvals request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
