package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"expedients/internal/expedient/models"
	"expedients/internal/expedient/service"
	"expedients/pkg/platform/httputil"
	"expedients/pkg/requestcontext"
)

// Service defines the expedient operations exposed over HTTP.
type Service interface {
	Create(ctx context.Context, in service.CreateInput) (models.Snapshot, error)
	Get(ctx context.Context, id string) (models.Snapshot, error)
	List(ctx context.Context) ([]models.Snapshot, error)
	Update(ctx context.Context, in service.UpdateInput) (models.Snapshot, error)
	Complete(ctx context.Context, id string) (models.Snapshot, error)
	Uncomplete(ctx context.Context, id string) (models.Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// Handler wires expedient endpoints to the expedient service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an expedient handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts expedient endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/expedients", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
		r.Post("/{id}/complete", h.HandleComplete)
		r.Post("/{id}/uncomplete", h.HandleUncomplete)
	})
}

// HandleList handles GET /expedients.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, err := h.service.List(ctx)
	if err != nil {
		h.fail(ctx, "list expedients failed", "", err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, all)
}

// HandleCreate handles POST /expedients.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	snap, err := h.service.Create(ctx, req.Input())
	if err != nil {
		h.fail(ctx, "create expedient failed", "", err, w)
		return
	}

	h.logger.InfoContext(ctx, "expedient created via api",
		"request_id", requestID,
		"expedient_id", snap.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, snap)
}

// HandleGet handles GET /expedients/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	snap, err := h.service.Get(ctx, id)
	if err != nil {
		h.fail(ctx, "get expedient failed", id, err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// HandleUpdate handles PUT /expedients/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	id := chi.URLParam(r, "id")

	req, ok := httputil.DecodeAndPrepare[UpdateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	in, err := req.Input(id)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid update request",
			"request_id", requestID,
			"expedient_id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	snap, err := h.service.Update(ctx, in)
	if err != nil {
		h.fail(ctx, "update expedient failed", id, err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// HandleDelete handles DELETE /expedients/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(ctx, id); err != nil {
		h.fail(ctx, "delete expedient failed", id, err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Expedient deleted successfully"})
}

// HandleComplete handles POST /expedients/{id}/complete.
func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	snap, err := h.service.Complete(ctx, id)
	if err != nil {
		h.fail(ctx, "complete expedient failed", id, err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// HandleUncomplete handles POST /expedients/{id}/uncomplete.
func (h *Handler) HandleUncomplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	snap, err := h.service.Uncomplete(ctx, id)
	if err != nil {
		h.fail(ctx, "uncomplete expedient failed", id, err, w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *Handler) fail(ctx context.Context, msg, id string, err error, w http.ResponseWriter) {
	h.logger.WarnContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"expedient_id", id,
		"error", err,
	)
	httputil.WriteError(w, err)
}
