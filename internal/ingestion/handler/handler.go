package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	publisher *publisher.Publisher
	logger    *slog.Logger
}

func New(pub *publisher.Publisher) *Handler {
	return &Handler{
		publisher: pub,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the write routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/packages/{id}", h.Upsert)
	mux.HandleFunc("DELETE /api/v1/packages/{id}", h.Delete)
	mux.HandleFunc("POST /api/v1/events", h.Events)
}

// Upsert stores the record in the body under the ID in the path. A body ID,
// if present, must match.
func (h *Handler) Upsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	id := r.PathValue("id")

	var rec catalog.PackageRecord
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.ID != id {
		h.writeError(w, http.StatusBadRequest, "body id does not match path")
		return
	}

	resp, err := h.publisher.Upsert(ctx, &rec)
	if err != nil {
		h.fail(w, r, "upsert", id, err)
		return
	}
	log.Info("package upsert submitted", "id", id, "status", resp.Status)
	h.writeJSON(w, statusFor(resp.Status), resp)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")
	resp, err := h.publisher.Delete(ctx, id)
	if err != nil {
		h.fail(w, r, "delete", id, err)
		return
	}
	logger.FromContext(ctx).Info("package delete submitted", "id", id, "status", resp.Status)
	h.writeJSON(w, statusFor(resp.Status), resp)
}

// Events accepts a JSON array of PackageEvents and submits them in order.
// Nothing is submitted if any event is invalid.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var events []catalog.PackageEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16*maxBodyBytes)).Decode(&events); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	for i, ev := range events {
		if err := validator.ValidateEvent(ev); err != nil {
			body := map[string]any{"error": "validation failed", "index": i}
			var verr *validator.ValidationError
			if errors.As(err, &verr) {
				body["fields"] = verr.Fields
			} else {
				body["error"] = err.Error()
			}
			h.writeJSON(w, http.StatusBadRequest, body)
			return
		}
	}
	if err := h.publisher.Submit(ctx, events); err != nil {
		h.fail(w, r, "events", "", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]int{"submitted": len(events)})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error("ingestion failed",
		"op", op,
		"id", id,
		"error", err,
		"status_code", status,
	)
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, "ingestion failed")
}

func statusFor(s string) int {
	if s == ingestion.StatusAccepted {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
