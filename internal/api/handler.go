// Package api exposes the capture controller over HTTP and reports its
// health over gRPC.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"Go2NetCapture/internal/capture"
	"Go2NetCapture/internal/export"
	"Go2NetCapture/internal/model"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	ctl *capture.Controller
	log *zap.SugaredLogger
}

type filtersRequest struct {
	Protocols  []model.Protocol `json:"protocols"`
	TextFilter string           `json:"textFilter"`
}

type saveRequest struct {
	Label string `json:"label"`
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

type appliedResponse struct {
	Applied bool           `json:"applied"`
	Capture capture.Status `json:"capture"`
}

type loadResponse struct {
	Saved   model.SavedCaptureSummary `json:"saved"`
	Capture capture.Status            `json:"capture"`
}

// NewRouter registers every route under /api/v1.
func NewRouter(ctl *capture.Controller, log *zap.SugaredLogger) *mux.Router {
	h := &Handler{ctl: ctl, log: log}

	r := mux.NewRouter()
	r.Use(h.logRequests)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/capture", h.getCapture).Methods("GET")
	v1.HandleFunc("/capture/start", h.startCapture).Methods("POST")
	v1.HandleFunc("/capture/stop", h.stopCapture).Methods("POST")
	v1.HandleFunc("/capture/clear", h.clearCapture).Methods("POST")
	v1.HandleFunc("/capture/ack", h.ackError).Methods("POST")
	v1.HandleFunc("/capture/filters", h.setFilters).Methods("PUT")
	v1.HandleFunc("/capture/packets", h.listPackets).Methods("GET")
	v1.HandleFunc("/capture/export", h.exportCapture).Methods("GET")
	v1.HandleFunc("/interfaces", h.listInterfaces).Methods("GET")
	v1.HandleFunc("/backend/readiness", h.readiness).Methods("GET")
	v1.HandleFunc("/saves", h.listSaves).Methods("GET")
	v1.HandleFunc("/saves", h.saveCapture).Methods("POST")
	v1.HandleFunc("/saves", h.deleteSaves).Methods("DELETE")
	v1.HandleFunc("/saves/{id}/load", h.loadSave).Methods("POST")
	v1.HandleFunc("/saves/{id}/export", h.exportSave).Methods("GET")
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Debugw("handled request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

func (h *Handler) getCapture(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) startCapture(w http.ResponseWriter, r *http.Request) {
	var req capture.StartRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ctl.Start(r.Context(), req); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) stopCapture(w http.ResponseWriter, r *http.Request) {
	if err := h.ctl.Stop(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) clearCapture(w http.ResponseWriter, r *http.Request) {
	applied := h.ctl.Clear()
	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied, Capture: h.ctl.Snapshot()})
}

func (h *Handler) ackError(w http.ResponseWriter, r *http.Request) {
	applied := h.ctl.AckError()
	writeJSON(w, http.StatusOK, appliedResponse{Applied: applied, Capture: h.ctl.Snapshot()})
}

func (h *Handler) setFilters(w http.ResponseWriter, r *http.Request) {
	var req filtersRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ctl.SetFilters(req.Protocols, req.TextFilter); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *Handler) listPackets(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, &model.ValidationError{Field: "limit", Reason: fmt.Sprintf("%q is not a non-negative integer", v)})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.ctl.Packets(limit))
}

func (h *Handler) exportCapture(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	art, err := h.ctl.Export(format)
	h.writeArtifact(w, art, err)
}

func (h *Handler) listInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := h.ctl.Interfaces(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ifaces)
}

// readiness always answers 200; a failed probe is reported in the body.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	ready, err := h.ctl.Readiness(r.Context())
	if err != nil {
		h.log.Warnw("backend readiness probe failed", "error", err)
	}
	writeJSON(w, http.StatusOK, ready)
}

func (h *Handler) listSaves(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.SavedCaptures())
}

func (h *Handler) saveCapture(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !h.decode(w, r, &req) {
		return
	}
	saved, err := h.ctl.Save(r.Context(), req.Label)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved.Summary())
}

func (h *Handler) deleteSaves(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.ctl.DeleteSaved(r.Context(), req.IDs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) loadSave(w http.ResponseWriter, r *http.Request) {
	saved, err := h.ctl.LoadSaved(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{Saved: saved.Summary(), Capture: h.ctl.Snapshot()})
}

func (h *Handler) exportSave(w http.ResponseWriter, r *http.Request) {
	format, err := formatParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	art, err := h.ctl.ExportSaved(mux.Vars(r)["id"], format)
	h.writeArtifact(w, art, err)
}

// writeArtifact sends an exported file as an attachment. Nothing to
// export is not a failure: the status line is returned instead.
func (h *Handler) writeArtifact(w http.ResponseWriter, art *export.Artifact, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	if art == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": export.NoPacketsStatus})
		return
	}
	w.Header().Set("Content-Type", art.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	w.Header().Set("X-Capture-Status", art.Status)
	w.WriteHeader(http.StatusOK)
	w.Write(art.Data)
}

func formatParam(r *http.Request) (export.Format, error) {
	v := r.URL.Query().Get("format")
	if v == "" {
		return export.FormatJSON, nil
	}
	return export.ParseFormat(v)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, &model.ValidationError{Field: "body", Reason: fmt.Sprintf("failed to decode request: %v", err)})
		return false
	}
	return true
}

// statusCode maps the error taxonomy onto HTTP statuses.
func statusCode(err error) int {
	var verr *model.ValidationError
	var berr *model.BackendError
	var perr *model.PersistenceError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNoPackets):
		return http.StatusConflict
	case errors.As(err, &berr):
		return http.StatusBadGateway
	case errors.As(err, &perr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
