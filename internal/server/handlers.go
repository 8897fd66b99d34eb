package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/domain"
	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// maxBodyBytes caps dispatch request bodies.
const maxBodyBytes = 1 << 20

type HealthResponse struct {
	Status  string `json:"status"`
	Plugins int    `json:"plugins"`
	Uptime  string `json:"uptime"`
}

type PluginListResponse struct {
	Object string             `json:"object"`
	Data   []registry.Summary `json:"data"`
}

type EventListResponse struct {
	Object string                   `json:"object"`
	Data   []*domain.LifecycleEvent `json:"data"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Plugins: len(s.engine.List()),
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PluginListResponse{Object: "list", Data: s.engine.List()})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, sum := range s.engine.List() {
		if sum.ID == id {
			writeJSON(w, http.StatusOK, sum)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "plugin "+id+" is not registered")
}

func (s *Server) handleBeforeRequest(w http.ResponseWriter, r *http.Request) {
	var req plugin.RequestContext
	if err := decodeBody(r, &req); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Metadata == nil {
		req.Metadata = plugin.Metadata{}
	}

	out, err := s.engine.DispatchBefore(r.Context(), req)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	if out.Cancel {
		AddLogField(r.Context(), "cancel_reason", out.CancelReason)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAfterResponse(w http.ResponseWriter, r *http.Request) {
	var resp plugin.ResponseContext
	if err := decodeBody(r, &resp); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if resp.Metadata == nil {
		resp.Metadata = plugin.Metadata{}
	}

	out, err := s.engine.DispatchAfter(r.Context(), resp)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event store not configured")
		return
	}

	q := r.URL.Query()
	opts := ports.ListEventsOptions{
		PluginID: q.Get("plugin_id"),
		Type:     domain.LifecycleEventType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}

	events, err := s.events.ListEvents(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "server_error", "failed to list events")
		return
	}
	if events == nil {
		events = []*domain.LifecycleEvent{}
	}
	writeJSON(w, http.StatusOK, EventListResponse{Object: "list", Data: events})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return err
	}
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDispatchError reports a dispatch cut short by the request context.
func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "dispatch_timeout", err.Error())
		return
	}
	writeError(w, http.StatusServiceUnavailable, "dispatch_aborted", err.Error())
}

func writeError(w http.ResponseWriter, status int, typ, msg string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Message: msg, Type: typ}})
}
