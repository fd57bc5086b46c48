package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/tribunal"
	"github.com/m-mizutani/tribunal/escalation"
	"github.com/m-mizutani/tribunal/trace"
)

const maxRequestBody = 1 << 20

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ctxlog.From(r.Context()).Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, apiError{Error: msg})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type listEscalationsResponse struct {
	Escalations []escalation.Pending `json:"escalations"`
}

// handleListEscalations lists pending escalations; ?status=all lists every one.
func (s *server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	status := escalation.Status(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = escalation.StatusPending
	case "all":
		status = ""
	case escalation.StatusPending, escalation.StatusResolved, escalation.StatusTimedOut, escalation.StatusCancelled:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid status parameter")
		return
	}

	list, err := s.escalations.List(r.Context(), status)
	if err != nil {
		ctxlog.From(r.Context()).Error("failed to list escalations", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to list escalations")
		return
	}
	if list == nil {
		list = []escalation.Pending{}
	}
	writeJSON(w, r, http.StatusOK, listEscalationsResponse{Escalations: list})
}

func (s *server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	p, err := s.escalations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

type resolveRequest struct {
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
	Approver  string `json:"approver"`
}

// handleResolveEscalation applies a human decision. A decision for an
// escalation that is no longer pending is answered with 409 and changes
// nothing.
func (s *server) handleResolveEscalation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := ctxlog.From(r.Context()).With("escalation_id", id)

	var req resolveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := tribunal.ParseAction(req.Action)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unknown action")
		return
	}
	if req.Approver == "" {
		writeError(w, r, http.StatusBadRequest, "approver is required")
		return
	}

	p, err := s.escalations.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	if p.Status != escalation.StatusPending {
		writeError(w, r, http.StatusConflict, "escalation is already "+string(p.Status))
		return
	}

	decision := tribunal.HumanDecision{
		Action:    action,
		Reasoning: req.Reasoning,
		Approver:  req.Approver,
	}
	if err := s.escalations.Resume(r.Context(), id, decision); err != nil {
		if errors.Is(err, tribunal.ErrInvalidDecision) {
			writeError(w, r, http.StatusBadRequest, "action is not allowed for a human decision")
			return
		}
		logger.Error("failed to resolve escalation", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to resolve escalation")
		return
	}

	p, err = s.escalations.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, r, err)
		return
	}
	if p.Resolution == nil || p.Resolution.Decision == nil || p.Resolution.Decision.Approver != req.Approver {
		// another decision or the timeout won the race
		writeError(w, r, http.StatusConflict, "escalation is already "+string(p.Status))
		return
	}

	logger.Info("escalation resolved via review API", "action", action, "approver", req.Approver)
	writeJSON(w, r, http.StatusOK, p)
}

func (s *server) writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, escalation.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "escalation not found")
		return
	}
	ctxlog.From(r.Context()).Error("failed to get escalation", "error", err)
	writeError(w, r, http.StatusInternalServerError, "failed to get escalation")
}

type listTracesResponse struct {
	Traces []string `json:"traces"`
}

func (s *server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeError(w, r, http.StatusNotFound, "trace repository is not configured")
		return
	}

	ids, err := s.traces.List(r.Context())
	if err != nil {
		ctxlog.From(r.Context()).Error("failed to list traces", "error", err)
		writeError(w, r, http.StatusInternalServerError, "failed to list traces")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, r, http.StatusOK, listTracesResponse{Traces: ids})
}

func (s *server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeError(w, r, http.StatusNotFound, "trace repository is not configured")
		return
	}

	traceID := r.PathValue("id")
	t, err := s.traces.Get(r.Context(), traceID)
	if err != nil {
		if errors.Is(err, trace.ErrTraceNotFound) {
			writeError(w, r, http.StatusNotFound, "trace not found")
			return
		}
		ctxlog.From(r.Context()).Error("failed to get trace", "error", err, "trace_id", traceID)
		writeError(w, r, http.StatusInternalServerError, "failed to get trace")
		return
	}
	writeJSON(w, r, http.StatusOK, t)
}
