package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/capsa-dev/capsa/internal/bundle"
	"github.com/capsa-dev/capsa/internal/capsule"
	"github.com/capsa-dev/capsa/internal/memory"
	"github.com/capsa-dev/capsa/internal/retrieve"
)

// writeError maps the typed error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]any{"error": err.Error()}

	var dup *memory.DuplicateOpenCapsuleError
	switch {
	case memory.IsValidation(err):
		status = http.StatusBadRequest
	case memory.IsNotFound(err):
		status = http.StatusNotFound
	case errors.As(err, &dup):
		status = http.StatusConflict
		body["existingCapsuleId"] = dup.ExistingID
	case memory.IsConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, body)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieve.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	res, err := s.retriever.Retrieve(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAppendObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		memory.Observation
		CapsuleID string `json:"capsuleId,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	obs, err := memory.ValidateObservation(req.Observation)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.db.InsertObservation(obs); err != nil {
		writeError(w, err)
		return
	}

	// Attach to the named capsule, or to the session's open capsule
	// when one exists. Observations without either simply float.
	attachedTo := ""
	switch {
	case req.CapsuleID != "":
		attachedTo = req.CapsuleID
	case obs.Scope.SessionID != "":
		open, err := s.db.FindOpenCapsuleBySession(obs.Scope.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if open != nil {
			attachedTo = open.ID
		}
	}
	if attachedTo != "" {
		if err := s.db.AttachObservation(attachedTo, obs.ID); err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"observation": obs,
		"capsuleId":   attachedTo,
	})
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "observationID")
	if err := s.db.RedactObservation(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "redacted", "id": id})
}

func (s *Server) handleOpenCapsule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   memory.CapsuleType `json:"type"`
		Intent string             `json:"intent,omitempty"`
		Scope  memory.ScopeIDs    `json:"scopeIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Type == "" {
		req.Type = memory.CapsuleSession
	}

	c, err := s.capsules.Open(req.Type, req.Intent, req.Scope, "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCapsule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "capsuleID")
	c, err := s.capsules.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	obsIDs, err := s.db.CapsuleObservationIDs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.db.LatestSummaryForCapsule(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"capsule":        c,
		"observationIds": obsIDs,
		"summary":        summary,
	})
}

func (s *Server) handleCloseCapsule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "capsuleID")

	var req struct {
		Summary      string   `json:"summary,omitempty"`
		Confidence   *float64 `json:"confidence,omitempty"`
		EvidenceRefs []string `json:"evidenceRefs,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	var signals *capsule.CloseSignals
	if req.Summary != "" {
		signals = &capsule.CloseSignals{
			Summary:      req.Summary,
			Confidence:   req.Confidence,
			EvidenceRefs: req.EvidenceRefs,
		}
	}

	c, err := s.capsules.Close(id, signals)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req memory.Pin
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	p, err := memory.ValidatePin(req)
	if err != nil {
		writeError(w, err)
		return
	}

	// Pinning a missing target is a 404, not a deferred surprise at
	// retrieval time.
	switch p.TargetType {
	case memory.PinObservation:
		if _, err := s.db.GetObservation(p.TargetID); err != nil {
			writeError(w, err)
			return
		}
	case memory.PinSummary:
		if _, err := s.db.GetSummary(p.TargetID); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.db.InsertPin(p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pinID")
	if err := s.db.DeletePin(id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unpinned", "id": id})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope           memory.ScopeIDs `json:"scopeIds"`
		IncludeRedacted bool            `json:"includeRedacted,omitempty"`
		Limit           int             `json:"limit,omitempty"`
		Metadata        map[string]any  `json:"metadata,omitempty"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
			return
		}
	}

	b, err := bundle.Create(s.db, req.Scope, req.IncludeRedacted, req.Limit, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bundle         json.RawMessage `json:"bundle"`
		SkipValidation bool            `json:"skipValidation,omitempty"`
		DryRun         bool            `json:"dryRun,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.Bundle) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bundle required"})
		return
	}

	var b bundle.Bundle
	if err := json.Unmarshal(req.Bundle, &b); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bundle json"})
		return
	}

	res, err := bundle.Restore(s.db, &b, bundle.RestoreOptions{
		SkipValidation: req.SkipValidation,
		DryRun:         req.DryRun,
	})
	if err != nil {
		var inv *bundle.InvalidError
		if errors.As(err, &inv) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "bundle failed validation",
				"details": inv.Errors,
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result": res,
		"dryRun": req.DryRun,
	})
}
