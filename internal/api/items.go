package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ideaboard/internal/studio"
)

// streamEvent is the data payload of every generation SSE event.
type streamEvent struct {
	Type    string       `json:"type"` // "item", "error", "done"
	Item    *studio.Item `json:"item,omitempty"`
	Message string       `json:"message,omitempty"`
	Count   int          `json:"count,omitempty"`
	Stopped bool         `json:"stopped,omitempty"`
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, ev streamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal stream event", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	flusher.Flush()
}

func handleGetItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, items.State())
	}
}

// handleGenerate streams newly generated items as server-sent events until
// the model finishes, the client disconnects, or the feature is stopped.
func handleGenerate(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, f, _, ok := board(deps, w, r)
		if !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}
		if s.Generating(f) {
			writeErr(w, fmt.Errorf("%w: %s", studio.ErrGenerating, f))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		n, err := s.Generate(r.Context(), f, func(it studio.Item) {
			writeEvent(w, flusher, streamEvent{Type: "item", Item: &it})
		})
		stopped := errors.Is(err, context.Canceled)
		if err != nil && !stopped {
			writeEvent(w, flusher, streamEvent{Type: "error", Message: err.Error()})
		}
		writeEvent(w, flusher, streamEvent{Type: "done", Count: n, Stopped: stopped})
	}
}

func handleStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, f, _, ok := board(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.Stop(f)})
	}
}

func handleRejectUnpinned(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		n := items.RejectUnpinned()
		writeJSON(w, http.StatusOK, map[string]int{"rejected": n})
	}
}

func handleClearRejected(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"cleared": items.ClearRejected()})
	}
}

// handleAddItem adds a user-authored concept, artifact or parameter (from a
// name) or design (from a free-text idea). Mockups only come from generation.
func handleAddItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, f, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		var req struct {
			Name string `json:"name"`
			Idea string `json:"idea"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		var err error
		switch f {
		case studio.FeatureConcepts, studio.FeatureArtifacts, studio.FeatureParameters:
			if strings.TrimSpace(req.Name) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
				return
			}
			switch f {
			case studio.FeatureConcepts:
				_, err = s.AddConcept(r.Context(), req.Name)
			case studio.FeatureArtifacts:
				_, err = s.AddArtifact(r.Context(), req.Name)
			default:
				_, err = s.AddParameter(r.Context(), req.Name)
			}
		case studio.FeatureDesigns:
			if strings.TrimSpace(req.Idea) == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "idea is required")
				return
			}
			_, err = s.AddDesign(r.Context(), req.Idea)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s cannot be added manually", f)
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, items.State())
	}
}

func handleEditItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		var patch json.RawMessage
		if !decodeBody(w, r, &patch) {
			return
		}
		if len(patch) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "request body is required")
			return
		}
		if err := items.Patch(chi.URLParam(r, "itemID"), patch); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items.State())
	}
}

// itemAction wraps a board mutation that only needs the item id.
func itemAction(deps AppDeps, fn func(items studio.Items, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		if err := fn(items, chi.URLParam(r, "itemID")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items.State())
	}
}

func handleRemoveItem(deps AppDeps) http.HandlerFunc {
	return itemAction(deps, studio.Items.Remove)
}

func handleRejectItem(deps AppDeps) http.HandlerFunc {
	return itemAction(deps, studio.Items.Reject)
}

func handleRevertItem(deps AppDeps) http.HandlerFunc {
	return itemAction(deps, studio.Items.Revert)
}

func handleRestoreItem(deps AppDeps) http.HandlerFunc {
	return itemAction(deps, studio.Items.RestoreItem)
}

// handlePinItem sets the pin from {"pinned": bool}, or toggles it when the
// body is empty.
func handlePinItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		var req struct {
			Pinned *bool `json:"pinned"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "itemID")
		var err error
		if req.Pinned == nil {
			_, err = items.TogglePin(id)
		} else {
			err = items.Pin(id, *req.Pinned)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items.State())
	}
}

func handleRenderItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, f, _, ok := board(deps, w, r)
		if !ok {
			return
		}
		if !f.Renderable() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s items have no image", f)
			return
		}
		jobID, err := deps.Studio.RequestRender(s, f, chi.URLParam(r, "itemID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
	}
}

// handleRegenerateItem rewrites one concept (field "concept" or
// "description") or one parameter description.
func handleRegenerateItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, f, items, ok := board(deps, w, r)
		if !ok {
			return
		}
		var req struct {
			Field string `json:"field"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "itemID")

		var err error
		switch f {
		case studio.FeatureConcepts:
			if req.Field != "" && req.Field != "concept" && req.Field != "name" && req.Field != "description" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "field must be concept or description")
				return
			}
			_, err = s.RegenerateConcept(r.Context(), id, req.Field)
		case studio.FeatureParameters:
			_, err = s.DescribeParameter(r.Context(), id)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s items cannot be regenerated individually", f)
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items.State())
	}
}
