package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ideaboard/internal/collection"
)

const maxImageBodySize = 20 << 20 // 20MB, pasted images arrive as data URLs

type imageRequest struct {
	Src    string   `json:"src"`
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

func handleGetCanvas(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Canvas.Images().Snapshot())
	}
}

func handlePasteImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req imageRequest
		if !decodeBodyLimit(w, r, &req, maxImageBodySize) {
			return
		}
		if strings.TrimSpace(req.Src) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "src is required")
			return
		}
		e, err := s.Canvas.Paste(req.Src)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

// handleUpdateImage moves and/or resizes an image. Moving brings it to the
// front.
func handleUpdateImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req imageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "imageID")
		e, found := s.Canvas.Images().Get(id)
		if !found {
			writeErr(w, collection.ErrNotFound)
			return
		}

		if req.X != nil || req.Y != nil {
			x, y := e.Value.X, e.Value.Y
			if req.X != nil {
				x = *req.X
			}
			if req.Y != nil {
				y = *req.Y
			}
			if err := s.Canvas.Move(id, x, y); err != nil {
				writeErr(w, err)
				return
			}
		}
		if req.Width != nil || req.Height != nil {
			wd, ht := e.Value.Width, e.Value.Height
			if req.Width != nil {
				wd = *req.Width
			}
			if req.Height != nil {
				ht = *req.Height
			}
			if err := s.Canvas.Resize(id, wd, ht); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, s.Canvas.Images().Snapshot())
	}
}

func handleDeleteImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		if err := s.Canvas.Delete(chi.URLParam(r, "imageID")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCaptionImage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		caption, err := s.CaptionImage(r.Context(), chi.URLParam(r, "imageID"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"caption": caption})
	}
}

func handleCaptionAll(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		n, err := s.CaptionAll(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"captioned": n})
	}
}

func handleBlend(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req struct {
			Instruction string   `json:"instruction"`
			IDs         []string `json:"ids"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Instruction) == "" || len(req.IDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "instruction and ids are required")
			return
		}
		e, err := s.Blend(r.Context(), req.Instruction, req.IDs)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}
