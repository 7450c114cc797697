package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ideaboard/internal/outline"
)

const urlFetchTimeout = 20 * time.Second

type outlineRequest struct {
	Content  string `json:"content"`
	URL      string `json:"url"`
	Question string `json:"question"`
	// Provider is "openai" (default) or "gemini".
	Provider string `json:"provider"`
}

func handleGetOutline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req outlineRequest
		if !decodeBody(w, r, &req) {
			return
		}

		content := req.Content
		if req.URL != "" {
			ctx, cancel := context.WithTimeout(r.Context(), urlFetchTimeout)
			defer cancel()
			text, err := outline.Fetch(ctx, deps.HTTPClient, req.URL)
			if err != nil {
				httpError(w, http.StatusBadGateway, "api_error", "failed to fetch url: %v", err)
				return
			}
			content = text
		}
		if strings.TrimSpace(content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "one of content or url is required")
			return
		}

		if _, err := s.OutlineContent(r.Context(), content, req.Provider); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineExpand(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req outlineRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if _, err := s.ExpandOutline(r.Context(), chi.URLParam(r, "itemID"), req.Provider); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req outlineRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		if _, _, err := s.AskOutline(r.Context(), chi.URLParam(r, "itemID"), req.Question, req.Provider); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineToggle(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req struct {
			Expanded *bool `json:"expanded"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Expanded == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "expanded is required")
			return
		}
		if err := s.Outline.SetExpanded(chi.URLParam(r, "itemID"), *req.Expanded); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineDelete(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		if err := s.Outline.Delete(chi.URLParam(r, "itemID")); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Outline.Snapshot())
	}
}

func handleOutlineMarkdown(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(s.Outline.Markdown()))
	}
}

func handleOutlineHTML(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		out, err := s.Outline.HTML()
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(out))
	}
}
