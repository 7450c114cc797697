package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ideaboard/internal/config"
)

type sessionRequest struct {
	Title  *string `json:"title"`
	Parti  *string `json:"parti"`
	Domain *string `json:"domain"`
}

type sessionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func handleGetKeys(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Keys.Masked())
	}
}

func handlePutKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		p := chi.URLParam(r, "provider")
		if err := deps.Keys.Set(p, strings.TrimSpace(req.Key)); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"provider": p, "key": config.MaskKey(deps.Keys.Get(p))})
	}
}

func handleTestConnections(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider string `json:"provider"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Provider == "" {
			writeJSON(w, http.StatusOK, deps.Connections.TestAll(r.Context()))
			return
		}
		res, err := deps.Connections.Test(r.Context(), req.Provider)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleCreateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		var title, parti, domain string
		if req.Title != nil {
			title = *req.Title
		}
		if req.Parti != nil {
			parti = *req.Parti
		}
		if req.Domain != nil {
			domain = *req.Domain
		}
		s, err := deps.Studio.Create(title, parti, domain)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s.Snapshot())
	}
}

func handleListSessions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Studio.List(queryInt(r, "limit", 50))
		if err != nil {
			writeErr(w, err)
			return
		}
		out := make([]sessionSummary, len(rows))
		for i, s := range rows {
			out[i] = sessionSummary{
				ID:        s.ID,
				Title:     s.Title,
				CreatedAt: s.CreatedAt.Format(time.RFC3339),
				UpdatedAt: s.UpdatedAt.Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleUpdateSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		var req sessionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		s.Update(req.Title, req.Parti, req.Domain)
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleDeleteSession(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Studio.Delete(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := session(deps, w, r)
		if !ok {
			return
		}
		gens, err := deps.Studio.History(s.ID, queryInt(r, "limit", 20))
		if err != nil {
			writeErr(w, err)
			return
		}
		type entry struct {
			ID        string `json:"id"`
			Feature   string `json:"feature"`
			Model     string `json:"model"`
			ItemCount int    `json:"item_count"`
			Status    string `json:"status"`
			Error     string `json:"error,omitempty"`
			CreatedAt string `json:"created_at"`
		}
		out := make([]entry, len(gens))
		for i, g := range gens {
			out[i] = entry{g.ID, g.Feature, g.Model, g.ItemCount, g.Status, g.Error, g.CreatedAt.Format(time.RFC3339)}
		}
		writeJSON(w, http.StatusOK, out)
	}
}
