// Package api exposes sessions, generation streams, the board feed and the
// key store over HTTP, and the same operations as MCP tools.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ideaboard/internal/config"
	"github.com/kalambet/ideaboard/internal/connections"
	"github.com/kalambet/ideaboard/internal/studio"
)

// AppDeps holds dependencies for the HTTP API.
type AppDeps struct {
	Studio      *studio.Studio
	Keys        *config.KeyStore
	Connections *connections.Tester
	Token       string
	// HTTPClient fetches outline sources given by URL.
	HTTPClient    *http.Client
	RatePerMinute int
	Burst         int
}

// NewAppHandler returns the API router. Everything except /health requires
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	limited := RateLimit(newLimiter(deps.RatePerMinute, deps.Burst))

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/keys", handleGetKeys(deps))
		r.Put("/keys/{provider}", handlePutKey(deps))
		r.With(limited).Post("/connections/test", handleTestConnections(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions", handleListSessions(deps))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps))
			r.Patch("/", handleUpdateSession(deps))
			r.Delete("/", handleDeleteSession(deps))
			r.Get("/history", handleHistory(deps))
			r.Get("/ws", handleBoardFeed(deps))

			r.Route("/outline", func(r chi.Router) {
				r.Get("/", handleGetOutline(deps))
				r.With(limited).Post("/", handleOutlineContent(deps))
				r.With(limited).Post("/{itemID}/expand", handleOutlineExpand(deps))
				r.With(limited).Post("/{itemID}/ask", handleOutlineAsk(deps))
				r.Patch("/{itemID}", handleOutlineToggle(deps))
				r.Delete("/{itemID}", handleOutlineDelete(deps))
			})
			r.Get("/outline.md", handleOutlineMarkdown(deps))
			r.Get("/outline.html", handleOutlineHTML(deps))

			r.Route("/canvas", func(r chi.Router) {
				r.Get("/", handleGetCanvas(deps))
				r.Post("/", handlePasteImage(deps))
				r.With(limited).Post("/caption", handleCaptionAll(deps))
				r.With(limited).Post("/blend", handleBlend(deps))
				r.Patch("/{imageID}", handleUpdateImage(deps))
				r.Delete("/{imageID}", handleDeleteImage(deps))
				r.With(limited).Post("/{imageID}/caption", handleCaptionImage(deps))
			})

			r.Route("/{feature}", func(r chi.Router) {
				r.Get("/", handleGetItems(deps))
				r.With(limited).Post("/generate", handleGenerate(deps))
				r.Post("/stop", handleStop(deps))
				r.Post("/reject-unpinned", handleRejectUnpinned(deps))
				r.With(limited).Post("/items", handleAddItem(deps))
				r.Patch("/items/{itemID}", handleEditItem(deps))
				r.Delete("/items/{itemID}", handleRemoveItem(deps))
				r.Post("/items/{itemID}/pin", handlePinItem(deps))
				r.Post("/items/{itemID}/reject", handleRejectItem(deps))
				r.Post("/items/{itemID}/render", handleRenderItem(deps))
				r.With(limited).Post("/items/{itemID}/regenerate", handleRegenerateItem(deps))
				r.Delete("/rejected", handleClearRejected(deps))
				r.Post("/rejected/{itemID}/revert", handleRevertItem(deps))
				r.Post("/rejected/{itemID}/restore", handleRestoreItem(deps))
			})
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// session loads the session named in the URL, writing the error response
// when it cannot.
func session(deps AppDeps, w http.ResponseWriter, r *http.Request) (*studio.Session, bool) {
	s, err := deps.Studio.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return nil, false
	}
	return s, true
}

// board loads the session and the feature board named in the URL.
func board(deps AppDeps, w http.ResponseWriter, r *http.Request) (*studio.Session, studio.Feature, studio.Items, bool) {
	s, ok := session(deps, w, r)
	if !ok {
		return nil, "", nil, false
	}
	f, err := studio.ParseFeature(chi.URLParam(r, "feature"))
	if err != nil {
		writeErr(w, err)
		return nil, "", nil, false
	}
	items, err := s.Items(f)
	if err != nil {
		writeErr(w, err)
		return nil, "", nil, false
	}
	return s, f, items, true
}

func queryInt(r *http.Request, name string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
