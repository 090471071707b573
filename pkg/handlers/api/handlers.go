// Package api provides HTTP handlers for the resolver API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/metrics"
	"stream-resolver-go/pkg/middleware"
	"stream-resolver-go/pkg/types"
)

// Version is reported by /api/info.
const Version = "1.0.0"

const maxMessageBytes = 64 << 10

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	// Public routes
	r.Get("/", h.handleIndex)
	r.Get("/healthz", h.handleHealth)
	r.Get("/api/info", h.handleAPIInfo)
	r.Handle("/metrics", metrics.Handler())

	// Resolution routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(h.ctx.Config.ResolveRateLimit, time.Minute))
		r.Get("/resolve", h.handleResolve)
		r.Get("/iframe", h.handleIframe)
	})

	// Header-injection worker messages
	if h.ctx.Worker != nil {
		r.Get("/worker", h.ctx.Worker.ServeWS)
		r.Post("/worker", h.handleWorkerMessage)
	}
}

// handleIndex serves a short endpoint overview.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Stream Resolver</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; background: #0f0f0f; color: #fff; max-width: 760px; margin: 0 auto; padding: 40px 20px; }
        .endpoint { display: flex; gap: 12px; padding: 10px 14px; margin-bottom: 8px; background: #242424; border-radius: 8px; font-family: 'SF Mono', Monaco, monospace; font-size: 0.85rem; }
        .method { background: #3b82f6; padding: 2px 8px; border-radius: 4px; font-weight: 600; }
        .desc { color: #a0a0a0; margin-left: auto; }
    </style>
</head>
<body>
    <h1>Stream Resolver</h1>
    <div class="endpoint"><span class="method">GET</span><span>/resolve?type=movie&amp;id=...</span><span class="desc">Resolve a playable manifest</span></div>
    <div class="endpoint"><span class="method">GET</span><span>/iframe?type=tv&amp;id=...&amp;season=1&amp;episode=1</span><span class="desc">Resolve an embeddable frame</span></div>
    <div class="endpoint"><span class="method">GET</span><span>%s?url=...&amp;referer=...</span><span class="desc">Manifest and segment proxy</span></div>
    <div class="endpoint"><span class="method">GET</span><span>/frame?url=...</span><span class="desc">Frame proxy</span></div>
    <div class="endpoint"><span class="method">GET</span><span>/api/info</span><span class="desc">Server status (JSON)</span></div>
    <p style="color:#a0a0a0">Version %s</p>
</body>
</html>`, h.ctx.Config.ProxyPath, Version)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAPIInfo returns server information as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	var providers []string
	if h.ctx.Providers != nil {
		providers = h.ctx.Providers.Order(types.ProviderAuto)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "running",
		"version":          Version,
		"providers":        providers,
		"default_provider": h.ctx.Config.DefaultProvider,
		"proxy_path":       h.ctx.Config.ProxyPath,
		"worker":           h.ctx.Worker != nil,
	})
}

type resolveResponse struct {
	OK       bool        `json:"ok"`
	Provider string      `json:"provider,omitempty"`
	Embed    string      `json:"embed,omitempty"`
	URL      string      `json:"url,omitempty"`
	Frame    string      `json:"frame,omitempty"`
	Raw      string      `json:"raw,omitempty"`
	Error    string      `json:"error,omitempty"`
	Attempts types.Trace `json:"attempts,omitempty"`
}

func (h *Handlers) handleResolve(w http.ResponseWriter, r *http.Request) {
	req, deep, err := h.parsePlaybackRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, resolveResponse{Error: err.Error()})
		return
	}

	res, err := h.ctx.ResolveService.Resolve(r.Context(), req, deep, "")
	if err != nil {
		h.writeFailure(w, req, err)
		return
	}

	resp := resolveResponse{
		OK:       true,
		Provider: res.Stream.Provider,
		Embed:    res.Stream.EmbedURL,
		URL:      res.ProxyURL,
	}
	if req.Debug {
		resp.Attempts = res.Trace
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleIframe(w http.ResponseWriter, r *http.Request) {
	req, deep, err := h.parsePlaybackRequest(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, resolveResponse{Error: err.Error()})
		return
	}

	res, err := h.ctx.ResolveService.ResolveFrame(r.Context(), req, deep, "")
	if err != nil {
		h.writeFailure(w, req, err)
		return
	}

	resp := resolveResponse{
		OK:       true,
		Provider: res.Frame.Provider,
		Embed:    res.Frame.EmbedURL,
		Frame:    res.FrameURL,
		Raw:      res.Frame.FrameURL,
	}
	if req.Debug {
		resp.Attempts = res.Trace
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) writeFailure(w http.ResponseWriter, req types.PlaybackRequest, err error) {
	resp := resolveResponse{Error: err.Error()}
	var failure *types.ResolutionFailure
	if errors.As(err, &failure) {
		resp.Error = failure.Err.Error()
		if req.Debug {
			resp.Attempts = failure.Trace
			if resp.Attempts == nil {
				resp.Attempts = types.Trace{}
			}
		}
	}
	h.writeJSON(w, http.StatusNotFound, resp)
}

// handleWorkerMessage applies one JSON worker message and returns the reply.
func (h *Handlers) handleWorkerMessage(w http.ResponseWriter, r *http.Request) {
	var msg headerinject.Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageBytes)).Decode(&msg); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	reply := h.ctx.Worker.HandleMessage(msg)
	status := http.StatusOK
	if !reply.OK {
		status = http.StatusBadRequest
	}
	h.writeJSON(w, status, reply)
}

// Helper methods

// parsePlaybackRequest reads provider, type, id, season, episode, embed,
// referer, debug and deep from the query string.
func (h *Handlers) parsePlaybackRequest(r *http.Request) (types.PlaybackRequest, bool, error) {
	q := r.URL.Query()

	req := types.PlaybackRequest{
		MediaType:    types.ParseMediaType(q.Get("type")),
		Provider:     strings.ToLower(strings.TrimSpace(q.Get("provider"))),
		Season:       atoi(q.Get("season")),
		Episode:      atoi(q.Get("episode")),
		Debug:        truthy(q.Get("debug")),
		EmbedURL:     strings.TrimSpace(q.Get("embed")),
		EmbedReferer: strings.TrimSpace(q.Get("referer")),
	}
	if req.Provider == "" {
		req.Provider = types.ProviderAuto
	}

	if id := strings.TrimSpace(q.Get("id")); id != "" {
		n, err := strconv.Atoi(id)
		if err != nil || n <= 0 {
			return req, false, fmt.Errorf("invalid id %q", id)
		}
		req.CatalogID = n
	}
	if req.CatalogID == 0 && req.EmbedURL == "" {
		return req, false, errors.New("missing id or embed")
	}
	if req.Provider != types.ProviderAuto && h.ctx.Providers != nil && h.ctx.Providers.GetByName(req.Provider) == nil {
		return req, false, fmt.Errorf("%w: %s", types.ErrUnknownProvider, req.Provider)
	}

	return req, truthy(q.Get("deep")), nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	middleware.WriteJSON(w, status, data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
