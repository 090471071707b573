package proxy

import (
	"io"
	"net/http"
	"regexp"
	"strings"

	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/metrics"
	"stream-resolver-go/pkg/middleware"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

const maxFrameBytes = 8 << 20

// frameGuard keeps a framed player from navigating the embedding page.
const frameGuard = `<script>(function(){try{Object.defineProperty(window,"top",{get:function(){return window}});Object.defineProperty(window,"parent",{get:function(){return window}})}catch(e){}try{window.open=function(){return null}}catch(e){}window.addEventListener("click",function(ev){try{var t=ev.target;if(t&&t.target&&(t.target==="_top"||t.target==="_parent")){t.removeAttribute("target")}}catch(e){}},true)}())</script>`

var (
	metaRefreshRe = regexp.MustCompile(`(?i)<meta[^>]*http-equiv=["']?refresh["']?[^>]*>`)
	baseTagRe     = regexp.MustCompile(`(?i)<base\b[^>]*>`)
	headOpenRe    = regexp.MustCompile(`(?i)<head(\b[^>]*)?>`)
)

// ServeFrame fetches an upstream HTML page for embedding in an iframe.
//
// Trust boundary: the upstream X-Frame-Options and Content-Security-Policy
// headers are dropped on purpose so third-party players can be framed. This
// lowers the isolation the upstream site asked for and is confined to this
// endpoint; the media proxy never strips them.
func (h *Handler) ServeFrame(w http.ResponseWriter, r *http.Request) {
	middleware.SetCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	q := r.URL.Query()
	target := strings.TrimSpace(q.Get("url"))
	if target == "" {
		target = strings.TrimSpace(q.Get("src"))
	}
	if target == "" || !urlutil.IsAbsolute(target) {
		metrics.ObserveProxy("invalid", http.StatusBadRequest)
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": types.ErrMissingTarget.Error()})
		return
	}

	originRoot := urlutil.OriginReferer(target)
	referer := q.Get("referer")
	if referer == "" {
		referer = originRoot
	}
	headers := map[string]string{
		"User-Agent":      httpclient.DefaultUserAgent,
		"Accept":          httpclient.AcceptHTML,
		"Accept-Language": "en-US,en;q=0.9",
		"Referer":         referer,
		"Origin":          strings.TrimSuffix(originRoot, "/"),
	}

	resp, cancel, err := h.send(r.Context(), http.MethodGet, target, headers, h.pageTimeout)
	if err != nil {
		h.fail(w, target, err)
		return
	}
	defer cancel()
	defer resp.Body.Close()

	body, err := readBody(resp.Body, cancel, maxFrameBytes, h.pageTimeout)
	if err != nil {
		h.fail(w, target, err)
		return
	}

	page := InjectFrameGuard(string(body), originRoot)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Proxy-By", ProxiedBy)
	w.WriteHeader(http.StatusOK)
	n, _ := io.WriteString(w, page)
	metrics.ObserveProxy("frame", http.StatusOK)
	metrics.AddProxyBytes(int64(n))
}

// InjectFrameGuard strips meta refresh tags and inserts, right after
// <head>, a <base href> for baseHref (only when the page has no <base>)
// followed by the navigation guard script.
func InjectFrameGuard(page, baseHref string) string {
	page = metaRefreshRe.ReplaceAllString(page, "")

	inject := frameGuard
	if baseHref != "" && !baseTagRe.MatchString(page) {
		inject = `<base href="` + baseHref + `">` + frameGuard
	}

	loc := headOpenRe.FindStringIndex(page)
	if loc == nil {
		return page
	}
	return page[:loc[1]] + inject + page[loc[1]:]
}
