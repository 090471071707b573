package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/rewrite"
)

func newTestRouter(t *testing.T, upstream *httptest.Server) http.Handler {
	t.Helper()
	return newTestRouterWithTimeout(t, upstream, 5*time.Second)
}

func newTestRouterWithTimeout(t *testing.T, upstream *httptest.Server, timeout time.Duration) http.Handler {
	t.Helper()
	log := logging.Discard()
	client := httpclient.NewDirect(upstream.Client(), log)
	h := New(client, rewrite.New("/proxy", log), Options{
		SegmentTimeout: timeout,
		PageTimeout:    timeout,
	}, log)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func proxyPath(target, referer string) string {
	q := url.Values{}
	q.Set("url", target)
	if referer != "" {
		q.Set("referer", referer)
	}
	return "/proxy?" + q.Encode()
}

func TestServeProxy_RewritesManifest(t *testing.T) {
	var gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg/001.ts\n"))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)
	target := upstream.URL + "/hls/master.m3u8"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(target, "https://ref.test/"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), rewrite.ManifestContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, ProxiedBy, rec.Header().Get("X-Proxy-By"))
	assert.Equal(t, "https://ref.test/", gotReferer)

	want := rewrite.ProxyURL("/proxy", upstream.URL+"/hls/seg/001.ts", "https://ref.test/", "")
	assert.Contains(t, rec.Body.String(), want)
	assert.Contains(t, rec.Body.String(), "#EXT-X-TARGETDURATION:6")
}

func TestServeProxy_RewritesManifestByURLWithOpaqueContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:6.0,\nseg/001.ts\n"))
	}))
	defer upstream.Close()
	router := newTestRouter(t, upstream)

	tests := []struct {
		path    string
		segment string
	}{
		{"/hls/master.m3u8", "/hls/seg/001.ts"},
		{"/hls/p.m3u8&k=v", "/hls/seg/001.ts"},
		{"/play?file=master.m3u8&t=1", "/seg/001.ts"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+tt.path, "https://ref.test/"), nil))

			require.Equal(t, http.StatusOK, rec.Code)
			assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), rewrite.ManifestContentType))
			assert.Contains(t, rec.Body.String(), rewrite.ProxyURL("/proxy", upstream.URL+tt.segment, "https://ref.test/", ""))
		})
	}
}

// stallAfterHeaders sends headers and a partial body, then blocks until the
// request goes away.
func stallAfterHeaders(contentType, partial string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(partial))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}
}

func TestServeProxy_StalledManifestBodyTimesOut(t *testing.T) {
	upstream := httptest.NewServer(stallAfterHeaders(rewrite.ManifestContentType, "#EXTM3U\n"))
	defer upstream.Close()
	router := newTestRouterWithTimeout(t, upstream, 200*time.Millisecond)

	start := time.Now()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+"/hls/master.m3u8", ""), nil))

	assert.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "proxy request failed", body["error"])
	assert.Contains(t, body["details"], "deadline exceeded")
}

func TestServeProxy_DefaultRefererAndRefAlias(t *testing.T) {
	var referers []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		referers = append(referers, r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("ts"))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)
	target := upstream.URL + "/a/seg.ts"

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(target, ""), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy?url="+url.QueryEscape(target)+"&ref="+url.QueryEscape("https://alias.test/"), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, referers, 2)
	assert.Equal(t, upstream.URL+"/", referers[0])
	assert.Equal(t, "https://alias.test/", referers[1])
}

func TestServeProxy_PassesRangeThrough(t *testing.T) {
	payload := []byte("0123456789")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeContent(w, r, "seg.ts", time.Time{}, bytes.NewReader(payload))
	}))
	defer upstream.Close()

	router := newTestRouter(t, upstream)
	req := httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+"/seg.ts", "https://ref.test/"), nil)
	req.Header.Set("Range", "bytes=0-3")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-3/10", rec.Header().Get("Content-Range"))
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "0123", rec.Body.String())
}

func TestServeProxy_UpstreamCacheControlWins(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=5")
		_, _ = w.Write([]byte("key"))
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+"/k.key", "https://ref.test/"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "max-age=5", rec.Header().Get("Cache-Control"))
}

func TestServeProxy_Head(t *testing.T) {
	payload := []byte("0123456789")
	var method string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeContent(w, r, "seg.ts", time.Time{}, bytes.NewReader(payload))
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodHead, proxyPath(upstream.URL+"/seg.ts", "https://ref.test/"), nil))

	assert.Equal(t, http.MethodHead, method)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestServeProxy_HeadWithRange(t *testing.T) {
	payload := make([]byte, 4096)
	var gotRange string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Type", "video/mp2t")
		http.ServeContent(w, r, "seg.ts", time.Time{}, bytes.NewReader(payload))
	}))
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodHead, proxyPath(upstream.URL+"/seg.ts", "https://ref.test/"), nil)
	req.Header.Set("Range", "bytes=0-1023")
	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, req)

	assert.Equal(t, "bytes=0-1023", gotRange)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-1023/4096", rec.Header().Get("Content-Range"))
	assert.Equal(t, "1024", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Body.String())
}

func TestServeProxy_Options(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodOptions, "/proxy", nil)
	req.Header.Set("Origin", "https://app.test")
	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.test", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Range")
}

func TestServeProxy_RejectsMissingTarget(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	router := newTestRouter(t, upstream)

	for _, path := range []string{"/proxy", "/proxy?url=", "/proxy?url=seg.ts"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
	}
}

func TestServeProxy_UpstreamFailureIsJSON500(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	router := newTestRouter(t, upstream)
	dead := upstream.URL + "/seg.ts"
	upstream.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(dead, "https://ref.test/"), nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "proxy request failed", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestServeProxy_ManifestUpstreamErrorIs500(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+"/index.m3u8", "https://ref.test/"), nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "403")
}

func TestServeProxy_SegmentStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, proxyPath(upstream.URL+"/seg.ts", "https://ref.test/"), nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeFrame(t *testing.T) {
	var gotAccept, gotReferer string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		_, _ = w.Write([]byte(`<html><head lang="en"><meta http-equiv="refresh" content="0;url=/away"><title>p</title></head><body></body></html>`))
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame?src="+url.QueryEscape(upstream.URL+"/embed/1"), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, httpclient.AcceptHTML, gotAccept)
	assert.Equal(t, upstream.URL+"/", gotReferer)

	body := rec.Body.String()
	assert.NotContains(t, body, "http-equiv")
	assert.Contains(t, body, `<head lang="en"><base href="`+upstream.URL+`/">`+frameGuard+`<title>`)
}

func TestServeFrame_StalledBodyTimesOut(t *testing.T) {
	upstream := httptest.NewServer(stallAfterHeaders("text/html", "<html><head>"))
	defer upstream.Close()
	router := newTestRouterWithTimeout(t, upstream, 200*time.Millisecond)

	start := time.Now()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame?url="+url.QueryEscape(upstream.URL+"/embed/1"), nil))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServeFrame_MissingTarget(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()

	rec := httptest.NewRecorder()
	newTestRouter(t, upstream).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frame", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInjectFrameGuard(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "adds base when absent",
			page: "<html><HEAD><p>x</p></HEAD></html>",
			want: `<html><HEAD><base href="https://h.test/">` + frameGuard + "<p>x</p></HEAD></html>",
		},
		{
			name: "keeps existing base",
			page: `<head><base href="/x/"></head>`,
			want: `<head>` + frameGuard + `<base href="/x/"></head>`,
		},
		{
			name: "strips refresh without head",
			page: `<meta http-equiv='refresh' content='1'><p>x</p>`,
			want: `<p>x</p>`,
		},
		{
			name: "ignores header element",
			page: `<header></header><head></head>`,
			want: `<header></header><head><base href="https://h.test/">` + frameGuard + `</head>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InjectFrameGuard(tt.page, "https://h.test/"))
		})
	}
}

func TestGuessContentType(t *testing.T) {
	assert.Equal(t, "video/mp2t", guessContentType("https://h/seg.TS?x=1"))
	assert.Equal(t, "text/vtt", guessContentType("https://h/sub.vtt#t"))
	assert.Equal(t, "application/octet-stream", guessContentType("https://h/blob"))
}
