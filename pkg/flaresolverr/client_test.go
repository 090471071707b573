package flaresolverr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-resolver-go/pkg/logging"
)

func newSolverServer(t *testing.T, resp Response) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "request.get", req.Cmd)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClient_Get_Success(t *testing.T) {
	server := newSolverServer(t, Response{
		Status: "ok",
		Solution: Solution{
			URL:      "https://vidfast.pro/e/1",
			Status:   200,
			Response: "<html>player</html>",
			Cookies:  []Cookie{{Name: "cf_clearance", Value: "tok", Domain: ".vidfast.pro"}},
		},
	})

	client := NewClient(server.URL, 30*time.Second, logging.Discard())
	resp, err := client.Get(context.Background(), "https://vidfast.pro/e/1", nil)
	require.NoError(t, err)

	assert.Equal(t, "<html>player</html>", resp.Solution.Response)
	require.Len(t, resp.Solution.Cookies, 1)
	assert.Equal(t, "cf_clearance", resp.Solution.Cookies[0].Name)
}

func TestClient_Solve(t *testing.T) {
	server := newSolverServer(t, Response{
		Status:   "ok",
		Solution: Solution{Status: 200, Response: `file: "https://cdn.test/master.m3u8"`},
	})

	client := NewClient(server.URL+"/", 30*time.Second, logging.Discard())
	body, status, err := client.Solve(context.Background(), "https://vidfast.pro/e/1")
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Contains(t, body, "master.m3u8")
}

func TestClient_Solve_Unconfigured(t *testing.T) {
	client := NewClient("", time.Second, logging.Discard())
	_, _, err := client.Solve(context.Background(), "https://vidfast.pro/e/1")
	assert.Error(t, err)

	var nilClient *Client
	assert.False(t, nilClient.IsConfigured())
}

func TestClient_Get_Error(t *testing.T) {
	server := newSolverServer(t, Response{Status: "error", Message: "Cloudflare challenge failed"})

	client := NewClient(server.URL, 30*time.Second, logging.Discard())
	_, err := client.Get(context.Background(), "https://example.com", nil)
	require.Error(t, err)
	assert.Equal(t, "FlareSolverr error: Cloudflare challenge failed", err.Error())
}

func TestClient_Get_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, 30*time.Second, logging.Discard())
	_, err := client.Get(context.Background(), "https://example.com", nil)
	assert.Error(t, err)
}

func TestClient_ToHTTPCookies(t *testing.T) {
	client := NewClient("http://localhost:8191", 30*time.Second, logging.Discard())

	cookies := client.ToHTTPCookies([]Cookie{
		{Name: "cf_clearance", Value: "v", Domain: ".example.com", Path: "/", Secure: true, HTTPOnly: true, Expires: 1735689600},
		{Name: "session", Value: "abc123", Domain: "example.com"},
	})

	require.Len(t, cookies, 2)
	assert.Equal(t, "cf_clearance", cookies[0].Name)
	assert.True(t, cookies[0].Secure)
	assert.True(t, cookies[0].HttpOnly)
	assert.False(t, cookies[0].Expires.IsZero())
	assert.True(t, cookies[1].Expires.IsZero())
}

func TestIsChallengeStatus(t *testing.T) {
	assert.True(t, IsChallengeStatus(403))
	assert.True(t, IsChallengeStatus(503))
	assert.False(t, IsChallengeStatus(404))
}
