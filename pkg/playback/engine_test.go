package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stream-resolver-go/pkg/types"
)

const masterPlaylist = "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow/index.m3u8\n"

const mediaPlaylist = "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nseg0.ts\n#EXTINF:6.0,\nseg1.ts\n#EXTINF:4.0,\nseg2.ts\n#EXT-X-ENDLIST\n"

func TestHLSEngine_LoadsFirstVariant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hls/master.m3u8":
			assert.Equal(t, "https://vidfast.pro/", r.Header.Get("Referer"))
			_, _ = w.Write([]byte(masterPlaylist))
		case "/hls/low/index.m3u8":
			_, _ = w.Write([]byte(mediaPlaylist))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	e := NewHLSEngine(server.Client())
	defer e.Destroy()

	err := e.Load(context.Background(), Source{URL: server.URL + "/hls/master.m3u8", Headers: map[string]string{"Referer": "https://vidfast.pro/"}})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Segments())
}

func TestHLSEngine_FatalErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/page.m3u8" {
			_, _ = w.Write([]byte("<html>blocked</html>"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	e := NewHLSEngine(server.Client())
	defer e.Destroy()

	err := e.Load(context.Background(), Source{URL: server.URL + "/page.m3u8"})
	assert.ErrorIs(t, err, types.ErrEngineFatal)

	err = e.Load(context.Background(), Source{URL: server.URL + "/denied.m3u8"})
	assert.ErrorIs(t, err, types.ErrEngineFatal)
	var upstream *types.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, http.StatusForbidden, upstream.Status)
}

func TestHLSEngine_DestroyAbortsInFlightLoad(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	e := NewHLSEngine(&http.Client{Transport: transport})

	done := make(chan error, 1)
	go func() {
		done <- e.Load(context.Background(), Source{URL: server.URL + "/slow.m3u8"})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
	e.Destroy()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Load did not return after Destroy")
	}

	assert.ErrorIs(t, e.Load(context.Background(), Source{URL: server.URL}), ErrEngineDestroyed)
}

func TestSettlement_FirstOutcomeWins(t *testing.T) {
	s := newSettlement()
	s.settle(nil)
	s.settle(errors.New("late error"))
	assert.NoError(t, <-s.done)

	select {
	case err := <-s.done:
		t.Fatalf("settled twice: %v", err)
	default:
	}
}

func TestFirstVariant(t *testing.T) {
	assert.Equal(t, "low/index.m3u8", firstVariant(masterPlaylist))
	assert.Empty(t, firstVariant(mediaPlaylist))
}
