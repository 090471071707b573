package app

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/headerinject"
	"stream-resolver-go/pkg/playback"
)

func TestNew_WiresRoutes(t *testing.T) {
	a, err := New(config.Defaults(), io.Discard)
	require.NoError(t, err)
	defer a.Shutdown()

	h := a.Server.Handler()
	for path, want := range map[string]int{
		"/healthz":  http.StatusOK,
		"/api/info": http.StatusOK,
		"/metrics":  http.StatusOK,
		"/proxy":    http.StatusBadRequest,
		"/frame":    http.StatusBadRequest,
		"/resolve":  http.StatusBadRequest,
		"/iframe":   http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, rec.Code, path)
	}
	assert.Nil(t, a.Progress)
	assert.Equal(t, []string{"vidfast", "videasy"}, a.Providers.Order("auto"))
}

func TestNewController_Idle(t *testing.T) {
	a, err := New(config.Defaults(), io.Discard)
	require.NoError(t, err)

	c := a.NewController("http://127.0.0.1:1", nil)
	assert.Equal(t, playback.StateIdle, c.State())
	c.Close()
}

type recordingSender struct {
	got   []headerinject.Message
	reply headerinject.Reply
}

func (r *recordingSender) HandleMessage(msg headerinject.Message) headerinject.Reply {
	r.got = append(r.got, msg)
	return r.reply
}

func TestFanout(t *testing.T) {
	ok := &recordingSender{reply: headerinject.Reply{T: "set-headers", OK: true, Host: "a"}}
	bad := &recordingSender{reply: headerinject.Reply{T: "set-headers", Error: "nope"}}
	after := &recordingSender{reply: headerinject.Reply{OK: true}}

	reply := fanout{ok, bad, after}.HandleMessage(headerinject.Message{T: "set-headers"})
	assert.False(t, reply.OK)
	assert.Equal(t, "nope", reply.Error)
	assert.Len(t, ok.got, 1)
	assert.Empty(t, after.got)

	reply = fanout{ok, after}.HandleMessage(headerinject.Message{T: "ping"})
	assert.True(t, reply.OK)
	assert.Len(t, after.got, 1)
}
