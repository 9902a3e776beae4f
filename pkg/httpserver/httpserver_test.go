package httpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybot/pkg/chat"
)

type echoDispatcher struct {
	last chat.Event
}

func (d *echoDispatcher) Dispatch(_ context.Context, ev chat.Event) (chat.Action, error) {
	d.last = ev
	return chat.Send("echo:" + string(ev.Kind)), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *echoDispatcher) {
	t.Helper()
	d := &echoDispatcher{}
	notify := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s := New(":0", notify, d, 5*1024*1024)
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)
	return srv, d
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEventTextRoundTrip(t *testing.T) {
	srv, d := newTestServer(t)

	resp, err := http.Post(srv.URL+"/event", "application/json",
		strings.NewReader(`{"userHandle":"u1","kind":"text","text":"/start"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var act chat.Action
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&act))
	assert.Equal(t, "echo:text", act.Text)
	assert.Equal(t, chat.EventText, d.last.Kind)
	assert.Equal(t, "/start", d.last.Text)
}

func TestEventFileDecodesBase64(t *testing.T) {
	srv, d := newTestServer(t)

	payload := `{"userHandle":"u1","kind":"file","file":{"name":"a.jpg","contentType":"image/jpeg","data":"` +
		base64.StdEncoding.EncodeToString([]byte("jpegdata")) + `"}}`
	resp, err := http.Post(srv.URL+"/event", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NotNil(t, d.last.File)
	assert.Equal(t, []byte("jpegdata"), d.last.File.Data)
	assert.Equal(t, "a.jpg", d.last.File.Name)
}

func TestEventRejectsOversizedBody(t *testing.T) {
	d := &echoDispatcher{}
	notify := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	// Tiny upload cap so the oversized body stays small.
	s := New(":0", notify, d, 64)
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)

	body := `{"userHandle":"u1","kind":"file","file":{"name":"a.jpg","contentType":"image/jpeg","data":"` +
		strings.Repeat("A", 70*1024) + `"}}`
	resp, err := http.Post(srv.URL+"/event", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestEventRejectsMalformed(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, body := range []string{
		`not json`,
		`{"kind":"text","text":"hi"}`,
		`{"userHandle":"u1","kind":"teleport"}`,
		`{"userHandle":"u1","kind":"file"}`,
		`{"userHandle":"u1","kind":"file","file":{"data":"%%%"}}`,
	} {
		resp, err := http.Post(srv.URL+"/event", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}
