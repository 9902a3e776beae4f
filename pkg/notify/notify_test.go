package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybot/pkg/store"
)

type recordingSender struct {
	mu    sync.Mutex
	sends []string // "handle|text"
	fail  bool
}

func (r *recordingSender) Send(userHandle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("transport down")
	}
	r.sends = append(r.sends, userHandle+"|"+text)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends)
}

func newTestHandler(t *testing.T) (*Handler, *recordingSender, store.Store) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "bot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sender := &recordingSender{}
	return New("s3cret", st, sender), sender, st
}

func post(h *Handler, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/notify", strings.NewReader(body))
	if secret != "" {
		req.Header.Set(SecretHeader, secret)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDelivers(t *testing.T) {
	h, sender, st := newTestHandler(t)
	require.NoError(t, st.SaveIdentity(context.Background(), &store.Identity{
		UserHandle: "u1", PlayerUUID: "p-1", Kind: store.KindRegistered,
	}))

	w := post(h, "s3cret", `{"playerUuid":"p-1","transactionUuid":"tx-9","status":"APPROVED","message":"Funds credited"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, sender.count())
	assert.Contains(t, sender.sends[0], "u1|")
	assert.Contains(t, sender.sends[0], "tx-9")
	assert.Contains(t, sender.sends[0], "APPROVED")
	assert.Contains(t, sender.sends[0], "Funds credited")
}

func TestBadSecretRejectedWithoutParsing(t *testing.T) {
	h, sender, _ := newTestHandler(t)

	// Malformed body on purpose: rejection must happen before parsing.
	for range 2 {
		w := post(h, "wrong", `{{{not json`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := post(h, "", `{"playerUuid":"p-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, sender.count())
}

func TestSecretLengthMismatch(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := post(h, "s3cret-but-longer", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUnknownSubjectAcknowledged(t *testing.T) {
	h, sender, _ := newTestHandler(t)

	w := post(h, "s3cret", `{"playerUuid":"p-unmapped","transactionUuid":"tx-1","status":"APPROVED","message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
	assert.Zero(t, sender.count())
}

func TestMalformedBody(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := post(h, "s3cret", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, "s3cret", `{"status":"APPROVED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliveryFailureReported(t *testing.T) {
	h, sender, st := newTestHandler(t)
	require.NoError(t, st.SaveIdentity(context.Background(), &store.Identity{
		UserHandle: "u1", PlayerUUID: "p-1", Kind: store.KindGuest,
	}))
	sender.fail = true

	w := post(h, "s3cret", `{"playerUuid":"p-1","status":"APPROVED"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/notify", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestObserverOutcomes(t *testing.T) {
	h, _, st := newTestHandler(t)
	require.NoError(t, st.SaveIdentity(context.Background(), &store.Identity{
		UserHandle: "u1", PlayerUUID: "p-1", Kind: store.KindGuest,
	}))

	var results []string
	h.SetObserver(func(r string) { results = append(results, r) })

	post(h, "wrong", `{}`)
	post(h, "s3cret", `{"playerUuid":"p-zzz"}`)
	post(h, "s3cret", `{"playerUuid":"p-1","status":"APPROVED"}`)

	assert.Equal(t, []string{"unauthorized", "unknown_subject", "delivered"}, results)
}
