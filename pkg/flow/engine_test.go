package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paybot/pkg/chat"
	"paybot/pkg/config"
	"paybot/pkg/gateway"
	"paybot/pkg/intake"
	"paybot/pkg/limiter"
	"paybot/pkg/store"
)

// backendStub fakes the payment backend for engine tests. It records
// create-transaction submissions so tests can assert exact field sets.
type backendStub struct {
	srv *httptest.Server

	mu          sync.Mutex
	createCalls int
	lastCreate  map[string]string
	lastHadFile bool
	failCreate  int // HTTP status forced on create, 0 for success
	loginFails  bool
}

func newBackendStub(t *testing.T) *backendStub {
	t.Helper()
	b := &backendStub{}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /config/languages", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"languages":[
			{"code":"en","name":"English"},
			{"code":"am","name":"Amharic"},
			{"code":"om","name":"Oromo"}]}`)
	})
	mux.HandleFunc("GET /config/welcome", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":"Welcome to the cashier!","languageCode":"en"}`)
	})
	mux.HandleFunc("GET /config/deposit-banks", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"depositBanks":[
			{"id":7,"bankName":"CBE","accountNumber":"000111222333","accountName":"Cashier Ltd"}]}`)
	})
	mux.HandleFunc("GET /config/withdrawal-banks", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"withdrawalBanks":[
			{"id":9,"bankName":"Dashen","requiredFields":[
				{"name":"accountNumber","label":"Account number","type":"text","required":true},
				{"name":"holderName","label":"Account holder","type":"text","required":true}]}]}`)
	})
	mux.HandleFunc("GET /config/betting-sites", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"bettingSites":[{"id":3,"name":"SiteX","isActive":true}]}`)
	})
	mux.HandleFunc("POST /players", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":"created","player":{"playerUuid":"p-guest-1","isTemporary":true}}`)
	})
	mux.HandleFunc("POST /players/register", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":"created","player":{"playerUuid":"p-reg-1"}}`)
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		fails := b.loginFails
		b.mu.Unlock()
		if fails {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized","message":"invalid credentials"}`)
			return
		}
		fmt.Fprint(w, `{"user":{"id":42}}`)
	})
	mux.HandleFunc("GET /players/user/42", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"player":{"playerUuid":"p-reg-1","languageCode":"en"}}`)
	})
	mux.HandleFunc("POST /transactions", b.handleCreate)
	mux.HandleFunc("GET /transactions", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"transactions":[
			{"transactionUuid":"aaaa-1","type":"DEPOSIT","amount":"100.00","currency":"ETB","status":"PENDING"},
			{"transactionUuid":"bbbb-2","type":"WITHDRAW","amount":"50.00","currency":"ETB","status":"APPROVED"}],
			"pagination":{"totalPages":1}}`)
	})
	mux.HandleFunc("GET /transactions/{uuid}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"transaction":{"transactionUuid":%q,"type":"DEPOSIT","amount":"100.00","currency":"ETB","status":"PENDING","createdAt":"2026-08-20T10:00:00Z"}}`,
			r.PathValue("uuid"))
	})

	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backendStub) handleCreate(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.createCalls++

	if b.failCreate != 0 {
		w.WriteHeader(b.failCreate)
		fmt.Fprint(w, `{"error":"failure","message":"backend said no"}`)
		return
	}

	fields := map[string]string{}
	hadFile := false
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var raw map[string]any
		_ = json.NewDecoder(r.Body).Decode(&raw)
		for k, v := range raw {
			fields[k] = fmt.Sprint(v)
		}
	} else {
		_ = r.ParseMultipartForm(16 << 20)
		for k, vs := range r.MultipartForm.Value {
			fields[k] = vs[0]
		}
		if _, _, err := r.FormFile("screenshot"); err == nil {
			hadFile = true
		}
	}
	b.lastCreate = fields
	b.lastHadFile = hadFile

	fmt.Fprint(w, `{"transaction":{"transactionUuid":"tx-new","type":"DEPOSIT","amount":"100.00","currency":"ETB","status":"PENDING"}}`)
}

func (b *backendStub) creates() (int, map[string]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createCalls, b.lastCreate, b.lastHadFile
}

type env struct {
	t       *testing.T
	engine  *Engine
	store   store.Store
	backend *backendStub
	nowMu   sync.Mutex
	nowAt   time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b := newBackendStub(t)

	cfg := config.Defaults()
	cfg.APIBaseURL = b.srv.URL

	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "bot.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	api := gateway.New(b.srv.URL, 2*time.Second)
	api.SetRetryConfig(gateway.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Backoff: 1.0})

	in, err := intake.New(t.TempDir(), intake.DefaultPolicy(cfg.MaxUploadBytes))
	require.NoError(t, err)

	e := &env{t: t, store: st, backend: b, nowAt: time.Now()}
	e.engine = New(&cfg, st, api, in)
	e.engine.now = e.now
	return e
}

func (e *env) now() time.Time {
	e.nowMu.Lock()
	defer e.nowMu.Unlock()
	return e.nowAt
}

func (e *env) advance(d time.Duration) {
	e.nowMu.Lock()
	e.nowAt = e.nowAt.Add(d)
	e.nowMu.Unlock()
}

func (e *env) handle(ev chat.Event) chat.Action {
	e.t.Helper()
	act, err := e.engine.HandleEvent(context.Background(), ev)
	require.NoError(e.t, err)
	e.checkInvariant(ev.UserHandle)
	return act
}

func (e *env) text(u, s string) chat.Action {
	return e.handle(chat.Event{UserHandle: u, Kind: chat.EventText, Text: s})
}

func (e *env) tap(u, tok string) chat.Action {
	return e.handle(chat.Event{UserHandle: u, Kind: chat.EventSelection, Token: tok})
}

func (e *env) sendFile(u, name, ct string, data []byte) chat.Action {
	return e.handle(chat.Event{UserHandle: u, Kind: chat.EventFile,
		File: &chat.FilePayload{Name: name, ContentType: ct, Data: data}})
}

func (e *env) session(u string) *Session {
	e.t.Helper()
	s, err := e.engine.loadSession(context.Background(), u)
	require.NoError(e.t, err)
	return s
}

// checkInvariant asserts the persisted step always belongs to the persisted
// flow's step set.
func (e *env) checkInvariant(u string) {
	e.t.Helper()
	s := e.session(u)
	assert.True(e.t, ValidStep(s.Flow, s.Step), "flow %s step %s", s.Flow, s.Step)
}

func (e *env) seedIdentity(u, uuid string, kind store.IdentityKind) {
	e.t.Helper()
	require.NoError(e.t, e.store.SaveIdentity(context.Background(), &store.Identity{
		UserHandle: u, PlayerUUID: uuid, Kind: kind, Language: "en",
	}))
}

func tokens(act chat.Action) []string {
	var out []string
	for _, row := range act.Choices {
		for _, c := range row {
			out = append(out, c.Token)
		}
	}
	return out
}

func TestStartOffersLanguagesThenWelcome(t *testing.T) {
	e := newEnv(t)

	act := e.text("u1", "/start")
	assert.Equal(t, chat.ActionSend, act.Kind)
	assert.Contains(t, tokens(act), "lang:en")
	assert.Contains(t, tokens(act), "lang:om")
	// Three languages fit one page, so no navigation row.
	assert.Len(t, act.Choices, 3)

	act = e.tap("u1", "lang:en")
	assert.Contains(t, act.Text, "Welcome")
	assert.Contains(t, tokens(act), tokMenuDeposit)

	s := e.session("u1")
	assert.Equal(t, FlowIdle, s.Flow)
	assert.Empty(t, s.Fields)

	id, err := e.store.Identity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "p-guest-1", id.PlayerUUID)
	assert.Equal(t, store.KindGuest, id.Kind)
	assert.Equal(t, "en", id.Language)
}

func TestStartWithKnownLanguageSkipsList(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)

	act := e.text("u1", "/start")
	assert.Contains(t, act.Text, "Welcome to the cashier!")
	assert.Contains(t, tokens(act), tokMenuRegister)
}

func TestDepositHappyPath(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)

	act := e.tap("u1", tokMenuDeposit)
	assert.Contains(t, tokens(act), "dep_bank:7")

	act = e.tap("u1", "dep_bank:7")
	assert.Contains(t, act.Text, "CBE")
	assert.Contains(t, act.Text, "000111222333")
	assert.Equal(t, StepEnterAmount, e.session("u1").Step)

	act = e.tap("u1", "site:3") // wrong step for this token
	assert.Contains(t, act.Text, "wasn't expecting")

	act = e.text("u1", "100.00")
	assert.Contains(t, tokens(act), "site:3")

	act = e.tap("u1", "site:3")
	assert.Contains(t, act.Text, "player ID")

	act = e.text("u1", "abc123")
	assert.Contains(t, tokens(act), tokSkipScreenshot)

	shot := append([]byte("\xff\xd8\xff"), make([]byte, 2<<20)...)
	act = e.sendFile("u1", "receipt.jpg", "image/jpeg", shot)
	assert.Contains(t, act.Text, "confirm")
	// Account number is masked in the summary.
	assert.Contains(t, act.Text, "3333")
	assert.NotContains(t, act.Text, "000111222333")

	act = e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "tx-new")

	calls, fields, hadFile := e.backend.creates()
	assert.Equal(t, 1, calls)
	assert.True(t, hadFile)
	assert.Equal(t, "p-guest-1", fields["playerUuid"])
	assert.Equal(t, "DEPOSIT", fields["type"])
	assert.Equal(t, "100.00", fields["amount"])
	assert.Equal(t, "ETB", fields["currency"])
	assert.Equal(t, "7", fields["depositBankId"])
	assert.Equal(t, "3", fields["bettingSiteId"])
	assert.Equal(t, "abc123", fields["playerSiteId"])

	s := e.session("u1")
	assert.Equal(t, FlowIdle, s.Flow)
	assert.Empty(t, s.Fields)
}

func TestAmountValidation(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)
	e.tap("u1", "dep_bank:7")

	for _, bad := range []string{"-5", "0", "abc"} {
		act := e.text("u1", bad)
		assert.Contains(t, act.Text, "Invalid amount", "input %q", bad)
		assert.Equal(t, StepEnterAmount, e.session("u1").Step)
	}

	act := e.text("u1", "0.01")
	assert.Equal(t, StepSelectSite, e.session("u1").Step)
	assert.Contains(t, tokens(act), "site:3")
}

func TestStaleSelectionRerenders(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)

	act := e.tap("u1", "dep_bank:999")
	assert.Equal(t, chat.ActionEdit, act.Kind)
	assert.Contains(t, act.Text, "no longer available")
	assert.Equal(t, StepSelectBank, e.session("u1").Step)

	// The re-rendered list still works.
	act = e.tap("u1", "dep_bank:7")
	assert.Contains(t, act.Text, "CBE")
}

func TestExpiredListContext(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)

	e.advance(11 * time.Minute)
	act := e.tap("u1", "dep_bank:7")
	assert.Equal(t, chat.ActionEdit, act.Kind)
	assert.Contains(t, act.Text, "expired")
	assert.Nil(t, e.session("u1").List)
}

func TestStartCancelsMidFlow(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)
	e.tap("u1", "dep_bank:7")
	e.text("u1", "100")

	e.text("u1", "/start")
	s := e.session("u1")
	assert.Equal(t, FlowIdle, s.Flow)
	assert.Empty(t, s.Fields)

	calls, _, _ := e.backend.creates()
	assert.Zero(t, calls)
}

func TestWithdrawFlow(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-reg-1", store.KindRegistered)

	act := e.tap("u1", tokMenuWithdraw)
	assert.Contains(t, tokens(act), "wd_bank:9")

	act = e.tap("u1", "wd_bank:9")
	assert.Contains(t, act.Text, "Account number")

	act = e.text("u1", "000111222333")
	assert.Contains(t, act.Text, "Account holder")

	act = e.text("u1", "Abebe B")
	assert.Contains(t, act.Text, "amount")

	e.tap("u1", "amount:50")
	e.tap("u1", "site:3")
	act = e.text("u1", "abc123")
	assert.Contains(t, act.Text, "confirm")
	assert.Contains(t, act.Text, "********3333")

	act = e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "tx-new")

	calls, fields, hadFile := e.backend.creates()
	assert.Equal(t, 1, calls)
	assert.False(t, hadFile)
	assert.Equal(t, "WITHDRAW", fields["type"])
	assert.Equal(t, "9", fields["withdrawalBankId"])
	assert.Equal(t, "50.00", fields["amount"])
	assert.Equal(t, "000111222333", fields["withdrawalAddress"])
	assert.Equal(t, FlowIdle, e.session("u1").Flow)
}

func TestRegisterFlow(t *testing.T) {
	e := newEnv(t)

	e.tap("u1", tokMenuRegister)
	assert.Equal(t, FlowRegister, e.session("u1").Flow)

	act := e.text("u1", "nope")
	assert.Contains(t, act.Text, "email")

	e.text("u1", "user@example.com")
	act = e.text("u1", "short")
	assert.Contains(t, act.Text, "8 characters")

	e.text("u1", "longenough")
	e.text("u1", "Abebe")
	act = e.tap("u1", tokSkipPhone)
	assert.Contains(t, act.Text, "Account created")

	id, err := e.store.Identity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "p-reg-1", id.PlayerUUID)
	assert.Equal(t, store.KindRegistered, id.Kind)
	assert.Equal(t, FlowIdle, e.session("u1").Flow)
}

func TestLoginFlow(t *testing.T) {
	e := newEnv(t)

	e.tap("u1", tokMenuLogin)
	e.text("u1", "user@example.com")
	act := e.text("u1", "hunter2222")
	assert.Contains(t, act.Text, "Logged in")

	id, err := e.store.Identity(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "p-reg-1", id.PlayerUUID)
	assert.Equal(t, store.KindRegistered, id.Kind)
}

func TestLoginRejected(t *testing.T) {
	e := newEnv(t)
	e.backend.loginFails = true

	e.tap("u1", tokMenuLogin)
	e.text("u1", "user@example.com")
	act := e.text("u1", "wrongpassword")
	assert.Contains(t, act.Text, "invalid credentials")
	assert.Equal(t, FlowIdle, e.session("u1").Flow)
}

func TestLogout(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-reg-1", store.KindRegistered)

	act := e.tap("u1", tokMenuLogout)
	assert.Contains(t, act.Text, "logged out")

	_, err := e.store.Identity(context.Background(), "u1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHistoryBrowsing(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-reg-1", store.KindRegistered)

	act := e.tap("u1", tokMenuHistory)
	assert.Contains(t, tokens(act), "tx:aaaa-1")
	assert.Equal(t, FlowHistory, e.session("u1").Flow)

	act = e.tap("u1", "tx:aaaa-1")
	assert.Contains(t, act.Text, "aaaa-1")
	assert.Contains(t, act.Text, "Reference")
	assert.Contains(t, tokens(act), "hist:page:0")
	assert.Equal(t, FlowHistory, e.session("u1").Flow)

	// Back re-renders the list in place.
	act = e.tap("u1", "hist:page:0")
	assert.Equal(t, chat.ActionEdit, act.Kind)
	assert.Contains(t, tokens(act), "tx:bbbb-2")

	e.text("u1", "/cancel")
	assert.Equal(t, FlowIdle, e.session("u1").Flow)
}

func TestHistoryNeedsIdentity(t *testing.T) {
	e := newEnv(t)
	act := e.tap("u1", tokMenuHistory)
	assert.Contains(t, act.Text, "Register or log in")
	assert.Equal(t, FlowIdle, e.session("u1").Flow)
}

func TestSubmitTransientKeepsFields(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)
	e.tap("u1", "dep_bank:7")
	e.text("u1", "100")
	e.tap("u1", "site:3")
	e.text("u1", "abc123")
	e.tap("u1", tokSkipScreenshot)

	e.backend.mu.Lock()
	e.backend.failCreate = http.StatusServiceUnavailable
	e.backend.mu.Unlock()

	act := e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "temporarily unavailable")

	s := e.session("u1")
	assert.Equal(t, StepAwaitConfirm, s.Step)
	assert.Equal(t, "100.00", s.Fields["amount"])

	// The client retried exactly once.
	calls, _, _ := e.backend.creates()
	assert.Equal(t, 2, calls)

	// A later confirm succeeds with the same fields.
	e.backend.mu.Lock()
	e.backend.failCreate = 0
	e.backend.mu.Unlock()
	act = e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "tx-new")
}

func TestSubmitFailureWithScreenshotAsksForResend(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)
	e.tap("u1", "dep_bank:7")
	e.text("u1", "100")
	e.tap("u1", "site:3")
	e.text("u1", "abc123")
	e.sendFile("u1", "receipt.jpg", "image/jpeg", []byte("\xff\xd8\xffjpeg"))

	e.backend.mu.Lock()
	e.backend.failCreate = http.StatusServiceUnavailable
	e.backend.mu.Unlock()

	// The staged copy is consumed by the attempt, so the retry goes back
	// through the screenshot step instead of re-confirming a lost file.
	act := e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "resend")
	assert.Contains(t, tokens(act), tokSkipScreenshot)

	s := e.session("u1")
	assert.Equal(t, StepAwaitScreenshot, s.Step)
	assert.Empty(t, s.Fields["screenshot"])
	assert.Equal(t, "100.00", s.Fields["amount"])

	// Resending completes the transaction with a file attached.
	e.backend.mu.Lock()
	e.backend.failCreate = 0
	e.backend.mu.Unlock()
	e.sendFile("u1", "receipt.jpg", "image/jpeg", []byte("\xff\xd8\xffjpeg"))
	act = e.tap("u1", tokConfirmYes)
	assert.Contains(t, act.Text, "tx-new")

	_, _, hadFile := e.backend.creates()
	assert.True(t, hadFile)
}

func TestInvalidFileReprompts(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)
	e.tap("u1", "dep_bank:7")
	e.text("u1", "100")
	e.tap("u1", "site:3")
	e.text("u1", "abc123")

	act := e.sendFile("u1", "doc.pdf", "application/pdf", []byte("%PDF-1.4"))
	assert.Contains(t, act.Text, "rejected")
	assert.Equal(t, StepAwaitScreenshot, e.session("u1").Step)
}

func TestClassifyThrottlesOnlySubmissions(t *testing.T) {
	mutating := []chat.Event{
		{UserHandle: "u1", Kind: chat.EventFile, File: &chat.FilePayload{Name: "a.jpg"}},
		{UserHandle: "u1", Kind: chat.EventSelection, Token: tokConfirmYes},
	}
	for _, ev := range mutating {
		assert.Equal(t, limiter.ClassMutating, Classify(ev), "event %+v", ev)
	}

	// Typing and browsing never consume the throttle window; only the
	// submission itself does.
	readOnly := []chat.Event{
		{UserHandle: "u1", Kind: chat.EventText, Text: "100"},
		{UserHandle: "u1", Kind: chat.EventText, Text: "/start"},
		{UserHandle: "u1", Kind: chat.EventSelection, Token: "dep_bank:7"},
		{UserHandle: "u1", Kind: chat.EventSelection, Token: "hist:page:1"},
		{UserHandle: "u1", Kind: chat.EventSelection, Token: tokConfirmNo},
	}
	for _, ev := range readOnly {
		assert.Equal(t, limiter.ClassReadOnly, Classify(ev), "event %+v", ev)
	}
}

func TestMalformedTokenRejected(t *testing.T) {
	e := newEnv(t)
	e.seedIdentity("u1", "p-guest-1", store.KindGuest)
	e.tap("u1", tokMenuDeposit)

	act := e.tap("u1", "dep_bank:7;DROP TABLE")
	assert.Contains(t, act.Text, "wasn't expecting")
	assert.Equal(t, StepSelectBank, e.session("u1").Step)
}
