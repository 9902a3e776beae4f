// Package flow is the conversation engine: a per-user state machine that
// sequences prompts, validates input, and drives backend operations to
// complete deposits, withdrawals, account setup and history browsing.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"paybot/pkg/chat"
	"paybot/pkg/config"
	"paybot/pkg/gateway"
	"paybot/pkg/intake"
	"paybot/pkg/limiter"
	"paybot/pkg/logx"
	"paybot/pkg/selector"
	"paybot/pkg/store"
)

// Observer receives one sample per handled event. Wired to the Prometheus
// recorder in production; nil-safe.
type Observer func(flow, outcome string)

// Engine drives one user's conversation per event. Callers must serialize
// events per user handle; the dispatch layer does that.
type Engine struct {
	cfg    *config.Config
	store  store.Store
	api    *gateway.Client
	intake *intake.Intake
	logger *logx.Logger

	observe Observer
	now     func() time.Time

	// staged holds the screenshot a user submitted but has not yet
	// confirmed. Ephemeral by design; a restart just re-prompts.
	mu     sync.Mutex
	staged map[string]*intake.StagedFile
}

// New wires the engine. All collaborators are required.
func New(cfg *config.Config, st store.Store, api *gateway.Client, in *intake.Intake) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  st,
		api:    api,
		intake: in,
		logger: logx.NewLogger("flow"),
		now:    time.Now,
		staged: make(map[string]*intake.StagedFile),
	}
}

// SetObserver installs a per-event metrics hook.
func (e *Engine) SetObserver(o Observer) { e.observe = o }

func (e *Engine) emit(f Flow, outcome string) {
	if e.observe != nil {
		e.observe(string(f), outcome)
	}
}

// Classify labels an inbound event for rate limiting. Only actions that
// submit state to the backend count as mutating; typing and browsing do not.
func Classify(ev chat.Event) limiter.Class {
	switch ev.Kind {
	case chat.EventFile:
		return limiter.ClassMutating
	case chat.EventSelection:
		if ev.Token == tokConfirmYes {
			return limiter.ClassMutating
		}
	}
	return limiter.ClassReadOnly
}

// HandleEvent processes one inbound event and returns the single outbound
// action. User-level problems (bad input, stale tokens, backend rejections)
// come back as actions; the error return is for infrastructure failures only.
func (e *Engine) HandleEvent(ctx context.Context, ev chat.Event) (chat.Action, error) {
	s, err := e.loadSession(ctx, ev.UserHandle)
	if err != nil {
		return chat.Action{}, err
	}

	act := e.dispatch(ctx, s, ev)

	if err := e.saveSession(ctx, s); err != nil {
		return chat.Action{}, err
	}
	return act, nil
}

func (e *Engine) loadSession(ctx context.Context, userHandle string) (*Session, error) {
	data, err := e.store.LoadSession(ctx, userHandle)
	if errors.Is(err, store.ErrNotFound) {
		return newSession(userHandle), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(userHandle, data), nil
}

func (e *Engine) saveSession(ctx context.Context, s *Session) error {
	data, err := s.encode()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := e.store.SaveSession(ctx, s.UserHandle, data); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	// /start and cancel reset from any state. Partial input is dropped on
	// purpose; transactions are never resumed implicitly.
	if ev.Kind == chat.EventText {
		switch strings.TrimSpace(strings.ToLower(ev.Text)) {
		case "/start":
			return e.handleStart(ctx, s)
		case "/cancel", "cancel":
			return e.handleCancel(ctx, s)
		}
	}

	if ev.Kind == chat.EventSelection {
		if !selector.ValidToken(ev.Token) {
			e.logger.Warn("user %s sent malformed token", s.UserHandle)
			return e.invalidState(s)
		}
		if ev.Token == tokConfirmNo {
			return e.handleCancel(ctx, s)
		}
	}

	switch s.Flow {
	case FlowIdle:
		return e.handleIdle(ctx, s, ev)
	case FlowDeposit:
		return e.handleDeposit(ctx, s, ev)
	case FlowWithdraw:
		return e.handleWithdraw(ctx, s, ev)
	case FlowRegister:
		return e.handleRegister(ctx, s, ev)
	case FlowLogin:
		return e.handleLogin(ctx, s, ev)
	case FlowHistory:
		return e.handleHistory(ctx, s, ev)
	default:
		s.reset()
		return e.invalidState(s)
	}
}

// invalidState re-prompts without touching collected fields.
func (e *Engine) invalidState(s *Session) chat.Action {
	e.emit(s.Flow, "invalid_input")
	return chat.Send(msgUnexpected)
}

func (e *Engine) handleCancel(ctx context.Context, s *Session) chat.Action {
	e.discardStaged(s.UserHandle)
	wasIdle := s.Flow == FlowIdle
	if !wasIdle {
		e.emit(s.Flow, "cancelled")
	}
	s.reset()
	registered := e.isRegistered(ctx, s.UserHandle)
	if wasIdle {
		return chat.SendChoices("What would you like to do?", mainMenu(registered))
	}
	return chat.SendChoices(msgCancelled, mainMenu(registered))
}

// handleStart greets the user. Without a recorded language it offers the
// language list first; otherwise it goes straight to the welcome and menu.
func (e *Engine) handleStart(ctx context.Context, s *Session) chat.Action {
	e.discardStaged(s.UserHandle)
	s.reset()

	id, err := e.store.Identity(ctx, s.UserHandle)
	if err == nil && id.Language != "" {
		return e.welcome(ctx, id)
	}

	langs, lerr := e.api.Languages(ctx)
	if lerr != nil || len(langs) == 0 {
		// Language selection is a nicety; fall back to the default.
		if lerr != nil {
			e.logger.Warn("language list unavailable: %v", lerr)
		}
		return chat.SendChoices("Welcome! What would you like to do?",
			mainMenu(id != nil && id.Kind == store.KindRegistered))
	}

	items := make([]selector.Item, 0, len(langs))
	for _, l := range langs {
		if !l.IsActive {
			continue
		}
		items = append(items, selector.Item{Label: l.Name, Token: listLanguage + ":" + l.Code})
	}
	return e.renderList(s, listLanguage, "Welcome! Choose your language:", items, 0, false)
}

func (e *Engine) welcome(ctx context.Context, id *store.Identity) chat.Action {
	text, err := e.api.Welcome(ctx, id.Language)
	if err != nil || text == "" {
		text = "Welcome back! What would you like to do?"
	}
	return chat.SendChoices(text, mainMenu(id.Kind == store.KindRegistered))
}

func (e *Engine) handleIdle(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventSelection {
		return e.invalidState(s)
	}

	if page, ok := selector.ParseNavToken(listLanguage, ev.Token); ok {
		return e.renderLanguages(ctx, s, page)
	}
	if code, ok := strings.CutPrefix(ev.Token, listLanguage+":"); ok {
		return e.selectLanguage(ctx, s, ev.Token, code)
	}

	switch ev.Token {
	case tokMenuDeposit:
		return e.startDeposit(ctx, s)
	case tokMenuWithdraw:
		return e.startWithdraw(ctx, s)
	case tokMenuHistory:
		return e.startHistory(ctx, s, 0, false)
	case tokMenuRegister:
		s.enter(FlowRegister, StepEnterEmail)
		return chat.Send("Let's create your account. What's your email address?")
	case tokMenuLogin:
		s.enter(FlowLogin, StepLoginEmail)
		return chat.Send("What's your email address?")
	case tokMenuLogout:
		return e.logout(ctx, s)
	default:
		return e.invalidState(s)
	}
}

func (e *Engine) renderLanguages(ctx context.Context, s *Session, page int) chat.Action {
	langs, err := e.api.Languages(ctx)
	if err != nil {
		return chat.Send(msgTransient)
	}
	items := make([]selector.Item, 0, len(langs))
	for _, l := range langs {
		if !l.IsActive {
			continue
		}
		items = append(items, selector.Item{Label: l.Name, Token: listLanguage + ":" + l.Code})
	}
	return e.renderList(s, listLanguage, "Choose your language:", items, page, true)
}

func (e *Engine) selectLanguage(ctx context.Context, s *Session, tok, code string) chat.Action {
	switch e.checkSelection(s, listLanguage, tok) {
	case selExpired:
		s.List = nil
		return chat.Edit(msgExpired, nil)
	case selStale:
		return e.renderLanguages(ctx, s, s.listPage())
	}
	s.List = nil

	id, err := e.store.Identity(ctx, s.UserHandle)
	if errors.Is(err, store.ErrNotFound) {
		player, gerr := e.api.CreateGuest(ctx, gateway.GuestRequest{
			ExternalID:   s.UserHandle,
			LanguageCode: code,
		})
		if gerr != nil {
			return e.backendFailure(s, gerr)
		}
		id = &store.Identity{
			UserHandle: s.UserHandle,
			PlayerUUID: player.PlayerUUID,
			Kind:       store.KindGuest,
		}
	} else if err != nil {
		e.logger.Error("identity lookup: %v", err)
		return chat.Send(msgTransient)
	}

	id.Language = code
	if err := e.store.SaveIdentity(ctx, id); err != nil {
		e.logger.Error("save identity: %v", err)
		return chat.Send(msgTransient)
	}
	return e.welcome(ctx, id)
}

func (e *Engine) logout(ctx context.Context, s *Session) chat.Action {
	id, err := e.store.Identity(ctx, s.UserHandle)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id.Kind != store.KindRegistered) {
		return chat.SendChoices(msgNotLoggedIn, mainMenu(false))
	}
	if err != nil {
		e.logger.Error("identity lookup: %v", err)
		return chat.Send(msgTransient)
	}
	if err := e.store.DeleteIdentity(ctx, s.UserHandle); err != nil {
		e.logger.Error("delete identity: %v", err)
		return chat.Send(msgTransient)
	}
	e.emit(FlowIdle, "logout")
	return chat.SendChoices(msgLoggedOut, mainMenu(false))
}

// ensureSubject returns the user's backend identity, creating a guest
// subject on first contact.
func (e *Engine) ensureSubject(ctx context.Context, s *Session) (*store.Identity, error) {
	id, err := e.store.Identity(ctx, s.UserHandle)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	player, err := e.api.CreateGuest(ctx, gateway.GuestRequest{
		ExternalID:   s.UserHandle,
		LanguageCode: "en",
	})
	if err != nil {
		return nil, err
	}
	id = &store.Identity{
		UserHandle: s.UserHandle,
		PlayerUUID: player.PlayerUUID,
		Kind:       store.KindGuest,
		Language:   "en",
	}
	if err := e.store.SaveIdentity(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

func (e *Engine) isRegistered(ctx context.Context, userHandle string) bool {
	id, err := e.store.Identity(ctx, userHandle)
	return err == nil && id.Kind == store.KindRegistered
}

// renderList shows one page of items and snapshots the offered set so the
// eventual selection can be checked against what was shown.
func (e *Engine) renderList(s *Session, kind, title string, items []selector.Item, page int, edit bool) chat.Action {
	p := selector.Paginate(items, page, e.cfg.PageSize)
	s.List = selector.NewListContext(kind, items, p.Index, e.now())
	if edit {
		return chat.Edit(title, p.Keyboard(kind))
	}
	return chat.SendChoices(title, p.Keyboard(kind))
}

type selCheck int

const (
	selOK selCheck = iota
	selStale
	selExpired
)

// checkSelection validates a selection token against the active list
// context. Tokens with no context, or for another list, count as stale.
func (e *Engine) checkSelection(s *Session, kind, tok string) selCheck {
	if s.List == nil || s.List.Prefix != kind {
		return selStale
	}
	if s.List.Expired(e.cfg.ListContextTTL, e.now()) {
		return selExpired
	}
	if !s.List.Offered(tok) {
		return selStale
	}
	return selOK
}

func (s *Session) listPage() int {
	if s.List == nil {
		return 0
	}
	return s.List.Page
}

// backendFailure translates a gateway error into the user-facing action.
// Transient failures invite a retry; rejections carry the backend's reason.
func (e *Engine) backendFailure(s *Session, err error) chat.Action {
	if rej, ok := gateway.IsRejected(err); ok {
		e.emit(s.Flow, "rejected")
		return chat.Send("❌ " + rej.Message)
	}
	e.emit(s.Flow, "transient")
	return chat.Send(msgTransient)
}

// Staged screenshot bookkeeping. One per user at most; replacing or
// cancelling discards the previous file.

func (e *Engine) stageScreenshot(userHandle string, sf *intake.StagedFile) {
	e.mu.Lock()
	prev := e.staged[userHandle]
	e.staged[userHandle] = sf
	e.mu.Unlock()
	if prev != nil {
		if err := prev.Discard(); err != nil {
			e.logger.Warn("discard replaced screenshot: %v", err)
		}
	}
}

func (e *Engine) takeStaged(userHandle string) *intake.StagedFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	sf := e.staged[userHandle]
	delete(e.staged, userHandle)
	return sf
}

func (e *Engine) discardStaged(userHandle string) {
	if sf := e.takeStaged(userHandle); sf != nil {
		if err := sf.Discard(); err != nil {
			e.logger.Warn("discard staged screenshot: %v", err)
		}
	}
}
