package flow

import (
	"context"
	"strings"

	"paybot/pkg/chat"
	"paybot/pkg/gateway"
	"paybot/pkg/store"
)

func (e *Engine) handleRegister(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind == chat.EventSelection && ev.Token == tokSkipPhone && s.Step == StepEnterPhone {
		return e.submitRegister(ctx, s, "")
	}
	if ev.Kind != chat.EventText {
		return e.invalidState(s)
	}
	text := strings.TrimSpace(ev.Text)

	switch s.Step {
	case StepEnterEmail:
		if !validEmail(text) {
			e.emit(FlowRegister, "invalid_input")
			return chat.Send(msgInvalidEmail)
		}
		s.Fields["email"] = text
		s.transition(StepEnterPassword)
		return chat.Send("Choose a password (at least 8 characters):")

	case StepEnterPassword:
		if !validPassword(text) {
			e.emit(FlowRegister, "invalid_input")
			return chat.Send(msgShortPassword)
		}
		s.Fields["password"] = text
		s.transition(StepEnterDisplayName)
		return chat.Send("What name should we display for you?")

	case StepEnterDisplayName:
		if !validDisplayName(text) {
			e.emit(FlowRegister, "invalid_input")
			return chat.Send(msgShortName)
		}
		s.Fields["displayName"] = text
		s.transition(StepEnterPhone)
		return chat.SendChoices("Your phone number (international format, e.g. +251911234567)?",
			[][]chat.Choice{{{Label: "Skip", Token: tokSkipPhone}}})

	case StepEnterPhone:
		if strings.EqualFold(text, "skip") {
			return e.submitRegister(ctx, s, "")
		}
		if !validPhone(text) {
			e.emit(FlowRegister, "invalid_input")
			return chat.Send(msgInvalidPhone)
		}
		return e.submitRegister(ctx, s, text)

	default:
		return e.invalidState(s)
	}
}

func (e *Engine) submitRegister(ctx context.Context, s *Session, phone string) chat.Action {
	lang := "en"
	if id, err := e.store.Identity(ctx, s.UserHandle); err == nil && id.Language != "" {
		lang = id.Language
	}

	player, err := e.api.Register(ctx, gateway.RegisterRequest{
		Email:        s.Fields["email"],
		Password:     s.Fields["password"],
		DisplayName:  s.Fields["displayName"],
		LanguageCode: lang,
		Phone:        phone,
	})
	if err != nil {
		if rej, ok := gateway.IsRejected(err); ok {
			// A rejection here (email taken, weak password) ends the
			// attempt; the collected answers may be the problem.
			e.emit(FlowRegister, "rejected")
			s.reset()
			return chat.SendChoices("❌ Registration failed: "+rej.Message, mainMenu(false))
		}
		// Transient: stay on the last step so the user can resubmit.
		e.emit(FlowRegister, "transient")
		return chat.Send(msgTransient)
	}

	if err := e.store.SaveIdentity(ctx, &store.Identity{
		UserHandle: s.UserHandle,
		PlayerUUID: player.PlayerUUID,
		Kind:       store.KindRegistered,
		Language:   lang,
	}); err != nil {
		e.logger.Error("save identity after register: %v", err)
		return chat.Send(msgTransient)
	}

	e.emit(FlowRegister, "completed")
	s.reset()
	return chat.SendChoices("🎉 Account created. You're all set!", mainMenu(true))
}

func (e *Engine) handleLogin(ctx context.Context, s *Session, ev chat.Event) chat.Action {
	if ev.Kind != chat.EventText {
		return e.invalidState(s)
	}
	text := strings.TrimSpace(ev.Text)

	switch s.Step {
	case StepLoginEmail:
		if !validEmail(text) {
			e.emit(FlowLogin, "invalid_input")
			return chat.Send(msgInvalidEmail)
		}
		s.Fields["email"] = text
		s.transition(StepLoginPassword)
		return chat.Send("And your password?")

	case StepLoginPassword:
		return e.submitLogin(ctx, s, text)

	default:
		return e.invalidState(s)
	}
}

func (e *Engine) submitLogin(ctx context.Context, s *Session, password string) chat.Action {
	userID, err := e.api.Login(ctx, s.Fields["email"], password)
	if err != nil {
		if rej, ok := gateway.IsRejected(err); ok {
			e.emit(FlowLogin, "rejected")
			s.reset()
			return chat.SendChoices("❌ Login failed: "+rej.Message, mainMenu(false))
		}
		e.emit(FlowLogin, "transient")
		return chat.Send(msgTransient)
	}

	player, err := e.api.PlayerByUserID(ctx, userID)
	if err != nil {
		return e.backendFailure(s, err)
	}

	lang := player.LanguageCode
	if prev, perr := e.store.Identity(ctx, s.UserHandle); perr == nil && prev.Language != "" {
		lang = prev.Language
	}
	if err := e.store.SaveIdentity(ctx, &store.Identity{
		UserHandle: s.UserHandle,
		PlayerUUID: player.PlayerUUID,
		Kind:       store.KindRegistered,
		Language:   lang,
	}); err != nil {
		e.logger.Error("save identity after login: %v", err)
		return chat.Send(msgTransient)
	}

	e.emit(FlowLogin, "completed")
	s.reset()
	return chat.SendChoices("✅ Logged in. Welcome back!", mainMenu(true))
}
