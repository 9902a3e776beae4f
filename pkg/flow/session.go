package flow

import (
	"encoding/json"

	"paybot/pkg/gateway"
	"paybot/pkg/selector"
)

// Flow names one multi-step wizard.
type Flow string

const (
	FlowIdle     Flow = "idle"
	FlowDeposit  Flow = "deposit"
	FlowWithdraw Flow = "withdraw"
	FlowRegister Flow = "register"
	FlowLogin    Flow = "login"
	FlowHistory  Flow = "history"
)

// Step names one state within a flow.
type Step string

const (
	StepNone Step = ""

	// Deposit and withdraw.
	StepSelectBank      Step = "select-bank"
	StepRequiredField   Step = "required-field" // withdraw only; Session.FieldIndex points into RequiredFields
	StepEnterAmount     Step = "enter-amount"
	StepSelectSite      Step = "select-site"
	StepEnterPlayerID   Step = "enter-player-id"
	StepAwaitScreenshot Step = "await-screenshot" // deposit only
	StepAwaitConfirm    Step = "await-confirmation"
	StepSubmitting      Step = "submitting"

	// Register.
	StepEnterEmail       Step = "enter-email"
	StepEnterPassword    Step = "enter-password"
	StepEnterDisplayName Step = "enter-display-name"
	StepEnterPhone       Step = "enter-phone"

	// Login.
	StepLoginEmail    Step = "login-email"
	StepLoginPassword Step = "login-password"

	// History.
	StepBrowsing Step = "browsing"
)

// stepSets declares the legal steps per flow. Session decoding and every
// transition are checked against it.
var stepSets = map[Flow]map[Step]bool{
	FlowIdle: {StepNone: true},
	FlowDeposit: {
		StepSelectBank: true, StepEnterAmount: true, StepSelectSite: true,
		StepEnterPlayerID: true, StepAwaitScreenshot: true,
		StepAwaitConfirm: true, StepSubmitting: true,
	},
	FlowWithdraw: {
		StepSelectBank: true, StepRequiredField: true, StepEnterAmount: true,
		StepSelectSite: true, StepEnterPlayerID: true,
		StepAwaitConfirm: true, StepSubmitting: true,
	},
	FlowRegister: {
		StepEnterEmail: true, StepEnterPassword: true,
		StepEnterDisplayName: true, StepEnterPhone: true,
	},
	FlowLogin:   {StepLoginEmail: true, StepLoginPassword: true},
	FlowHistory: {StepBrowsing: true},
}

// ValidStep reports whether step belongs to flow's declared step set.
func ValidStep(f Flow, s Step) bool {
	set, ok := stepSets[f]
	return ok && set[s]
}

// Session is the per-user conversation state. It is mutated only by the
// engine, one event at a time, and persisted between events.
type Session struct {
	UserHandle string `json:"-"`

	Flow Flow `json:"flow"`
	Step Step `json:"step"`

	// Fields collects validated inputs from completed steps.
	Fields map[string]string `json:"fields,omitempty"`

	// RequiredFields is the withdraw flow's backend-declared prompt queue;
	// FieldIndex is the position of the prompt currently awaited.
	RequiredFields []gateway.RequiredField `json:"requiredFields,omitempty"`
	FieldIndex     int                     `json:"fieldIndex,omitempty"`

	// List is the option snapshot behind the last rendered selection screen.
	List *selector.ListContext `json:"list,omitempty"`
}

func newSession(userHandle string) *Session {
	return &Session{
		UserHandle: userHandle,
		Flow:       FlowIdle,
		Step:       StepNone,
		Fields:     map[string]string{},
	}
}

// decodeSession restores a persisted session. A payload that does not parse,
// or that names a flow/step pair outside the declared sets, is treated as
// corrupted and replaced by a fresh idle session.
func decodeSession(userHandle string, data []byte) *Session {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return newSession(userHandle)
	}
	if !ValidStep(s.Flow, s.Step) {
		return newSession(userHandle)
	}
	if s.Flow == FlowWithdraw && s.Step == StepRequiredField &&
		(s.FieldIndex < 0 || s.FieldIndex >= len(s.RequiredFields)) {
		return newSession(userHandle)
	}
	s.UserHandle = userHandle
	if s.Fields == nil {
		s.Fields = map[string]string{}
	}
	return &s
}

func (s *Session) encode() ([]byte, error) {
	return json.Marshal(s)
}

// reset returns the session to idle and drops everything collected.
func (s *Session) reset() {
	s.Flow = FlowIdle
	s.Step = StepNone
	s.Fields = map[string]string{}
	s.RequiredFields = nil
	s.FieldIndex = 0
	s.List = nil
}

// transition moves to step, which must be legal for the current flow.
func (s *Session) transition(step Step) {
	if !ValidStep(s.Flow, step) {
		// A bad transition is a programming error; fail closed to idle
		// rather than persist an impossible pair.
		s.reset()
		return
	}
	s.Step = step
}

// enter starts a flow at its first step.
func (s *Session) enter(f Flow, step Step) {
	s.reset()
	s.Flow = f
	s.transition(step)
}
