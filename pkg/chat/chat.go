// Package chat defines the transport-neutral boundary between the
// conversation engine and whatever messaging protocol delivers events.
// The transport adapter converts protocol updates into Events and renders
// Actions back into protocol messages; the engine never sees the protocol.
package chat

// EventKind discriminates the payload of an inbound Event.
type EventKind string

const (
	// EventText is plain text typed by the user, including slash commands.
	EventText EventKind = "text"
	// EventSelection is a compact selection token from an inline choice.
	EventSelection EventKind = "selection"
	// EventFile is a user-submitted file.
	EventFile EventKind = "file"
)

// Event is one inbound chat event for a single user handle.
type Event struct {
	UserHandle string
	Kind       EventKind

	// Text is set for EventText.
	Text string
	// Token is set for EventSelection.
	Token string
	// File is set for EventFile.
	File *FilePayload
}

// FilePayload carries the bytes and declared type of a submitted file.
type FilePayload struct {
	Data        []byte
	ContentType string
	Name        string
}

// ActionKind discriminates outbound Actions.
type ActionKind string

const (
	// ActionSend sends a new message, optionally with inline choices.
	ActionSend ActionKind = "send"
	// ActionEdit replaces the text and choices of the previous list message.
	ActionEdit ActionKind = "edit"
)

// Choice is one inline option: display text plus the selection token the
// transport must echo back when the user taps it.
type Choice struct {
	Label string
	Token string
}

// Action is the engine's single response to one inbound event.
type Action struct {
	Kind    ActionKind
	Text    string
	Choices [][]Choice // rows of inline choices; nil for plain text
}

// Send builds a plain text Action.
func Send(text string) Action {
	return Action{Kind: ActionSend, Text: text}
}

// SendChoices builds a text Action with inline choice rows.
func SendChoices(text string, rows [][]Choice) Action {
	return Action{Kind: ActionSend, Text: text, Choices: rows}
}

// Edit builds an Action that rewrites the previously displayed message.
func Edit(text string, rows [][]Choice) Action {
	return Action{Kind: ActionEdit, Text: text, Choices: rows}
}

// Sender delivers a message to a user outside the request/response cycle.
// The notification dispatcher uses it to push backend status updates.
type Sender interface {
	Send(userHandle, text string) error
}
