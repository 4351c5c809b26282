package schema

import "strconv"

// MessageKind enumerates the outbound message shapes a handler can emit.
type MessageKind string

const (
	MessageText        MessageKind = "text"
	MessageInteractive MessageKind = "interactive"
	MessageImage       MessageKind = "image"
)

// DefaultChannel is the destination used when a task does not name one.
const DefaultChannel = "out"

// Option is one selectable entry in an interactive list message.
type Option struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is the structured outbound-message descriptor handed to the
// SendMessage callback. The engine never inspects it after emission.
type Message struct {
	Kind         MessageKind `json:"kind"`
	Dest         string      `json:"dest"`
	Body         string      `json:"body"`
	Options      []Option    `json:"options,omitempty"`
	Dialog       string      `json:"dialog,omitempty"`
	MenuSelector string      `json:"menu_selector,omitempty"`
	MenuTitle    string      `json:"menu_title,omitempty"`
	MediaURL     string      `json:"media_url,omitempty"`
}

// SendMessage is the synchronous, side-effecting callback invoked by display
// and input handlers. No return value is consumed; delivery is the caller's
// concern.
type SendMessage func(msg Message)

// MakeOptions numbers a list of titles into interactive options, 1-based.
func MakeOptions(titles []string) []Option {
	if len(titles) == 0 {
		return nil
	}
	opts := make([]Option, len(titles))
	for i, title := range titles {
		opts[i] = Option{ID: strconv.Itoa(i + 1), Title: title}
	}
	return opts
}
