// Package session provides client-local persistence of named
// conversation threads.
//
// The store is the sole source of truth for conversation history across
// restarts. The orchestrator never holds long-lived session state; it
// receives the full message history per call and returns the delta.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind identifies the content kind of a message part.
type PartKind string

const (
	PartText       PartKind = "text"
	PartToolStart  PartKind = "tool-start"
	PartToolResult PartKind = "tool-result"
)

// Part is one unit of message content: plain text, a capability
// invocation start notice, or its result. A tool-result part always
// follows the tool-start part for the same invocation.
type Part struct {
	Kind    PartKind        `json:"kind"`
	Text    string          `json:"text,omitempty"`
	Tool    string          `json:"tool,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewTextPart creates a text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// NewToolStartPart creates a capability invocation start notice.
func NewToolStartPart(tool string) Part {
	return Part{Kind: PartToolStart, Tool: tool}
}

// NewToolResultPart creates a capability invocation result notice.
func NewToolResultPart(tool string, payload json.RawMessage) Part {
	return Part{Kind: PartToolResult, Tool: tool, Payload: payload}
}

// Message is one exchange unit within a session.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// Text returns the concatenated text content of the message,
// ignoring invocation notices.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// Session is a named, persisted conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates an empty session with a fresh identifier. Random UUIDs
// rather than wall-clock timestamps, so rapid creation cannot collide.
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
}

// TitleMaxRunes is the display-character budget for derived titles.
const TitleMaxRunes = 40

// titleEllipsis marks a truncated title.
const titleEllipsis = "…"

// DeriveTitle builds a session title from the first user message:
// the first 40 display characters, with an ellipsis marker appended
// when the source is longer. Pure and deterministic.
func DeriveTitle(firstUserMessage string) string {
	s := strings.TrimSpace(firstUserMessage)
	runes := []rune(s)
	if len(runes) <= TitleMaxRunes {
		return s
	}
	return string(runes[:TitleMaxRunes]) + titleEllipsis
}

// Retitle recomputes the title from the first user message, if any.
func (s *Session) Retitle() {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			s.Title = DeriveTitle(m.Text())
			return
		}
	}
}
