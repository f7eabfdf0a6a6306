package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sender identifies who produced a message.
type Sender string

const (
	// SenderUser is a message written by the end user.
	SenderUser Sender = "user"

	// SenderAI is a reply produced by the model.
	SenderAI Sender = "ai"

	// SenderSystem is reserved for injected system notices.
	SenderSystem Sender = "system"
)

// Valid reports whether s is a known sender value.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderAI, SenderSystem:
		return true
	}
	return false
}

const (
	// DefaultTitle is assigned to sessions that have no messages yet.
	DefaultTitle = "New Chat"

	// TitleMaxRunes is the maximum title length derived from the first
	// user message.
	TitleMaxRunes = 50

	// PreviewMaxRunes is the maximum preview length in session listings.
	PreviewMaxRunes = 100
)

// Session is a persistent conversation owned by a single user.
type Session struct {
	ID        uuid.UUID
	OwnerID   string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single entry in a session's append-only transcript.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Sender         Sender
	Content        string
	SequenceNumber int32
	CreatedAt      time.Time
}

// Validate checks that a message is storable.
func (m *Message) Validate() error {
	if !m.Sender.Valid() {
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidMessage, m.Sender)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	return nil
}

// Summary is a session listing entry. Preview holds the beginning of the
// most recent message, empty for sessions without messages.
type Summary struct {
	ID           uuid.UUID
	Title        string
	Preview      string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeriveTitle builds a session title from the first user message: leading
// and trailing whitespace stripped, truncated to TitleMaxRunes runes.
// Returns DefaultTitle for blank input.
func DeriveTitle(content string) string {
	title := strings.TrimSpace(content)
	if title == "" {
		return DefaultTitle
	}
	return truncateRunes(title, TitleMaxRunes)
}

// truncateRunes cuts s to at most n runes without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
