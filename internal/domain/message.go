package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	MaxMessageIDLen   = 64
	MaxMessageTextLen = 2000
)

var ErrInvalidMessage = errors.New("invalid message")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Message is a chat event. Once appended to a session log it is never mutated.
type Message struct {
	ID        string    `json:"id" validate:"required,max=64"`
	User      string    `json:"user" validate:"required,max=36"`
	Text      string    `json:"text" validate:"required,max=2000"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Normalize fills in what the client left out and validates the result.
func (m Message) Normalize(now time.Time, fallbackUser string) (Message, error) {
	m.ID = strings.TrimSpace(m.ID)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.User = strings.TrimSpace(m.User)
	if m.User == "" {
		m.User = fallbackUser
	}
	m.Text = strings.TrimSpace(m.Text)
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	if err := validate.Struct(m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}
