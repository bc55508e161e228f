// Package web contains the request plumbing shared by dashboard handlers:
// flash messages, htmx aware redirects, method and scope guards.
package web

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
)

// Level is the severity of a flash message.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Message is a one-time notification shown on the next rendered page.
type Message struct {
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

const flashKey = "flash"

// Flasher queues messages in the visitor's session.
type Flasher struct {
	store *session.Store
}

func NewFlasher(store *session.Store) *Flasher {
	return &Flasher{store: store}
}

func decodeMessages(v any) []Message {
	raw, ok := v.(string)
	if !ok || raw == "" {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil
	}
	return msgs
}

// Add appends a message to the queue and saves the session.
func (f *Flasher) Add(c *fiber.Ctx, level Level, text string) error {
	sess, err := f.store.Get(c)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	msgs := append(decodeMessages(sess.Get(flashKey)), Message{Level: level, Text: text})
	data, err := json.Marshal(msgs)
	if err != nil {
		return err
	}
	sess.Set(flashKey, string(data))
	if err := sess.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (f *Flasher) Success(c *fiber.Ctx, text string) error { return f.Add(c, LevelSuccess, text) }
func (f *Flasher) Error(c *fiber.Ctx, text string) error   { return f.Add(c, LevelError, text) }

// Pop returns the queued messages and clears the queue.
func (f *Flasher) Pop(c *fiber.Ctx) ([]Message, error) {
	sess, err := f.store.Get(c)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	msgs := decodeMessages(sess.Get(flashKey))
	if msgs == nil {
		return nil, nil
	}
	sess.Delete(flashKey)
	if err := sess.Save(); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return msgs, nil
}
