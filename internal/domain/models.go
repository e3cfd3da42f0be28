// Package domain defines the data the client caches for a session.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// User is the identity resolved by the brain. It is owned by the remote
// service and cached for the lifetime of a session.
type User struct {
	ID        int64   `json:"id"`
	Username  string  `json:"username"`
	FullName  string  `json:"full_name"`
	Gender    string  `json:"gender"`
	Age       int     `json:"age"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// Conversation is one entry of the server-ordered conversation list.
type Conversation struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// Message is one entry of the active conversation's log.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts both "timestamp" and "created_at" as the message time.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      Role   `json:"role"`
		Content   string `json:"content"`
		Timestamp string `json:"timestamp"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = raw.Content
	m.Timestamp = raw.Timestamp
	if m.Timestamp == "" {
		m.Timestamp = raw.CreatedAt
	}
	return nil
}

// Reminder is a reminder owned by the brain. The client never mutates it
// locally; changes go through create/complete/delete round-trips.
type Reminder struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	ReminderTime string `json:"reminder_time,omitempty"`
	IsCompleted  bool   `json:"is_completed"`
}

// UnmarshalJSON accepts is_completed as a bool or as a 0/1 column value.
func (r *Reminder) UnmarshalJSON(data []byte) error {
	type plain Reminder
	var raw struct {
		plain
		IsCompleted json.RawMessage `json:"is_completed"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	done, err := parseFlag(raw.IsCompleted)
	if err != nil {
		return fmt.Errorf("is_completed: %w", err)
	}
	*r = Reminder(raw.plain)
	r.IsCompleted = done
	return nil
}

func parseFlag(data json.RawMessage) (bool, error) {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "", "null", "false":
		return false, nil
	case "true":
		return true, nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return false, fmt.Errorf("not a bool or number: %s", data)
	}
	return n != 0, nil
}

// Profile is the registration form payload.
type Profile struct {
	Username  string `json:"username"`
	FullName  string `json:"fullName"`
	Gender    string `json:"gender"`
	BirthYear int    `json:"birthYear"`
	Age       int    `json:"age"`
	Avatar    string `json:"avatar,omitempty"` // base64 data URL
}
