package model

import (
	"time"
)

// EventType represents the type of store event.
type EventType string

const (
	EventTypeState        EventType = "state"
	EventTypeNotification EventType = "notification"
)

// NotificationLevel is the severity of a user-visible notification.
type NotificationLevel string

const (
	NotificationError NotificationLevel = "error"
	NotificationInfo  NotificationLevel = "info"
)

// Notification is a transient message meant for the user.
type Notification struct {
	Level          NotificationLevel `json:"level"`
	Message        string            `json:"message"`
	ConversationID string            `json:"conversation_id,omitempty"`
}

// Event is published by the conversation store to its subscribers.
type Event struct {
	ID           string        `json:"id"`
	Type         EventType     `json:"type"`
	State        *State        `json:"state,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is the body of an API error response.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}
