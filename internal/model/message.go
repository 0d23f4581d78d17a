package model

import (
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message represents a single turn in a conversation.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Attachments []string  `json:"attachments,omitempty"`
}

// IsPending reports whether m is an assistant placeholder awaiting a reply.
func (m Message) IsPending() bool {
	return m.Role == RoleAssistant && m.Content == ""
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]string(nil), m.Attachments...)
	}
	return m
}

// ContentKind tags the variant held by a Content value.
type ContentKind int

const (
	// ContentTextOnly is plain text with no attachments.
	ContentTextOnly ContentKind = iota
	// ContentTextWithAttachments is text followed by image references.
	ContentTextWithAttachments
)

// Content is the provider-neutral payload of a message. Provider adapters
// resolve it into their own wire shape.
type Content struct {
	Kind        ContentKind
	Text        string
	Attachments []string
}

// TextOnly builds a plain text payload.
func TextOnly(text string) Content {
	return Content{Kind: ContentTextOnly, Text: text}
}

// TextWithAttachments builds a text payload carrying image references.
// With no references it degrades to TextOnly.
func TextWithAttachments(text string, refs []string) Content {
	if len(refs) == 0 {
		return TextOnly(text)
	}
	return Content{
		Kind:        ContentTextWithAttachments,
		Text:        text,
		Attachments: append([]string(nil), refs...),
	}
}

// ContentOf returns the payload variant for m.
func ContentOf(m Message) Content {
	return TextWithAttachments(m.Content, m.Attachments)
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// IsEmpty reports whether the request carries neither text nor attachments.
func (r SendMessageRequest) IsEmpty() bool {
	return strings.TrimSpace(r.Content) == "" && len(r.Attachments) == 0
}
