// Package model defines data structures for the chat relay.
package model

import (
	"fmt"
	"time"
)

// titleMaxRunes is the length at which derived titles are cut.
const titleMaxRunes = 30

// Conversation represents a conversation thread.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of c.
func (c Conversation) Clone() Conversation {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.Clone()
	}
	c.Messages = msgs
	return c
}

// UserMessageCount returns the number of user messages in c.
func (c Conversation) UserMessageCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// MessageIndex returns the index of the message with the given id, or -1.
func (c Conversation) MessageIndex(id string) int {
	for i, m := range c.Messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// DefaultTitle is the title given to the n-th new conversation.
func DefaultTitle(n int) string {
	return fmt.Sprintf("New conversation %d", n)
}

// DeriveTitle builds a conversation title from the first user message.
func DeriveTitle(content string) string {
	r := []rune(content)
	if len(r) > titleMaxRunes {
		return string(r[:titleMaxRunes]) + "..."
	}
	return content
}

// State is a read-only snapshot of the conversation collection.
type State struct {
	Conversations []Conversation `json:"conversations"`
	CurrentID     string         `json:"currentId,omitempty"`
	Loading       bool           `json:"loading"`
}

// Current returns the selected conversation in s, if any.
func (s State) Current() (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.ID == s.CurrentID {
			return c, true
		}
	}
	return Conversation{}, false
}

// RenameConversationRequest is the request to rename a conversation.
type RenameConversationRequest struct {
	Title string `json:"title"`
}
