package models

import (
	"strings"
	"time"
)

// Chat represents a conversation container in the chat system. It provides basic identification and
// labeling capabilities for organizing message threads.
type Chat struct {
	ID    string
	Title string
}

// Message represents an individual row of a chat transcript. Assistant rows carry the phase they were
// produced in, so a single turn may be stored as a reasoning row followed by an answer row.
type Message struct {
	ID        string
	Role      Role
	Phase     Phase
	Content   string
	Timestamp time.Time

	// Notice is set on the terminal row that replaces a failed stream.
	Notice bool
	// Attachment is the path of the image uploaded with a user message, if any.
	Attachment string
}

// Role represents the role of a message participant.
type Role string

// Phase is the part of an assistant reply a row belongs to.
type Phase string

const (
	// RoleUser represents a user message.
	RoleUser Role = "user"
	// RoleAssistant represents an assistant message.
	RoleAssistant Role = "assistant"

	// PhaseReasoning holds the model's deliberation text.
	PhaseReasoning Phase = "reasoning"
	// PhaseAnswer holds the final user-facing text.
	PhaseAnswer Phase = "answer"
)

// Entry is one snapshot emitted while an assistant reply is being produced. Content is cumulative within
// a phase: a later entry of the same phase replaces the earlier one instead of extending it.
type Entry struct {
	Role    Role
	Phase   Phase
	Content string
	Notice  bool
}

// NoticeText is shown in place of a reply that could not be produced.
const NoticeText = "There was an error. Please try again."

// NoticeEntry returns the terminal entry reported when a turn fails.
func NoticeEntry() Entry {
	return Entry{
		Role:    RoleAssistant,
		Phase:   PhaseAnswer,
		Content: NoticeText,
		Notice:  true,
	}
}

// RenderHistory concatenates the contents of the given messages in order, the way prior turns are
// handed back to the model as context.
func RenderHistory(messages []Message) string {
	var sb strings.Builder
	for _, msg := range messages {
		sb.WriteString(msg.Content)
	}
	return sb.String()
}
