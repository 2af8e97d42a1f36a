package models

import "time"

// Transcript is the ordered log of a chat. It is owned by whoever runs the turn; snapshots are applied to
// it through Upsert and it is never retained by the code that produces them.
type Transcript struct {
	Messages []Message

	turnStart int
}

// NewTranscript wraps previously stored messages. Rows already present are closed: upserts never touch
// them.
func NewTranscript(messages []Message) *Transcript {
	return &Transcript{
		Messages:  messages,
		turnStart: len(messages),
	}
}

// AddUser appends the user's message and opens a new turn.
func (t *Transcript) AddUser(text, attachment string) Message {
	msg := Message{
		Role:       RoleUser,
		Content:    text,
		Attachment: attachment,
		Timestamp:  time.Now(),
	}
	t.Messages = append(t.Messages, msg)
	t.turnStart = len(t.Messages)
	return msg
}

// Upsert applies an entry snapshot to the current turn. The last row is replaced when it is an assistant
// row of the same phase opened in this turn; otherwise the entry is appended as a new row. It returns the
// index of the affected row and whether it was appended.
func (t *Transcript) Upsert(e Entry) (int, bool) {
	if n := len(t.Messages); n > t.turnStart {
		last := &t.Messages[n-1]
		if last.Role == e.Role && last.Phase == e.Phase && !last.Notice && !e.Notice {
			last.Content = e.Content
			return n - 1, false
		}
	}

	role := e.Role
	if role == "" {
		role = RoleAssistant
	}
	t.Messages = append(t.Messages, Message{
		Role:      role,
		Phase:     e.Phase,
		Content:   e.Content,
		Notice:    e.Notice,
		Timestamp: time.Now(),
	})
	return len(t.Messages) - 1, true
}

// History returns the rows that precede the current turn's user message.
func (t *Transcript) History() []Message {
	if t.turnStart == 0 {
		return nil
	}
	return t.Messages[:t.turnStart-1]
}

// Turn returns the assistant rows produced in the current turn.
func (t *Transcript) Turn() []Message {
	return t.Messages[t.turnStart:]
}
