package handlers

import (
	"bytes"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

type chat struct {
	ID    string
	Title string

	Active bool
}

// message is a transcript row prepared for the templates.
type message struct {
	ID        string
	Role      string
	Phase     string
	Content   template.HTML
	Timestamp time.Time
	Image     string

	// Thinking marks a reasoning row that is followed by an answer, so it can be folded away.
	Thinking bool
	Notice   bool
}

type turn struct {
	ID       string
	User     message
	Messages []message
}

type homePageData struct {
	Chats         []chat
	CurrentChatID string
	Messages      []message
	Turn          *turn
}

var templateFuncs = template.FuncMap{
	"timestamp": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("15:04")
	},
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
		),
	)
}

func (m Main) renderMarkdown(content string) template.HTML {
	var buf bytes.Buffer
	if err := m.markdown.Convert([]byte(content), &buf); err != nil {
		m.logger.Warn("Failed to render markdown", "err", err.Error())
		return template.HTML(template.HTMLEscapeString(content))
	}
	// goldmark drops raw HTML from the source unless configured otherwise.
	return template.HTML(buf.String())
}

func (m Main) userMessage(msg models.Message) message {
	v := message{
		ID:        msg.ID,
		Role:      string(msg.Role),
		Content:   template.HTML(template.HTMLEscapeString(msg.Content)),
		Timestamp: msg.Timestamp,
	}
	if msg.Attachment != "" {
		v.Image = "/uploads/" + filepath.Base(msg.Attachment)
	}
	return v
}

// renderMessages prepares stored rows for display. A reasoning row directly followed by an answer row of
// the same turn is marked as thinking.
func (m Main) renderMessages(messages []models.Message) []message {
	views := make([]message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == models.RoleUser {
			views = append(views, m.userMessage(msg))
			continue
		}
		if msg.Phase == models.PhaseReasoning && strings.TrimSpace(msg.Content) == "" {
			continue
		}
		thinking := msg.Phase == models.PhaseReasoning &&
			i+1 < len(messages) &&
			messages[i+1].Role == models.RoleAssistant &&
			messages[i+1].Phase == models.PhaseAnswer
		views = append(views, message{
			ID:        msg.ID,
			Role:      string(msg.Role),
			Phase:     string(msg.Phase),
			Content:   m.renderMarkdown(msg.Content),
			Timestamp: msg.Timestamp,
			Thinking:  thinking,
			Notice:    msg.Notice,
		})
	}
	return views
}

// liveEntries keeps the latest snapshot per row of a turn in progress.
type liveEntries []models.Entry

func (l liveEntries) apply(e models.Entry) liveEntries {
	if n := len(l); n > 0 && l[n-1].Phase == e.Phase && !l[n-1].Notice && !e.Notice {
		l[n-1] = e
		return l
	}
	return append(l, e)
}

func (l liveEntries) messages() []models.Message {
	msgs := make([]models.Message, len(l))
	for i, e := range l {
		msgs[i] = models.Message{
			Role:    e.Role,
			Phase:   e.Phase,
			Content: e.Content,
			Notice:  e.Notice,
		}
	}
	return msgs
}
