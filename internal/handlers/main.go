package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/mycochat"
	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Assistant runs chat turns. Respond yields the entries of one turn while applying them to the given
// transcript; Title names a chat after its first message.
type Assistant interface {
	Respond(ctx context.Context, turn assistant.Turn, transcript *models.Transcript) iter.Seq[models.Entry]
	Title(ctx context.Context, message string) (string, error)
}

// Store defines the interface for managing chat and message persistence. It provides methods for
// creating, reading, and updating chats and their associated messages. The interface supports both
// atomic operations and bulk retrieval of chats and messages.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
}

// Options tunes request handling. Zero fields take the defaults below.
type Options struct {
	// UploadDir receives uploaded images; it defaults to a directory under os.TempDir.
	UploadDir string
	// RequestsPerMinute and Burst bound how often one client may start a turn.
	RequestsPerMinute int
	Burst             int
	// MaxUploadBytes caps the size of a chat form including its image.
	MaxUploadBytes int64
	// TurnTimeout bounds a single turn against the model.
	TurnTimeout time.Duration
}

const (
	defaultRequestsPerMinute = 20
	defaultBurst             = 5
	defaultMaxUploadBytes    = 10 << 20
	defaultTurnTimeout       = 5 * time.Minute

	errLoggerKey = "err"
)

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and interactions between the Assistant and Store components.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown
	limiter   *clientLimiter

	assistant Assistant
	store     Store

	uploadDir      string
	maxUploadBytes int64
	turnTimeout    time.Duration

	logger *slog.Logger
}

const chatsSSETopic = "chats"

// NewMain creates a new Main instance with the provided Assistant and Store implementations. It initializes
// the SSE server with default configurations and parses the required HTML templates from the embedded
// filesystem. The SSE server is configured to handle both default events and turn-specific topics.
func NewMain(a Assistant, store Store, opts Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		mycochat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(os.TempDir(), "mycochat-uploads")
	}
	if err := os.MkdirAll(opts.UploadDir, 0o755); err != nil {
		return Main{}, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = defaultRequestsPerMinute
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				// We add the turn topic if the client is waiting for a reply
				turnID := s.Req.URL.Query().Get("turn_id")
				if turnID != "" {
					topics = append(topics, turnTopic(turnID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:      tmpl,
		markdown:       newMarkdown(),
		limiter:        newClientLimiter(opts.RequestsPerMinute, opts.Burst),
		assistant:      a,
		store:          store,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		turnTimeout:    opts.TurnTimeout,
		logger:         logger.With(slog.String("module", "handlers")),
	}, nil
}

func turnTopic(turnID string) string {
	return fmt.Sprintf("turn-%s", turnID)
}

// UploadDir returns the directory uploaded images are stored in.
func (m Main) UploadDir() string {
	return m.uploadDir
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: closeTurnSSEType}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
