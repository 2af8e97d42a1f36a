package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	chatsSSEType     = sse.Type("chats")
	messagesSSEType  = sse.Type("messages")
	closeTurnSSEType = sse.Type("closeTurn")
)

// imageOnlyTitle names chats opened with a photo and no question.
const imageOnlyTitle = "Mushroom photo"

// allowedImageTypes maps accepted upload types to the extension they are stored with.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// HandleChats starts a turn from an HTTP POST. The form carries an optional "message", an optional
// "image" file, an optional "temperature" between 0 and 1 and an optional "chat_id". At least one of
// message and image is required. Without a chat_id a new chat is created and its title is generated in
// the background.
//
// The reply is produced asynchronously and streamed to the client over SSE on the topic of the turn. The
// response renders the complete chatbox for new chats or the opened turn for existing ones.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !m.limiter.allow(clientIP(r)) {
		m.logger.Warn("Rate limit exceeded", slog.String("client", clientIP(r)))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, m.maxUploadBytes)
	if err := r.ParseMultipartForm(m.maxUploadBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		m.logger.Error("Failed to parse form", slog.String(errLoggerKey, err.Error()))
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))

	var temperature *float32
	if raw := r.FormValue("temperature"); raw != "" {
		t, err := strconv.ParseFloat(raw, 32)
		if err != nil || math.IsNaN(t) || t < 0 || t > 1 {
			m.logger.Error("Invalid temperature", slog.String("temperature", raw))
			http.Error(w, "Temperature must be between 0 and 1", http.StatusBadRequest)
			return
		}
		t32 := float32(t)
		temperature = &t32
	}

	attachment, err := m.saveUpload(r)
	if err != nil {
		m.logger.Error("Failed to save upload", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if msg == "" && attachment == "" {
		m.logger.Error("Message or image is required")
		http.Error(w, "Message or image is required", http.StatusBadRequest)
		return
	}

	chatID := r.FormValue("chat_id")
	// We track if this is a new chat to determine the appropriate template rendering strategy
	isNewChat := false
	if chatID == "" {
		chatID, err = m.newChat()
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewChat = true
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	um := models.Message{
		ID:         uuid.New().String(),
		Role:       models.RoleUser,
		Content:    msg,
		Attachment: attachment,
		Timestamp:  time.Now(),
	}
	if um.ID, err = m.store.AddMessage(r.Context(), chatID, um); err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	t := turn{
		ID:   uuid.New().String(),
		User: m.userMessage(um),
	}

	go m.chat(chatID, t.ID, messages, assistant.Turn{
		Text:        msg,
		Attachment:  attachment,
		Temperature: temperature,
	})

	if isNewChat {
		go m.generateChatTitle(chatID, msg)

		data := homePageData{
			CurrentChatID: chatID,
			Messages:      m.renderMessages(messages),
			Turn:          &t,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if err := m.templates.ExecuteTemplate(w, "turn", t); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// saveUpload stores the "image" form file in the upload directory and returns its path, or an empty
// path when no file was sent.
func (m Main) saveUpload(r *http.Request) (string, error) {
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	defer file.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	head = head[:n]
	ext, ok := allowedImageTypes[http.DetectContentType(head)]
	if !ok {
		return "", fmt.Errorf("unsupported image type of %s", header.Filename)
	}

	f, err := os.CreateTemp(m.uploadDir, "upload-*"+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(head); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if _, err := io.Copy(f, file); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}

	m.logger.Debug("Saved upload",
		slog.String("filename", header.Filename),
		slog.String("path", f.Name()))

	return f.Name(), nil
}

func (m Main) newChat() (string, error) {
	newChat := models.Chat{
		ID: uuid.New().String(),
	}
	newChatID, err := m.store.AddChat(context.Background(), newChat)
	if err != nil {
		return "", fmt.Errorf("failed to add chat: %w", err)
	}
	newChat.ID = newChatID

	if err := m.publishChats(newChat.ID); err != nil {
		return "", err
	}

	return newChat.ID, nil
}

// chat runs one turn in the background. Rows of the turn are persisted as they are opened and updated,
// and the entries of the turn are rendered and published to the turn topic after every snapshot.
func (m Main) chat(chatID, turnID string, messages []models.Message, t assistant.Turn) {
	// Ensure SSE connection cleanup on function exit
	defer func() {
		e := &sse.Message{Type: closeTurnSSEType}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, turnTopic(turnID))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.turnTimeout)
	defer cancel()

	transcript := models.NewTranscript(messages)
	var (
		rowIDs []string
		live   liveEntries
	)

	for e := range m.assistant.Respond(ctx, t, transcript) {
		m.logger.Debug("Turn entry",
			slog.String("phase", string(e.Phase)),
			slog.Int("length", len(e.Content)),
			slog.Bool("notice", e.Notice))

		rows := transcript.Turn()
		if len(rows) == 0 {
			continue
		}
		row := rows[len(rows)-1]
		if len(rows) > len(rowIDs) {
			row.ID = uuid.New().String()
			id, err := m.store.AddMessage(context.Background(), chatID, row)
			if err != nil {
				m.logger.Error("Failed to add message",
					slog.String("chatID", chatID),
					slog.String(errLoggerKey, err.Error()))
				return
			}
			rowIDs = append(rowIDs, id)
		} else {
			row.ID = rowIDs[len(rows)-1]
			if err := m.store.UpdateMessage(context.Background(), chatID, row); err != nil {
				m.logger.Error("Failed to update message",
					slog.String("chatID", chatID),
					slog.String(errLoggerKey, err.Error()))
				return
			}
		}

		live = live.apply(e)
		if err := m.publishEntries(turnID, live); err != nil {
			m.logger.Error("Failed to publish entries",
				slog.String("turnID", turnID),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}
}

func (m Main) publishEntries(turnID string, live liveEntries) error {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "entries", m.renderMessages(live.messages())); err != nil {
		return fmt.Errorf("failed to execute entries template: %w", err)
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(sb.String())
	return m.sseSrv.Publish(&msg, turnTopic(turnID))
}

func (m Main) generateChatTitle(chatID string, message string) {
	title := imageOnlyTitle
	if message != "" {
		ctx, cancel := context.WithTimeout(context.Background(), m.turnTimeout)
		defer cancel()

		var err error
		title, err = m.assistant.Title(ctx, message)
		if err != nil {
			m.logger.Error("Error generating chat title",
				slog.String("message", message),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	updatedChat := models.Chat{
		ID:    chatID,
		Title: title,
	}
	if err := m.store.UpdateChat(context.Background(), updatedChat); err != nil {
		m.logger.Error("Failed to update chat title",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.publishChats(chatID); err != nil {
		m.logger.Error("Failed to publish chats",
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishChats(activeID string) error {
	divs, err := m.chatDivs(activeID)
	if err != nil {
		return fmt.Errorf("failed to create chat divs: %w", err)
	}

	msg := sse.Message{
		Type: chatsSSEType,
	}
	msg.AppendData(divs)

	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		return fmt.Errorf("failed to publish chats: %w", err)
	}
	return nil
}

func (m Main) chatDivs(activeID string) (string, error) {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}
