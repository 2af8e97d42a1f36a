package assistant

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/MegaGrindStone/mycochat/internal/models"
	"github.com/invopop/jsonschema"
)

// DefaultSystemPrompt keeps the model on the subject of mushrooms.
const DefaultSystemPrompt = `You are an assistant that only discusses mushrooms. Talk to the user naturally, ` +
	`not like a robot. Work out whether the question is about mushrooms or information about them. If it is ` +
	`not, ask the user for a new question or to rephrase it. Otherwise answer with the mushroom knowledge ` +
	`available to you.`

// DefaultTitlePrompt asks for a short chat title.
const DefaultTitlePrompt = `Write a title of at most six words for a conversation that starts with the ` +
	`following message. Reply with the title only, without quotes or punctuation at the end.`

const identifyPreamble = `You are an assistant that only discusses mushrooms. No question was asked, only an ` +
	`image was given. Reply with a single valid JSON object describing the mushroom in the picture and ` +
	`nothing else. The object must have exactly the six attributes of this JSON schema, and strict JSON ` +
	`syntax must be followed:`

// Identification is the reply expected for an image sent without a question. It is only used to describe
// the expected shape to the model; replies are never validated against it.
type Identification struct {
	CommonName string   `json:"common_name" jsonschema:"description=Common name of the mushroom"`
	Genus      string   `json:"genus" jsonschema:"description=Genus the mushroom belongs to"`
	Confidence float64  `json:"confidence" jsonschema:"description=Confidence of the prediction,minimum=0,maximum=1"`
	Visible    []string `json:"visible" jsonschema:"description=Parts of the mushroom visible in the image: one or more of cap/hymenium/stipe,enum=cap,enum=hymenium,enum=stipe"`
	Color      string   `json:"color" jsonschema:"description=Color of the mushroom in the picture"`
	Edible     bool     `json:"edible" jsonschema:"description=Whether the mushroom is edible"`
}

var identifyPrompt = sync.OnceValue(func() string {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema, err := json.MarshalIndent(r.Reflect(&Identification{}), "", "  ")
	if err != nil {
		// Identification is a fixed struct; reflecting it cannot fail at runtime.
		panic(fmt.Errorf("failed to marshal identification schema: %w", err))
	}
	return identifyPreamble + "\n\n" + string(schema)
})

// IdentifyPrompt returns the system instruction used for image-only turns, including the JSON schema of
// Identification.
func IdentifyPrompt() string {
	return identifyPrompt()
}

// BuildPrompt combines the user's question with the text of the earlier transcript. The question line is
// left out when the user sent no text.
func BuildPrompt(text, history string) string {
	var sb strings.Builder
	if text != "" {
		sb.WriteString("Question: ")
		sb.WriteString(text)
	}
	sb.WriteString("\n\nHistory:\n")
	sb.WriteString(history)
	return sb.String()
}

// StripFences removes the markdown code fences models like to wrap JSON replies in.
func StripFences(reply string) string {
	reply = strings.ReplaceAll(reply, "```json", "")
	reply = strings.ReplaceAll(reply, "```", "")
	return strings.TrimSpace(reply)
}

// LoadImage reads the attachment at path. The MIME type is sniffed from the content, and anything that
// is not an image is rejected.
func LoadImage(path string) (*models.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}

	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("attachment %s is %s, not an image", path, mime)
	}

	return &models.Image{
		MIMEType: mime,
		Data:     data,
	}, nil
}
