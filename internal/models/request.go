package models

// Request is the payload sent to a model provider for one turn. Prompt is always present; Image is set
// when the user attached a picture.
type Request struct {
	Prompt string
	Image  *Image
	Config GenerateConfig
}

// Image is an inline picture attached to a request.
type Image struct {
	MIMEType string
	Data     []byte
}

// GenerateConfig is the configuration bundle recognized by the providers. Temperature lies in [0, 1];
// Safety maps a harm category name to a blocking threshold name, e.g.
// HARM_CATEGORY_DANGEROUS_CONTENT to BLOCK_LOW_AND_ABOVE.
type GenerateConfig struct {
	SystemInstruction string
	Temperature       float32
	Safety            map[string]string
}
