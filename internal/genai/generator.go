package genai

import "context"

// Generator binds a Client to configured model names so callers don't carry
// model selection around.
type Generator struct {
	client      *Client
	textModel   string
	visionModel string
}

// NewGenerator creates a Generator using textModel for text prompts and
// visionModel for prompts that include an image.
func NewGenerator(client *Client, textModel, visionModel string) *Generator {
	return &Generator{client: client, textModel: textModel, visionModel: visionModel}
}

func (g *Generator) GenerateText(ctx context.Context, prompt string) (string, error) {
	return g.client.GenerateText(ctx, g.textModel, prompt)
}

func (g *Generator) GenerateVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	return g.client.GenerateVision(ctx, g.visionModel, prompt, image, mimeType)
}
