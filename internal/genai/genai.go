// Package genai wraps the Genkit Google AI plugin behind small
// constructors and a retrying text generator.
package genai

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// Init initializes Genkit with the Google AI plugin. The plugin reads
// GEMINI_API_KEY (or GOOGLE_API_KEY) from the environment.
func Init(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("genkit initialization returned nil")
	}
	return g, nil
}

// Embedder looks up the Google AI embedder for the given model name.
func Embedder(g *genkit.Genkit, model string) ai.Embedder {
	return googlegenai.GoogleAIEmbedder(g, model)
}
