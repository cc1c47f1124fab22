// Package embedding implements the Embedding Service (ES) binding: a
// minimal client contract for turning text into fixed-length vectors, an
// OpenAI-compatible HTTP implementation, and a deterministic local
// fallback for offline/test use.
package embedding

import "context"

// Client is the Embedding Service contract.
type Client interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the fixed vector length this client produces.
	Dimensions() int
}
