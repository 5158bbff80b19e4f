package affinity

import "context"

// #region embedder-interface

// Embedder abstracts text embedding so the scorer can run on the local hash
// embedding or a remote model without changing callers.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region constants

// Dimensions is the size of every embedding produced by HashEmbed.
const Dimensions = 128

// DefaultAnchor is the reference tone unstable scores are pulled toward.
const DefaultAnchor = "calm, warm, empathetic and clear"

// #endregion constants
