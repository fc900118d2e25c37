package transformer

import (
	"context"

	"github.com/baldanca/embedgen/source"
)

// Transformer converts one value into another.
//
// In this project it converts a queue source.Envelope into conversion jobs.
type Transformer[O any] interface {
	Transform(ctx context.Context, in source.Envelope) (O, error)
}
