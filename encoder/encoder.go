package encoder

import (
	"context"
	"io"
)

// Encoder converts a source binary into an embeddable artifact.
//
// Implementations must be safe for concurrent use unless documented otherwise.
type Encoder interface {
	Encode(ctx context.Context, data []byte) ([]byte, error)
	FileExtension() string
	ContentType() string
}

// StreamEncoder is an optional interface for encoders that can write directly
// to an io.Writer to avoid buffering the full output in memory.
type StreamEncoder interface {
	EncodeTo(ctx context.Context, data []byte, w io.Writer) error
	FileExtension() string
	ContentType() string
}
