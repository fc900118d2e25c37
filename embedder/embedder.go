package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/baldanca/embedgen/cidutil"
	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
)

// Result describes one completed conversion.
type Result struct {
	Input  string
	Output string
	Size   int
	SHA256 string
	CID    string
}

// Embedder reads a binary, encodes it and writes the artifact.
type Embedder struct {
	reader  source.Reader
	encoder encoder.Encoder
	sink    sink.Sinkr

	retry RetryPolicy
	log   zerolog.Logger
	diag  io.Writer
}

type Option func(*Embedder)

// WithRetryPolicy retries reads and writes. The default is a single attempt.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Embedder) {
		if p == nil {
			p = nopRetry{}
		}
		e.retry = p
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Embedder) { e.log = l }
}

// WithDiagnostics sets where the two per-conversion report lines are
// printed. The default discards them.
func WithDiagnostics(w io.Writer) Option {
	return func(e *Embedder) {
		if w == nil {
			w = io.Discard
		}
		e.diag = w
	}
}

func New(reader source.Reader, enc encoder.Encoder, sk sink.Sinkr, opts ...Option) (*Embedder, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	if enc == nil {
		return nil, fmt.Errorf("encoder is nil")
	}
	if sk == nil {
		return nil, fmt.Errorf("sink is nil")
	}

	e := &Embedder{
		reader:  reader,
		encoder: enc,
		sink:    sk,
		retry:   nopRetry{},
		log:     zerolog.Nop(),
		diag:    io.Discard,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed converts the binary at input into an artifact at output.
//
// A missing input yields an error wrapping source.ErrNotFound and nothing is
// written. A failed write may leave a partial artifact at output.
func (e *Embedder) Embed(ctx context.Context, input, output string) (Result, error) {
	res := Result{Input: input, Output: output}
	if input == "" {
		return res, fmt.Errorf("%w: %q", source.ErrNotFound, input)
	}
	if output == "" {
		return res, errors.New("output is required")
	}

	var data []byte
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		d, err := e.reader.Read(ctx, input)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		return res, err
	}

	id, err := cidutil.Of(data)
	if err != nil {
		return res, fmt.Errorf("content id: %w", err)
	}
	res.Size = len(data)
	res.SHA256 = id.SHA256
	res.CID = id.CID

	if err := e.write(ctx, output, data); err != nil {
		return res, err
	}

	fmt.Fprintf(e.diag, "Generated embedded library header: %s\n", output)
	fmt.Fprintf(e.diag, "Original library size: %d bytes\n", len(data))

	e.log.Info().
		Str("input", input).
		Str("output", output).
		Int("size", res.Size).
		Str("cid", res.CID).
		Msg("embedded library")

	return res, nil
}

func (e *Embedder) write(ctx context.Context, output string, data []byte) error {
	// Prefer streaming when both encoder and sink support it.
	if streamed, err := tryStreamWrite(ctx, e.encoder, e.sink, e.retry, output, data); streamed {
		return err
	}

	encoded, err := e.encoder.Encode(ctx, data)
	if err != nil {
		return err
	}

	req := sink.WriteRequest{Key: output, Data: encoded, ContentType: contentType(e.encoder)}
	return e.retry.Do(ctx, func(ctx context.Context) error {
		return e.sink.Write(ctx, req)
	})
}

func contentType(enc encoder.Encoder) string {
	if ct := enc.ContentType(); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
