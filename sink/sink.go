package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// WriteRequest carries one fully encoded artifact. Key is a location: a local
// path, a file:// URL, an s3:// URL, or a key relative to the sink's root.
type WriteRequest struct {
	Key         string
	Data        []byte
	ContentType string
}

// StreamWriter represents something that can write its contents to a destination writer.
type StreamWriter interface {
	WriteTo(w io.Writer) error
}

type StreamWriteRequest struct {
	Key         string
	ContentType string
	// Writer streams directly to the destination.
	// Implementations must return when done writing.
	Writer StreamWriter
}

type Sinkr interface {
	Write(ctx context.Context, req WriteRequest) error
}

// StreamSinkr is an optional interface implemented by sinks that can stream data directly
// to the destination without buffering the full payload in memory.
type StreamSinkr interface {
	WriteStream(ctx context.Context, req StreamWriteRequest) error
}

func bufferAndWrite(ctx context.Context, s Sinkr, req StreamWriteRequest) error {
	if req.Writer == nil {
		return errors.New("nil stream writer")
	}
	var buf bytes.Buffer
	if err := req.Writer.WriteTo(&buf); err != nil {
		return err
	}
	return s.Write(ctx, WriteRequest{Key: req.Key, Data: buf.Bytes(), ContentType: req.ContentType})
}
