package embedder

import (
	"context"
	"io"

	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/sink"
)

type encodeToWriter struct {
	ctx  context.Context
	se   encoder.StreamEncoder
	data []byte
}

func (w encodeToWriter) WriteTo(dst io.Writer) error {
	return w.se.EncodeTo(w.ctx, w.data, dst)
}

func tryStreamWrite(
	ctx context.Context,
	enc encoder.Encoder,
	s sink.Sinkr,
	retry RetryPolicy,
	key string,
	data []byte,
) (streamed bool, err error) {
	se, ok := enc.(encoder.StreamEncoder)
	if !ok {
		return false, nil
	}
	ss, ok := s.(sink.StreamSinkr)
	if !ok {
		return false, nil
	}

	if retry == nil {
		retry = nopRetry{}
	}

	err = retry.Do(ctx, func(ctx context.Context) error {
		return ss.WriteStream(ctx, sink.StreamWriteRequest{
			Key:         key,
			ContentType: contentType(enc),
			Writer:      encodeToWriter{ctx: ctx, se: se, data: data},
		})
	})
	return true, err
}
