package sink

import (
	"context"
	"fmt"

	"github.com/baldanca/embedgen/location"
)

// Router dispatches writes by key scheme: s3:// keys go to Remote, everything
// else to Local.
type Router struct {
	Local  Sinkr
	Remote Sinkr
}

func (r Router) pick(key string) (Sinkr, error) {
	if location.IsS3(key) {
		if r.Remote == nil {
			return nil, fmt.Errorf("no s3 sink configured for %q", key)
		}
		return r.Remote, nil
	}
	if r.Local == nil {
		return File{}, nil
	}
	return r.Local, nil
}

func (r Router) Write(ctx context.Context, req WriteRequest) error {
	s, err := r.pick(req.Key)
	if err != nil {
		return err
	}
	return s.Write(ctx, req)
}

// WriteStream streams when the selected sink supports it and buffers
// otherwise.
func (r Router) WriteStream(ctx context.Context, req StreamWriteRequest) error {
	s, err := r.pick(req.Key)
	if err != nil {
		return err
	}
	if ss, ok := s.(StreamSinkr); ok {
		return ss.WriteStream(ctx, req)
	}
	return bufferAndWrite(ctx, s, req)
}
