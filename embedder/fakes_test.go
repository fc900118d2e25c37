package embedder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
)

type memReader struct {
	mu    sync.Mutex
	files map[string][]byte
	fails map[string]int
	reads int32
}

func newMemReader() *memReader {
	return &memReader{files: map[string][]byte{}, fails: map[string]int{}}
}

func (r *memReader) put(name string, data []byte) { r.files[name] = data }

func (r *memReader) Read(ctx context.Context, loc string) ([]byte, error) {
	atomic.AddInt32(&r.reads, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fails[loc] > 0 {
		r.fails[loc]--
		return nil, errors.New("transient read")
	}
	data, ok := r.files[loc]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, loc)
	}
	return data, nil
}

type memSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    error

	writes  int32
	streams int32
}

func newMemSink() *memSink {
	return &memSink{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *memSink) Write(ctx context.Context, req sink.WriteRequest) error {
	atomic.AddInt32(&s.writes, 1)
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[req.Key] = append([]byte(nil), req.Data...)
	s.types[req.Key] = req.ContentType
	return nil
}

func (s *memSink) get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	return b, ok
}

func (s *memSink) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}

type memStreamSink struct {
	*memSink
}

func (s memStreamSink) WriteStream(ctx context.Context, req sink.StreamWriteRequest) error {
	atomic.AddInt32(&s.streams, 1)
	if s.fail != nil {
		return s.fail
	}
	var buf bytes.Buffer
	if err := req.Writer.WriteTo(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[req.Key] = buf.Bytes()
	s.types[req.Key] = req.ContentType
	return nil
}

var (
	_ source.Reader    = (*memReader)(nil)
	_ sink.Sinkr       = (*memSink)(nil)
	_ sink.StreamSinkr = memStreamSink{}
)
