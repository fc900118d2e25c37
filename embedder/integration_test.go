package embedder_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baldanca/embedgen/embedder"
	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
	"github.com/baldanca/embedgen/transformer"
)

type memMsg struct {
	env  source.Envelope
	meta source.AckMetadata

	failed atomic.Int32
}

func (m *memMsg) Data() source.Envelope                        { return m.env }
func (m *memMsg) Fail(ctx context.Context, reason error) error { m.failed.Add(1); return nil }
func (m *memMsg) AckMeta() (source.AckMetadata, bool)          { return m.meta, true }

// memQueue reports source.ErrClosed once drained.
type memQueue struct {
	ch    chan source.Message
	acked atomic.Int64
}

func newMemQueue(msgs []source.Message) *memQueue {
	q := &memQueue{ch: make(chan source.Message, len(msgs))}
	for _, m := range msgs {
		q.ch <- m
	}
	close(q.ch)
	return q
}

func (q *memQueue) Receive(ctx context.Context) (source.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-q.ch:
		if !ok {
			return nil, source.ErrClosed
		}
		return m, nil
	}
}

func (q *memQueue) AckBatch(ctx context.Context, msgs []source.Message) error {
	q.acked.Add(int64(len(msgs)))
	return nil
}

func (q *memQueue) AckBatchMeta(ctx context.Context, metas []source.AckMetadata) error {
	q.acked.Add(int64(len(metas)))
	return nil
}

func TestIntegration_Worker_FilesystemEndToEnd(t *testing.T) {
	dir := t.TempDir()

	const total = 40
	msgs := make([]source.Message, 0, total+1)
	for i := 0; i < total; i++ {
		in := filepath.Join(dir, "in", fmt.Sprintf("lib%02d.so", i))
		require.NoError(t, os.MkdirAll(filepath.Dir(in), 0o755))
		require.NoError(t, os.WriteFile(in, []byte(fmt.Sprintf("\x7fELF-%d", i)), 0o644))

		body, err := json.Marshal(transformer.Job{
			ID:     fmt.Sprintf("job-%d", i),
			Input:  in,
			Output: filepath.Join(dir, "out", fmt.Sprintf("lib%02d.h", i)),
		})
		require.NoError(t, err)
		msgs = append(msgs, &memMsg{
			env:  source.Envelope{Payload: body},
			meta: source.AckMetadata{ID: fmt.Sprint(i), Handle: "rh"},
		})
	}
	msgs = append(msgs, &memMsg{env: source.Envelope{Payload: `{"input":"` + filepath.Join(dir, "gone.so") + `","output":"x.h"}`}})

	out := sink.Router{Local: sink.File{CreateDirs: true}}
	emb, err := embedder.New(source.Router{}, encoder.NewHeaderEncoder(), out)
	require.NoError(t, err)

	q := newMemQueue(msgs)
	cfg := embedder.DefaultWorkerConfig
	cfg.Manifest = embedder.ManifestConfig{
		Location:      filepath.Join(dir, "manifests"),
		MaxRecords:    1000,
		FlushInterval: time.Hour,
		Compression:   "zstd",
	}

	w, err := embedder.NewWorker(cfg, emb, q, transformer.JobTransformer{}, embedder.WithManifestSink(out, nil))
	require.NoError(t, err)
	require.NoError(t, w.Run(context.Background()))

	assert.EqualValues(t, total+1, q.acked.Load())
	assert.Equal(t, embedder.Stats{Converted: total, Missing: 1}, w.Stats())

	for i := 0; i < total; i++ {
		hdr, err := os.ReadFile(filepath.Join(dir, "out", fmt.Sprintf("lib%02d.h", i)))
		require.NoError(t, err)
		dec, err := encoder.Decode(hdr)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("\x7fELF-%d", i), string(dec.Data))
	}

	var manifests []string
	require.NoError(t, filepath.Walk(filepath.Join(dir, "manifests"), func(p string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			manifests = append(manifests, p)
		}
		return err
	}))
	require.Len(t, manifests, 1)
	assert.Equal(t, ".parquet", filepath.Ext(manifests[0]))
}

func BenchmarkIntegration_Embed(b *testing.B) {
	dir := b.TempDir()
	in := filepath.Join(dir, "lib.so")
	data := make([]byte, 1<<20)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := os.WriteFile(in, data, 0o644); err != nil {
		b.Fatal(err)
	}

	emb, err := embedder.New(source.File{}, encoder.NewHeaderEncoder(), sink.File{})
	if err != nil {
		b.Fatal(err)
	}
	out := filepath.Join(dir, "lib.h")

	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := emb.Embed(context.Background(), in, out); err != nil {
			b.Fatal(err)
		}
	}
}
