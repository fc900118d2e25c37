package embedder

import (
	"errors"
	"fmt"
	"time"

	"github.com/baldanca/embedgen/encoder"
)

// ManifestConfig controls how conversion records are batched into parquet
// manifests. An empty Location disables manifests.
type ManifestConfig struct {
	Location      string
	MaxRecords    int
	FlushInterval time.Duration
	Compression   string
}

var DefaultManifestConfig = ManifestConfig{
	MaxRecords:    1000,
	FlushInterval: 5 * time.Minute,
	Compression:   "snappy",
}

func (c ManifestConfig) Enabled() bool { return c.Location != "" }

func (c ManifestConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.MaxRecords <= 0 {
		return errors.New("manifest MaxRecords must be > 0")
	}
	if c.FlushInterval <= 0 {
		return errors.New("manifest FlushInterval must be > 0")
	}
	switch c.Compression {
	case "", "snappy", "gzip", "zstd":
	default:
		return fmt.Errorf("%w: unsupported manifest compression %q", encoder.ErrInvalidOption, c.Compression)
	}
	return nil
}

type manifestBatcher struct {
	cfg ManifestConfig

	records  []encoder.ManifestRecord
	deadline time.Time
	active   bool
}

func newManifestBatcher(cfg ManifestConfig) *manifestBatcher {
	return &manifestBatcher{cfg: cfg}
}

// Add buffers rec and reports whether the batch reached MaxRecords.
func (b *manifestBatcher) Add(now time.Time, rec encoder.ManifestRecord) (flushNow bool) {
	if !b.active {
		b.active = true
		b.deadline = now.Add(b.cfg.FlushInterval)
	}
	b.records = append(b.records, rec)
	return len(b.records) >= b.cfg.MaxRecords
}

func (b *manifestBatcher) ShouldFlushTime(now time.Time) bool {
	if !b.active {
		return false
	}
	return !now.Before(b.deadline)
}

func (b *manifestBatcher) Len() int { return len(b.records) }

func (b *manifestBatcher) Flush() []encoder.ManifestRecord {
	out := b.records

	b.records = nil
	b.active = false
	b.deadline = time.Time{}

	return out
}
