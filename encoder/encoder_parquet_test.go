package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func readManifest(t *testing.T, b []byte) []ManifestRecord {
	t.Helper()

	r := parquet.NewGenericReader[ManifestRecord](bytes.NewReader(b))
	defer r.Close()

	buf := make([]ManifestRecord, 64)
	var out []ManifestRecord
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read parquet: %v", err)
		}
	}
	return out
}

func makeRecords(n int) []ManifestRecord {
	recs := make([]ManifestRecord, n)
	for i := range recs {
		recs[i] = ManifestRecord{
			JobID:       fmt.Sprintf("job-%d", i),
			Input:       fmt.Sprintf("s3://bkt/lib%d.so", i),
			Output:      fmt.Sprintf("s3://bkt/lib%d.h", i),
			Size:        int64(i * 100),
			SHA256:      "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			CID:         "bafkreihdwdcefgh4dqkjv67uzcmw7ojee6xedzdetojuzjevtenxquvyku",
			GeneratedAt: 1760745600000 + int64(i),
		}
	}
	recs[n-1].Error = "source: not found: s3://bkt/missing.so"
	return recs
}

func TestManifestEncoder_Metadata(t *testing.T) {
	e := ManifestEncoder{}
	if got := e.FileExtension(); got != ".parquet" {
		t.Fatalf("FileExtension() = %q", got)
	}
	if got := e.ContentType(); got != "application/vnd.apache.parquet" {
		t.Fatalf("ContentType() = %q", got)
	}
}

func TestManifestEncoder_UnsupportedCompression(t *testing.T) {
	_, err := ManifestEncoder{Compression: "brotli"}.Encode(context.Background(), makeRecords(1))
	if !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("expected ErrInvalidOption, got %v", err)
	}
}

func TestManifestEncoder_ContextCanceledBefore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (ManifestEncoder{}).Encode(ctx, makeRecords(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestManifestEncoder_RoundTrip(t *testing.T) {
	for _, compression := range []string{"", "snappy", "gzip", "zstd"} {
		t.Run("compression="+compression, func(t *testing.T) {
			recs := makeRecords(5)

			data, err := ManifestEncoder{Compression: compression}.Encode(context.Background(), recs)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got := readManifest(t, data)
			if len(got) != len(recs) {
				t.Fatalf("rows=%d want=%d", len(got), len(recs))
			}
			for i := range recs {
				if got[i] != recs[i] {
					t.Fatalf("row %d mismatch: got=%+v want=%+v", i, got[i], recs[i])
				}
			}
		})
	}
}

func BenchmarkManifestEncoder_Snappy(b *testing.B) {
	for _, n := range []int{10, 1_000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			recs := makeRecords(n)
			enc := ManifestEncoder{Compression: "snappy"}
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := enc.Encode(ctx, recs); err != nil {
					b.Fatalf("Encode: %v", err)
				}
			}
		})
	}
}
