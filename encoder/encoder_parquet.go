package encoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ManifestRecord is one row of a conversion manifest.
type ManifestRecord struct {
	JobID       string `parquet:"job_id"`
	Input       string `parquet:"input"`
	Output      string `parquet:"output"`
	Size        int64  `parquet:"size"`
	SHA256      string `parquet:"sha256"`
	CID         string `parquet:"cid"`
	Error       string `parquet:"error"`
	GeneratedAt int64  `parquet:"generated_at_ms"`
}

// ManifestEncoder writes manifest records as a parquet file.
type ManifestEncoder struct {
	// Compression (optional): "", "snappy", "gzip", "zstd"
	Compression string
}

func (e ManifestEncoder) FileExtension() string { return ".parquet" }

func (e ManifestEncoder) ContentType() string { return "application/vnd.apache.parquet" }

func (e ManifestEncoder) Encode(ctx context.Context, records []ManifestRecord) ([]byte, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	options := make([]parquet.WriterOption, 0, 1)
	switch e.Compression {
	case "":
	case "snappy":
		options = append(options, parquet.Compression(&parquet.Snappy))
	case "gzip":
		options = append(options, parquet.Compression(&parquet.Gzip))
	case "zstd":
		options = append(options, parquet.Compression(&parquet.Zstd))
	default:
		return nil, fmt.Errorf("%w: unsupported parquet compression %q", ErrInvalidOption, e.Compression)
	}

	output := &bytes.Buffer{}
	w := parquet.NewGenericWriter[ManifestRecord](output, options...)

	if _, err := w.Write(records); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write manifest rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close manifest writer: %w", err)
	}

	return output.Bytes(), nil
}
