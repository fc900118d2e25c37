package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/baldanca/embedgen/location"
)

var (
	// ErrNotFound is returned when the input binary does not exist.
	ErrNotFound = errors.New("source: not found")
	// ErrNotRegular is returned when a local input exists but is not a
	// regular file.
	ErrNotRegular = errors.New("source: not a regular file")
)

// IsNotFound reports whether err means the input does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Reader loads a whole binary from a location.
type Reader interface {
	Read(ctx context.Context, loc string) ([]byte, error)
}

// Router dispatches reads by location scheme.
type Router struct {
	File Reader
	S3   Reader
}

func (r Router) Read(ctx context.Context, loc string) ([]byte, error) {
	l, err := location.Parse(loc)
	if err != nil {
		return nil, err
	}

	switch l.Scheme {
	case location.SchemeS3:
		if r.S3 == nil {
			return nil, fmt.Errorf("no s3 reader configured for %q", loc)
		}
		return r.S3.Read(ctx, loc)
	default:
		if r.File == nil {
			return File{}.Read(ctx, l.Path)
		}
		return r.File.Read(ctx, l.Path)
	}
}
