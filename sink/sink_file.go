package sink

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/baldanca/embedgen/location"
)

// File writes artifacts to the local filesystem, truncating existing files.
//
// A write that fails midway may leave a partial file behind.
type File struct {
	// Root, when set, is prepended to relative keys.
	Root string
	// Perm is used for new files; zero means 0644.
	Perm fs.FileMode
	// CreateDirs creates missing parent directories.
	CreateDirs bool
}

func (f File) Write(ctx context.Context, req WriteRequest) error {
	return f.write(ctx, req.Key, func(w *bufio.Writer) error {
		_, err := w.Write(req.Data)
		return err
	})
}

func (f File) WriteStream(ctx context.Context, req StreamWriteRequest) error {
	if req.Writer == nil {
		return errors.New("nil stream writer")
	}
	return f.write(ctx, req.Key, func(w *bufio.Writer) error {
		return req.Writer.WriteTo(w)
	})
}

func (f File) write(ctx context.Context, key string, fill func(w *bufio.Writer) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if f.CreateDirs {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("create parent of %q: %w", p, err)
		}
	}

	perm := f.Perm
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open %q: %w", p, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %q: %w", p, cerr)
		}
	}()

	bw := bufio.NewWriterSize(out, 64*1024)
	if err := fill(bw); err != nil {
		return fmt.Errorf("write %q: %w", p, err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write %q: %w", p, err)
	}
	return nil
}

func (f File) path(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	l, err := location.Parse(key)
	if err != nil {
		return "", err
	}
	if l.Scheme != location.SchemeFile {
		return "", fmt.Errorf("%w: not a local path: %q", location.ErrInvalid, key)
	}
	if f.Root != "" && !filepath.IsAbs(l.Path) {
		return filepath.Join(f.Root, l.Path), nil
	}
	return l.Path, nil
}
