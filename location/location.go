package location

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Scheme identifies where a Location lives.
type Scheme string

const (
	SchemeFile Scheme = "file"
	SchemeS3   Scheme = "s3"
)

// ErrInvalid is returned when a location string cannot be parsed.
var ErrInvalid = errors.New("location: invalid")

// Location is a parsed input or output reference.
//
// Plain paths and file:// URLs are local files; s3://bucket/key addresses an
// object. Keys keep S3 semantics and are never path-cleaned.
type Location struct {
	Scheme Scheme
	Path   string
	Bucket string
	Key    string
}

// Parse interprets s as a local path or an s3:// URL.
func Parse(s string) (Location, error) {
	if s == "" {
		return Location{}, fmt.Errorf("%w: empty", ErrInvalid)
	}

	switch {
	case strings.HasPrefix(s, "s3://"):
		rest := strings.TrimPrefix(s, "s3://")
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, fmt.Errorf("%w: missing bucket in %q", ErrInvalid, s)
		}
		return Location{Scheme: SchemeS3, Bucket: bucket, Key: key}, nil
	case strings.HasPrefix(s, "file://"):
		p := strings.TrimPrefix(s, "file://")
		if p == "" {
			return Location{}, fmt.Errorf("%w: empty path in %q", ErrInvalid, s)
		}
		return Location{Scheme: SchemeFile, Path: p}, nil
	default:
		return Location{Scheme: SchemeFile, Path: s}, nil
	}
}

// IsS3 reports whether s is an s3:// URL without fully parsing it.
func IsS3(s string) bool { return strings.HasPrefix(s, "s3://") }

// Join appends elem to a directory-like location (a local directory or an S3
// prefix).
func (l Location) Join(elem string) Location {
	switch l.Scheme {
	case SchemeS3:
		key := strings.TrimSuffix(l.Key, "/")
		elem = strings.TrimLeft(elem, "/")
		if key == "" {
			l.Key = elem
		} else {
			l.Key = key + "/" + elem
		}
	default:
		l.Path = path.Join(l.Path, elem)
	}
	return l
}

func (l Location) String() string {
	if l.Scheme == SchemeS3 {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Path
}
