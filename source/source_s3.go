package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/baldanca/embedgen/location"
)

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads binaries from s3://bucket/key locations.
type S3 struct {
	client s3API
}

func NewS3(client s3API) *S3 {
	if client == nil {
		panic("s3 client is required")
	}
	return &S3{client: client}
}

func (s *S3) Read(ctx context.Context, loc string) ([]byte, error) {
	l, err := location.Parse(loc)
	if err != nil {
		return nil, err
	}
	if l.Scheme != location.SchemeS3 || l.Key == "" {
		return nil, fmt.Errorf("%w: not an s3 object: %q", location.ErrInvalid, loc)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &l.Bucket,
		Key:    &l.Key,
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, loc)
		}
		return nil, fmt.Errorf("get s3 object key=%q: %w", l.Key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object key=%q: %w", l.Key, err)
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	return false
}
