package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/baldanca/embedgen/location"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type uploaderAPI interface {
	UploadObject(ctx context.Context, input *transfermanager.UploadObjectInput, opts ...func(*transfermanager.Options)) (*transfermanager.UploadObjectOutput, error)
}

// Sink writes artifacts to S3.
//
// Keys given as s3:// URLs address their own bucket and key. Other keys are
// relative to the configured bucket and prefix.
type Sink struct {
	client   s3API
	uploader uploaderAPI

	bucket string
	prefix string
}

type Option func(*Sink)

// WithUploader enables streaming uploads through the S3 transfer manager.
// Without it WriteStream buffers the artifact and uses PutObject.
func WithUploader(u uploaderAPI) Option {
	return func(s *Sink) { s.uploader = u }
}

func New(client s3API, bucket, prefix string, opts ...Option) *Sink {
	if client == nil {
		panic("s3 client is required")
	}

	s := &Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolve keeps S3 semantics: keys are never path-cleaned.
func (s *Sink) resolve(key string) (bucket, objectKey string, err error) {
	if key == "" {
		return "", "", fmt.Errorf("empty key")
	}

	if location.IsS3(key) {
		l, err := location.Parse(key)
		if err != nil {
			return "", "", err
		}
		if l.Key == "" {
			return "", "", fmt.Errorf("%w: missing object key in %q", location.ErrInvalid, key)
		}
		return l.Bucket, l.Key, nil
	}

	if strings.TrimSpace(s.bucket) == "" {
		return "", "", fmt.Errorf("no bucket configured for relative key %q", key)
	}
	objectKey = strings.TrimLeft(key, "/")
	if s.prefix != "" {
		objectKey = s.prefix + "/" + objectKey
	}
	return s.bucket, objectKey, nil
}

func (s *Sink) Write(ctx context.Context, req WriteRequest) error {
	bucket, key, err := s.resolve(req.Key)
	if err != nil {
		return err
	}

	cl := int64(len(req.Data))
	var body bytes.Reader
	body.Reset(req.Data)

	input := s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          &body,
		ContentLength: &cl,
	}
	if req.ContentType != "" {
		ct := req.ContentType
		input.ContentType = &ct
	}

	if _, err := s.client.PutObject(ctx, &input); err != nil {
		return fmt.Errorf("put s3 object key=%q: %w", key, err)
	}
	return nil
}

func (s *Sink) WriteStream(ctx context.Context, req StreamWriteRequest) error {
	if s.uploader == nil || req.Writer == nil {
		return bufferAndWrite(ctx, s, req)
	}

	bucket, key, err := s.resolve(req.Key)
	if err != nil {
		return err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(req.Writer.WriteTo(pw))
	}()

	input := &transfermanager.UploadObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   pr,
	}
	if req.ContentType != "" {
		ct := req.ContentType
		input.ContentType = &ct
	}

	_, err = s.uploader.UploadObject(ctx, input)
	// unblock the producer if the upload stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return fmt.Errorf("upload s3 object key=%q: %w", key, err)
	}
	return nil
}
