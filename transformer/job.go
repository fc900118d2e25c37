package transformer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/baldanca/embedgen/location"
	"github.com/baldanca/embedgen/source"
)

// ErrInvalidJob is returned when a payload cannot be turned into a Job.
var ErrInvalidJob = errors.New("transformer: invalid job")

// Job asks for one binary to be embedded into one header.
type Job struct {
	ID     string `json:"id,omitempty"`
	Input  string `json:"input"`
	Output string `json:"output"`
}

// s3TestEvent is published by S3 when a notification is first configured.
const s3TestEvent = "s3:TestEvent"

// s3Event is the subset of an S3 event notification needed to locate the
// uploaded objects.
type s3Event struct {
	Event   string `json:"Event"`
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// JobTransformer decodes queue payloads into jobs.
//
// A payload is either an explicit {"input": ..., "output": ...} job or an S3
// event notification. Every ObjectCreated record of an event becomes a job
// whose header is written next to the uploaded object with its extension
// replaced by OutputExtension. S3 test events and events without created
// objects yield no jobs.
type JobTransformer struct {
	// OutputExtension defaults to ".h".
	OutputExtension string
}

var _ Transformer[[]Job] = JobTransformer{}

func (t JobTransformer) Transform(ctx context.Context, env source.Envelope) ([]Job, error) {
	var raw []byte
	switch p := env.Payload.(type) {
	case string:
		raw = []byte(p)
	case []byte:
		raw = p
	default:
		return nil, fmt.Errorf("%w: unsupported payload type %T", ErrInvalidJob, env.Payload)
	}

	id := env.Meta[source.MetaMessageID]

	var ev s3Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if ev.Event == s3TestEvent {
		return nil, nil
	}
	if len(ev.Records) > 0 {
		return t.fromEvent(id, ev)
	}

	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if job.Input == "" || job.Output == "" {
		return nil, fmt.Errorf("%w: input and output are required", ErrInvalidJob)
	}
	for _, loc := range []string{job.Input, job.Output} {
		if _, err := location.Parse(loc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
	}
	if job.ID == "" {
		job.ID = id
	}
	return []Job{job}, nil
}

// fromEvent fails the whole event when any record is malformed, so no record
// is acknowledged without being converted.
func (t JobTransformer) fromEvent(id string, ev s3Event) ([]Job, error) {
	ext := t.OutputExtension
	if ext == "" {
		ext = ".h"
	}

	jobs := make([]Job, 0, len(ev.Records))
	for i, rec := range ev.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated:") {
			continue
		}

		bucket := rec.S3.Bucket.Name
		// Event keys are URL-encoded with '+' for spaces.
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: object key %q: %v", ErrInvalidJob, i, rec.S3.Object.Key, err)
		}
		if bucket == "" || key == "" {
			return nil, fmt.Errorf("%w: record %d: event without bucket or key", ErrInvalidJob, i)
		}

		out := strings.TrimSuffix(key, path.Ext(key)) + ext
		if out == key {
			return nil, fmt.Errorf("%w: record %d: output would overwrite input %q", ErrInvalidJob, i, key)
		}

		jobs = append(jobs, Job{
			Input:  "s3://" + bucket + "/" + key,
			Output: "s3://" + bucket + "/" + out,
		})
	}

	for i := range jobs {
		jobs[i].ID = id
		if len(jobs) > 1 && id != "" {
			jobs[i].ID = fmt.Sprintf("%s#%d", id, i)
		}
	}
	return jobs, nil
}
