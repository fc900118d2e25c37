package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/baldanca/embedgen/encoder"
	"github.com/baldanca/embedgen/location"
	"github.com/baldanca/embedgen/sink"
	"github.com/baldanca/embedgen/source"
	"github.com/baldanca/embedgen/transformer"
)

// WorkerConfig configures the queue-driven conversion worker.
type WorkerConfig struct {
	// Workers is the number of goroutines converting jobs concurrently.
	Workers int
	// AckBatchSize is how many successful jobs a goroutine accumulates before
	// deleting them from the queue.
	AckBatchSize int

	// LeaseVisibilityTimeoutSeconds, when > 0, keeps a job invisible while it
	// is converted by extending its visibility every LeaseRenewEvery.
	LeaseVisibilityTimeoutSeconds int32
	LeaseRenewEvery               time.Duration

	// StopTimeout bounds the final ack commit and manifest flush.
	StopTimeout time.Duration

	Manifest ManifestConfig
}

var DefaultWorkerConfig = WorkerConfig{
	Workers:      4,
	AckBatchSize: 10,
	StopTimeout:  10 * time.Second,
	Manifest:     DefaultManifestConfig,
}

func (c WorkerConfig) Validate() error {
	if c.Workers <= 0 {
		return errors.New("Workers must be > 0")
	}
	if c.AckBatchSize <= 0 || c.AckBatchSize > 10 {
		return errors.New("AckBatchSize must be in [1,10]")
	}
	if c.LeaseVisibilityTimeoutSeconds < 0 || c.LeaseVisibilityTimeoutSeconds > 43200 {
		return errors.New("LeaseVisibilityTimeoutSeconds must be in [0,43200]")
	}
	if c.Manifest.Enabled() {
		if _, err := location.Parse(c.Manifest.Location); err != nil {
			return err
		}
	}
	return c.Manifest.Validate()
}

// Stats counts jobs handled by a Worker.
type Stats struct {
	Converted int64
	Missing   int64
	Failed    int64
	Invalid   int64
	// Skipped counts messages that carried no jobs, such as S3 test events.
	Skipped int64
}

// Worker receives conversion jobs from a queue and runs them through an
// Embedder. Jobs are acknowledged only after their header is written. Jobs
// whose input does not exist are acknowledged too, since no retry can fix
// them; other failures are handed back to the queue.
type Worker struct {
	cfg         WorkerConfig
	embedder    *Embedder
	queue       source.Sourcer
	transformer transformer.Transformer[[]transformer.Job]

	ackRetry      RetryPolicy
	manifestSink  sink.Sinkr
	manifestRetry RetryPolicy
	manifestEnc   encoder.ManifestEncoder
	manifestLoc   location.Location

	log zerolog.Logger
	now func() time.Time

	mu    sync.Mutex
	batch *manifestBatcher

	converted atomic.Int64
	missing   atomic.Int64
	failed    atomic.Int64
	invalid   atomic.Int64
	skipped   atomic.Int64
}

type WorkerOption func(*Worker)

func WithAckRetryPolicy(p RetryPolicy) WorkerOption {
	return func(w *Worker) {
		if p == nil {
			p = nopRetry{}
		}
		w.ackRetry = p
	}
}

// WithManifestSink sets the sink manifests are written to. It is required
// when WorkerConfig.Manifest.Location is set.
func WithManifestSink(s sink.Sinkr, retry RetryPolicy) WorkerOption {
	return func(w *Worker) {
		if retry == nil {
			retry = nopRetry{}
		}
		w.manifestSink = s
		w.manifestRetry = retry
	}
}

func WithWorkerLogger(l zerolog.Logger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

func withClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(
	cfg WorkerConfig,
	emb *Embedder,
	queue source.Sourcer,
	tr transformer.Transformer[[]transformer.Job],
	opts ...WorkerOption,
) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, fmt.Errorf("embedder is nil")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is nil")
	}
	if tr == nil {
		return nil, fmt.Errorf("transformer is nil")
	}

	w := &Worker{
		cfg:           cfg,
		embedder:      emb,
		queue:         queue,
		transformer:   tr,
		ackRetry:      nopRetry{},
		manifestRetry: nopRetry{},
		manifestEnc:   encoder.ManifestEncoder{Compression: cfg.Manifest.Compression},
		log:           zerolog.Nop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	if cfg.Manifest.Enabled() {
		if w.manifestSink == nil {
			return nil, fmt.Errorf("manifest location set without a manifest sink")
		}
		loc, err := location.Parse(cfg.Manifest.Location)
		if err != nil {
			return nil, err
		}
		w.manifestLoc = loc
		w.batch = newManifestBatcher(cfg.Manifest)
	}
	if w.cfg.StopTimeout <= 0 {
		w.cfg.StopTimeout = DefaultWorkerConfig.StopTimeout
	}

	return w, nil
}

func (w *Worker) Stats() Stats {
	return Stats{
		Converted: w.converted.Load(),
		Missing:   w.missing.Load(),
		Failed:    w.failed.Load(),
		Invalid:   w.invalid.Load(),
		Skipped:   w.skipped.Load(),
	}
}

// Run processes jobs until ctx is canceled or the queue reports
// source.ErrClosed. Pending acknowledgements and manifest records are
// flushed before Run returns. Fail-fast: the first queue or manifest error
// stops every goroutine.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		id := i
		g.Go(func() error { return w.loop(gctx, id) })
	}

	tickCtx, stopTicker := context.WithCancel(gctx)
	tickDone := make(chan error, 1)
	go func() { tickDone <- w.flushLoop(tickCtx) }()

	err := g.Wait()
	stopTicker()
	tickErr := <-tickDone

	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if tickErr != nil && !errors.Is(tickErr, context.Canceled) {
		result = multierror.Append(result, tickErr)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.StopTimeout)
	defer cancel()
	if ferr := w.flushManifest(stopCtx); ferr != nil {
		result = multierror.Append(result, ferr)
	}

	stats := w.Stats()
	w.log.Info().
		Int64("converted", stats.Converted).
		Int64("missing", stats.Missing).
		Int64("failed", stats.Failed).
		Int64("invalid", stats.Invalid).
		Int64("skipped", stats.Skipped).
		Msg("worker stopped")

	return result.ErrorOrNil()
}

func (w *Worker) loop(ctx context.Context, id int) error {
	log := w.log.With().Int("worker", id).Logger()

	var acks source.AckGroup
	for {
		msg, err := w.queue.Receive(ctx)
		if err != nil {
			cerr := w.commitOnStop(ctx, &acks)
			if errors.Is(err, source.ErrClosed) || ctx.Err() != nil {
				if cerr != nil {
					return cerr
				}
				if errors.Is(err, source.ErrClosed) {
					return nil
				}
				return ctx.Err()
			}
			return multierror.Append(err, cerr).ErrorOrNil()
		}

		ack, err := w.handle(ctx, log, msg)
		if err != nil {
			_ = w.commitOnStop(ctx, &acks)
			return err
		}
		if !ack {
			continue
		}

		acks.Add(msg)
		if acks.Len() >= w.cfg.AckBatchSize {
			if err := w.commit(ctx, &acks); err != nil {
				return err
			}
		}
	}
}

// handle runs every job carried by msg. The message is acknowledged only when
// each job either succeeded or found its input missing; any other failure
// hands the whole message back to the queue.
func (w *Worker) handle(ctx context.Context, log zerolog.Logger, msg source.Message) (ack bool, err error) {
	env := msg.Data()
	msgID := env.Meta[source.MetaMessageID]

	jobs, err := w.transformer.Transform(ctx, env)
	if err != nil {
		w.invalid.Add(1)
		log.Warn().Err(err).Str("message_id", msgID).Msg("rejecting message")
		_ = msg.Fail(ctx, err)
		return false, nil
	}
	if len(jobs) == 0 {
		w.skipped.Add(1)
		log.Debug().Str("message_id", msgID).Msg("message carries no jobs")
		return true, nil
	}

	var failure error
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = msgID
		}
		jobErr, err := w.run(ctx, log, msg, job)
		if err != nil {
			return false, err
		}
		if jobErr != nil && failure == nil {
			failure = jobErr
		}
	}

	switch {
	case failure == nil:
		return true, nil
	case ctx.Err() != nil:
		// Shutting down: the message becomes visible again on its own.
		return false, nil
	}
	if ferr := msg.Fail(ctx, failure); ferr != nil {
		log.Warn().Err(ferr).Str("message_id", msgID).Msg("returning message to queue")
	}
	return false, nil
}

// run converts one job and records it in the manifest. jobErr reports a
// conversion that should be redelivered; err is fatal to the worker.
func (w *Worker) run(ctx context.Context, log zerolog.Logger, msg source.Message, job transformer.Job) (jobErr, err error) {
	stopLease := w.startLease(ctx, log, msg)
	res, embedErr := w.embedder.Embed(ctx, job.Input, job.Output)
	stopLease()

	rec := encoder.ManifestRecord{
		JobID:       job.ID,
		Input:       job.Input,
		Output:      job.Output,
		Size:        int64(res.Size),
		SHA256:      res.SHA256,
		CID:         res.CID,
		GeneratedAt: w.now().UnixMilli(),
	}

	switch {
	case embedErr == nil:
		w.converted.Add(1)
	case source.IsNotFound(embedErr):
		w.missing.Add(1)
		log.Warn().Err(embedErr).Str("job_id", job.ID).Msg("input does not exist")
		rec.Error = embedErr.Error()
	case ctx.Err() != nil:
		return embedErr, nil
	default:
		w.failed.Add(1)
		log.Error().Err(embedErr).Str("job_id", job.ID).Msg("conversion failed")
		rec.Error = embedErr.Error()
		jobErr = embedErr
	}

	if err := w.record(ctx, rec); err != nil {
		return nil, err
	}
	return jobErr, nil
}

func (w *Worker) startLease(ctx context.Context, log zerolog.Logger, msg source.Message) (stop func()) {
	if w.cfg.LeaseVisibilityTimeoutSeconds <= 0 {
		return func() {}
	}
	ext, ok := w.queue.(source.VisibilityExtender)
	if !ok {
		return func() {}
	}

	meta, ok := source.MetaOf(msg)
	if !ok {
		return func() {}
	}
	metas := []source.AckMetadata{meta}

	renewEvery := w.cfg.LeaseRenewEvery
	if renewEvery <= 0 {
		renewEvery = time.Duration(w.cfg.LeaseVisibilityTimeoutSeconds) * time.Second / 3
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(renewEvery)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := ext.ExtendVisibilityBatch(ctx, metas, w.cfg.LeaseVisibilityTimeoutSeconds); err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("extending visibility")
					}
					return
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) commit(ctx context.Context, acks *source.AckGroup) error {
	if acks.Len() == 0 {
		return nil
	}
	if err := w.ackRetry.Do(ctx, func(ctx context.Context) error {
		return acks.Commit(ctx, w.queue)
	}); err != nil {
		return fmt.Errorf("ack %d messages: %w", acks.Len(), err)
	}
	acks.Clear()
	return nil
}

func (w *Worker) commitOnStop(ctx context.Context, acks *source.AckGroup) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.StopTimeout)
	defer cancel()
	return w.commit(stopCtx, acks)
}

func (w *Worker) record(ctx context.Context, rec encoder.ManifestRecord) error {
	if w.batch == nil {
		return nil
	}

	w.mu.Lock()
	flushNow := w.batch.Add(w.now(), rec)
	var recs []encoder.ManifestRecord
	if flushNow {
		recs = w.batch.Flush()
	}
	w.mu.Unlock()

	return w.writeManifest(ctx, recs)
}

func (w *Worker) flushLoop(ctx context.Context) error {
	if w.batch == nil {
		return nil
	}

	every := w.cfg.Manifest.FlushInterval / 4
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.mu.Lock()
			var recs []encoder.ManifestRecord
			if w.batch.ShouldFlushTime(w.now()) {
				recs = w.batch.Flush()
			}
			w.mu.Unlock()

			if err := w.writeManifest(ctx, recs); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) flushManifest(ctx context.Context) error {
	if w.batch == nil {
		return nil
	}
	w.mu.Lock()
	recs := w.batch.Flush()
	w.mu.Unlock()
	return w.writeManifest(ctx, recs)
}

func (w *Worker) writeManifest(ctx context.Context, recs []encoder.ManifestRecord) error {
	if len(recs) == 0 {
		return nil
	}

	data, err := w.manifestEnc.Encode(ctx, recs)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	key := w.manifestLoc.Join(manifestName(w.now(), w.manifestEnc.FileExtension())).String()
	req := sink.WriteRequest{Key: key, Data: data, ContentType: w.manifestEnc.ContentType()}
	if err := w.manifestRetry.Do(ctx, func(ctx context.Context) error {
		return w.manifestSink.Write(ctx, req)
	}); err != nil {
		return fmt.Errorf("write manifest %s: %w", key, err)
	}

	w.log.Info().Str("key", key).Int("records", len(recs)).Msg("wrote manifest")
	return nil
}

// manifestName partitions by hour and avoids collisions between workers.
func manifestName(now time.Time, ext string) string {
	now = now.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%02d/%d-%s%s",
		now.Year(), int(now.Month()), now.Day(), now.Hour(), now.UnixNano(), uuid.NewString(), ext,
	)
}
