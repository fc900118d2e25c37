package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ErrClosed is returned when Receive is called after the queue has been closed.
var ErrClosed = errors.New("source closed")

// sqsBatchMax is the SQS limit on entries per batch request.
const sqsBatchMax = 10

type QueueConfig struct {
	WaitTimeSeconds int32
	MaxMessages     int32
	VisibilityTO    int32

	Pollers int
	BufSize int

	// FailVisibilityTimeoutSeconds, when set, is applied to failed messages
	// so they are redelivered after that delay.
	FailVisibilityTimeoutSeconds *int32
}

func (c QueueConfig) Validate() error {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		return errors.New("wait time seconds must be between 0 and 20")
	}
	if c.MaxMessages < 1 || c.MaxMessages > 10 {
		return errors.New("max messages must be between 1 and 10")
	}
	if c.VisibilityTO < 0 {
		return errors.New("visibility timeout must be non-negative")
	}
	if c.Pollers < 1 {
		return errors.New("pollers must be at least 1")
	}
	if c.BufSize < 1 {
		return errors.New("buffer size must be at least 1")
	}
	if c.FailVisibilityTimeoutSeconds != nil && *c.FailVisibilityTimeoutSeconds < 0 {
		return errors.New("fail visibility timeout seconds must be non-negative")
	}
	return nil
}

var DefaultQueueConfig = QueueConfig{
	WaitTimeSeconds: 20,
	MaxMessages:     10,
	VisibilityTO:    60,
	Pollers:         1,
	BufSize:         32,
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// Queue receives conversion jobs from an SQS queue using background long
// pollers.
type Queue struct {
	cfg QueueConfig

	client   sqsAPI
	queueURL string

	bufCh chan *sqstypes.Message

	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewQueue starts cfg.Pollers goroutines that stop when ctx is canceled or
// Close is called.
func NewQueue(ctx context.Context, client sqsAPI, queueURL string, cfg QueueConfig) (*Queue, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		cfg:      cfg,
		client:   client,
		queueURL: queueURL,
		bufCh:    make(chan *sqstypes.Message, cfg.BufSize),
		cancel:   cancel,
	}
	q.startPollers(ctx)
	return q, nil
}

func (q *Queue) startPollers(ctx context.Context) {
	q.wg.Add(q.cfg.Pollers)
	for i := 0; i < q.cfg.Pollers; i++ {
		go func() {
			defer q.wg.Done()
			q.pollLoop(ctx)
		}()
	}
	go func() {
		q.wg.Wait()
		close(q.bufCh)
	}()
}

func (q *Queue) pollLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		reqCtx, cancel := context.WithTimeout(ctx, time.Duration(q.cfg.WaitTimeSeconds+5)*time.Second)
		out, err := q.client.ReceiveMessage(reqCtx, &sqs.ReceiveMessageInput{
			QueueUrl:            &q.queueURL,
			MaxNumberOfMessages: q.cfg.MaxMessages,
			WaitTimeSeconds:     q.cfg.WaitTimeSeconds,
			VisibilityTimeout:   q.cfg.VisibilityTO,
		})
		cancel()

		if err != nil {
			select {
			case <-time.After(250 * time.Millisecond):
				continue
			case <-ctx.Done():
				return
			}
		}

		for i := range out.Messages {
			select {
			case q.bufCh <- &out.Messages[i]:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close stops the pollers. Buffered messages are still returned by Receive
// before it reports ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(q.cancel)
}

func (q *Queue) Receive(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m, ok := <-q.bufCh:
		if !ok {
			return nil, ErrClosed
		}
		return &message{q: q, m: m}, nil
	}
}

func (q *Queue) AckBatch(ctx context.Context, msgs []Message) error {
	metas := make([]AckMetadata, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		am, ok := m.(ackMetable)
		if !ok {
			return fmt.Errorf("message does not support AckMeta(): %T", m)
		}
		meta, ok := am.AckMeta()
		if !ok {
			return fmt.Errorf("message has no receipt handle: %T", m)
		}
		metas = append(metas, meta)
	}
	return q.AckBatchMeta(ctx, metas)
}

// AckBatchMeta deletes messages by ID and receipt handle, in chunks of ten.
func (q *Queue) AckBatchMeta(ctx context.Context, metas []AckMetadata) error {
	in := sqs.DeleteMessageBatchInput{QueueUrl: &q.queueURL}
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, sqsBatchMax)

	for i := 0; i < len(metas); i += sqsBatchMax {
		end := min(i+sqsBatchMax, len(metas))

		entries = entries[:0]
		for j := i; j < end; j++ {
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
				Id:            &metas[j].ID,
				ReceiptHandle: &metas[j].Handle,
			})
		}

		in.Entries = entries
		out, err := q.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

func (q *Queue) ExtendVisibilityBatch(ctx context.Context, metas []AckMetadata, visibilityTimeoutSeconds int32) error {
	in := sqs.ChangeMessageVisibilityBatchInput{QueueUrl: &q.queueURL}
	entries := make([]sqstypes.ChangeMessageVisibilityBatchRequestEntry, 0, sqsBatchMax)

	for i := 0; i < len(metas); i += sqsBatchMax {
		end := min(i+sqsBatchMax, len(metas))

		entries = entries[:0]
		for j := i; j < end; j++ {
			entries = append(entries, sqstypes.ChangeMessageVisibilityBatchRequestEntry{
				Id:                &metas[j].ID,
				ReceiptHandle:     &metas[j].Handle,
				VisibilityTimeout: visibilityTimeoutSeconds,
			})
		}

		in.Entries = entries
		out, err := q.client.ChangeMessageVisibilityBatch(ctx, &in)
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs visibility batch failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

type message struct {
	q *Queue
	m *sqstypes.Message
}

func (m *message) Data() Envelope {
	return Envelope{
		Payload: aws.ToString(m.m.Body),
		Meta:    map[string]string{MetaMessageID: aws.ToString(m.m.MessageId)},
	}
}

func (m *message) AckMeta() (AckMetadata, bool) {
	rh := aws.ToString(m.m.ReceiptHandle)
	if rh == "" {
		return AckMetadata{}, false
	}
	id := aws.ToString(m.m.MessageId)
	if id == "" {
		id = fmt.Sprintf("m%d", time.Now().UnixNano())
	}
	return AckMetadata{ID: id, Handle: rh}, true
}

func (m *message) Fail(ctx context.Context, _ error) error {
	if m.q.cfg.FailVisibilityTimeoutSeconds == nil {
		return nil
	}
	_, err := m.q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          &m.q.queueURL,
		ReceiptHandle:     m.m.ReceiptHandle,
		VisibilityTimeout: *m.q.cfg.FailVisibilityTimeoutSeconds,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
