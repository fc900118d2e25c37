package source

import "context"

// MetaMessageID is the Envelope.Meta key carrying the queue message ID.
const MetaMessageID = "message_id"

// Envelope is the raw payload received from a queue.
//
// The worker does not impose any schema on Envelope; it is the transformer's
// responsibility to turn it into a conversion job.
type Envelope struct {
	Payload any
	Meta    map[string]string
}

// Message represents one unit received from a Sourcer.
type Message interface {
	Data() Envelope
	Fail(ctx context.Context, reason error) error
}

// Sourcer reads job messages and acknowledges them in batches.
//
// Receive blocks until a message is available or the context is canceled.
type Sourcer interface {
	Receive(ctx context.Context) (Message, error)
	AckBatch(ctx context.Context, msgs []Message) error
}

// VisibilityExtender can extend the visibility timeout for a batch of messages.
type VisibilityExtender interface {
	ExtendVisibilityBatch(ctx context.Context, metas []AckMetadata, timeoutSeconds int32) error
}

// AckMetadata is a compact, source-specific handle used for fast acknowledgements
// and lease extensions.
type AckMetadata struct {
	ID     string
	Handle string
}

type ackMetable interface {
	AckMeta() (AckMetadata, bool)
}

// MetaOf returns the queue handle of m, if its source provides one.
func MetaOf(m Message) (AckMetadata, bool) {
	am, ok := m.(ackMetable)
	if !ok {
		return AckMetadata{}, false
	}
	return am.AckMeta()
}

type ackMetaBatcher interface {
	AckBatchMeta(ctx context.Context, metas []AckMetadata) error
}

// AckGroup accumulates messages that should be acknowledged together.
//
// If the Sourcer supports AckBatchMeta, Commit prefers it when every message
// provides AckMetadata.
type AckGroup struct {
	msgs  []Message
	metas []AckMetadata
}

func (g *AckGroup) Add(m Message) {
	g.msgs = append(g.msgs, m)
	if meta, ok := MetaOf(m); ok {
		g.metas = append(g.metas, meta)
	}
}

func (g *AckGroup) Len() int { return len(g.msgs) }

// Commit acknowledges the group against src. The group is left untouched so
// callers can retry.
func (g *AckGroup) Commit(ctx context.Context, src Sourcer) error {
	if len(g.msgs) == 0 {
		return nil
	}

	if fast, ok := src.(ackMetaBatcher); ok && len(g.metas) == len(g.msgs) {
		return fast.AckBatchMeta(ctx, g.metas)
	}

	return src.AckBatch(ctx, g.msgs)
}

// Clear resets the group and releases references to messages.
func (g *AckGroup) Clear() {
	for i := range g.msgs {
		g.msgs[i] = nil
	}
	g.msgs = g.msgs[:0]
	g.metas = g.metas[:0]
}

// Metas exposes the collected metadata for lease management.
func (g *AckGroup) Metas() []AckMetadata {
	return g.metas
}
