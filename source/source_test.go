package source

import (
	"context"
	"errors"
	"testing"
)

type testMsg struct {
	id     string
	handle string
	metaOK bool
}

func (m testMsg) Data() Envelope                               { return Envelope{Payload: m.id} }
func (m testMsg) Fail(ctx context.Context, reason error) error { return nil }

func (m testMsg) AckMeta() (AckMetadata, bool) {
	if !m.metaOK || m.handle == "" {
		return AckMetadata{}, false
	}
	return AckMetadata{ID: m.id, Handle: m.handle}, true
}

type fakeSrc struct {
	ackCalls     int
	ackMetaCalls int

	gotMsgs  []Message
	gotMetas []AckMetadata

	err error
}

func (s *fakeSrc) Receive(ctx context.Context) (Message, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeSrc) AckBatch(ctx context.Context, msgs []Message) error {
	s.ackCalls++
	s.gotMsgs = append([]Message(nil), msgs...)
	return s.err
}

func (s *fakeSrc) AckBatchMeta(ctx context.Context, metas []AckMetadata) error {
	s.ackMetaCalls++
	s.gotMetas = append([]AckMetadata(nil), metas...)
	return s.err
}

func TestAckGroup_Commit_EmptyIsNoop(t *testing.T) {
	var g AckGroup
	src := &fakeSrc{}
	if err := g.Commit(context.Background(), src); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if src.ackCalls != 0 || src.ackMetaCalls != 0 {
		t.Fatalf("unexpected calls: %d/%d", src.ackCalls, src.ackMetaCalls)
	}
}

func TestAckGroup_Commit_UsesMetaPathWhenAllMetasAvailable(t *testing.T) {
	var g AckGroup
	src := &fakeSrc{}

	g.Add(testMsg{id: "1", handle: "h-1", metaOK: true})
	g.Add(testMsg{id: "2", handle: "h-2", metaOK: true})

	if err := g.Commit(context.Background(), src); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if src.ackMetaCalls != 1 || src.ackCalls != 0 {
		t.Fatalf("meta=%d ack=%d", src.ackMetaCalls, src.ackCalls)
	}
	if len(src.gotMetas) != 2 || src.gotMetas[1].Handle != "h-2" {
		t.Fatalf("metas: %+v", src.gotMetas)
	}
}

func TestAckGroup_Commit_FallsBackWhenMetaMissing(t *testing.T) {
	var g AckGroup
	src := &fakeSrc{}

	g.Add(testMsg{id: "1", handle: "h-1", metaOK: true})
	g.Add(testMsg{id: "2"})

	if err := g.Commit(context.Background(), src); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if src.ackCalls != 1 || src.ackMetaCalls != 0 {
		t.Fatalf("meta=%d ack=%d", src.ackMetaCalls, src.ackCalls)
	}
	if len(src.gotMsgs) != 2 {
		t.Fatalf("msgs: %d", len(src.gotMsgs))
	}
}

func TestAckGroup_Commit_PropagatesErrorAndKeepsGroup(t *testing.T) {
	var g AckGroup
	boom := errors.New("boom")
	src := &fakeSrc{err: boom}

	g.Add(testMsg{id: "1", handle: "h", metaOK: true})
	if err := g.Commit(context.Background(), src); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if g.Len() != 1 {
		t.Fatalf("group should be kept for retry, len=%d", g.Len())
	}
}

func TestAckGroup_Clear(t *testing.T) {
	var g AckGroup
	g.Add(testMsg{id: "1", handle: "h", metaOK: true})
	g.Clear()
	if g.Len() != 0 || len(g.Metas()) != 0 {
		t.Fatalf("not cleared: len=%d metas=%d", g.Len(), len(g.Metas()))
	}
}

func TestMetaOf(t *testing.T) {
	meta, ok := MetaOf(testMsg{id: "1", handle: "h-1", metaOK: true})
	if !ok || meta.Handle != "h-1" {
		t.Fatalf("MetaOf = %+v, %v", meta, ok)
	}
	if _, ok := MetaOf(testMsg{id: "2"}); ok {
		t.Fatalf("expected no metadata")
	}
}
