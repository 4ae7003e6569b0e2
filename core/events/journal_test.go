package events

import (
	"testing"

	"dealmesh/core/types"
)

type payloadEvent struct {
	payload *types.Event
}

func (e payloadEvent) EventType() string   { return e.payload.Type }
func (e payloadEvent) Event() *types.Event { return e.payload }

func emitTest(j *Journal, eventType, key, value string) {
	j.Emit(payloadEvent{payload: &types.Event{
		Type:       eventType,
		Attributes: map[string]string{key: value},
	}})
}

func TestJournalAssignsSequences(t *testing.T) {
	j := NewJournal(10)
	emitTest(j, "deal.agreed", "dealId", "aa")
	emitTest(j, "deal.timeout", "dealId", "bb")

	entries := j.Since(0, 0)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Sequence != 1 || entries[1].Sequence != 2 {
		t.Fatalf("unexpected sequences: %d, %d", entries[0].Sequence, entries[1].Sequence)
	}
	if entries[0].Type != "deal.agreed" || entries[0].Attributes["dealId"] != "aa" {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestJournalSinceCursorAndLimit(t *testing.T) {
	j := NewJournal(10)
	for i := 0; i < 5; i++ {
		emitTest(j, "deal.agreed", "n", "x")
	}

	if got := len(j.Since(3, 0)); got != 2 {
		t.Fatalf("entries after cursor 3 = %d, want 2", got)
	}
	if got := len(j.Since(0, 2)); got != 2 {
		t.Fatalf("limited entries = %d, want 2", got)
	}
	if got := len(j.Since(5, 0)); got != 0 {
		t.Fatalf("entries past end = %d, want 0", got)
	}
}

func TestJournalEvictsBeyondCapacity(t *testing.T) {
	j := NewJournal(3)
	for i := 0; i < 5; i++ {
		emitTest(j, "deal.agreed", "n", "x")
	}

	entries := j.Since(0, 0)
	if len(entries) != 3 {
		t.Fatalf("retained = %d, want 3", len(entries))
	}
	// Sequences keep counting even after eviction.
	if entries[0].Sequence != 3 || entries[2].Sequence != 5 {
		t.Fatalf("unexpected retained range: %d..%d", entries[0].Sequence, entries[2].Sequence)
	}
}

func TestJournalSubscribe(t *testing.T) {
	j := NewJournal(10)
	emitTest(j, "deal.rp_agreed", "dealId", "aa")

	ch, cancel, backlog := j.Subscribe(0)
	defer cancel()
	if len(backlog) != 1 {
		t.Fatalf("backlog = %d, want 1", len(backlog))
	}

	emitTest(j, "deal.jc_agreed", "dealId", "aa")
	select {
	case entry := <-ch:
		if entry.Type != "deal.jc_agreed" {
			t.Fatalf("live entry type = %q", entry.Type)
		}
		if entry.Sequence != 2 {
			t.Fatalf("live entry sequence = %d, want 2", entry.Sequence)
		}
	default:
		t.Fatal("no live entry delivered")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
}

func TestJournalNilEmitterSafe(t *testing.T) {
	var j *Journal
	j.Emit(payloadEvent{payload: &types.Event{Type: "noop"}})
	if entries := j.Since(0, 0); entries != nil {
		t.Fatalf("nil journal returned entries: %v", entries)
	}
}
