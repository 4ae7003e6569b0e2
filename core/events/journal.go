package events

import (
	"sync"

	"dealmesh/core/types"
)

// payloadCarrier is implemented by emitted events that wrap a canonical
// attribute payload.
type payloadCarrier interface {
	Event() *types.Event
}

// Entry is a journalled event with its assigned sequence number.
type Entry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Journal is a bounded in-memory event log with fan-out to live
// subscribers. It satisfies Emitter and backs the RPC event listing and the
// WebSocket stream.
type Journal struct {
	mu       sync.Mutex
	capacity int
	nextSeq  int64
	entries  []Entry
	nextSub  int
	subs     map[int]chan Entry
}

// NewJournal creates a journal retaining up to capacity entries.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Journal{
		capacity: capacity,
		nextSeq:  1,
		subs:     make(map[int]chan Entry),
	}
}

// Emit implements the Emitter interface, recording the event and fanning it
// out to subscribers. Slow subscribers are skipped rather than blocked.
func (j *Journal) Emit(evt Event) {
	if j == nil || evt == nil {
		return
	}
	entry := Entry{Type: evt.EventType(), Attributes: map[string]string{}}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			entry.Type = payload.Type
			for k, v := range payload.Attributes {
				entry.Attributes[k] = v
			}
		}
	}

	j.mu.Lock()
	entry.Sequence = j.nextSeq
	j.nextSeq++
	j.entries = append(j.entries, entry)
	if len(j.entries) > j.capacity {
		j.entries = j.entries[len(j.entries)-j.capacity:]
	}
	subs := make([]chan Entry, 0, len(j.subs))
	for _, ch := range j.subs {
		subs = append(subs, ch)
	}
	j.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Since returns up to limit retained entries with a sequence strictly
// greater than cursor, oldest first. A non-positive limit returns all.
func (j *Journal) Since(cursor int64, limit int) []Entry {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, entry := range j.entries {
		if entry.Sequence <= cursor {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Subscribe registers a live subscriber and returns its channel, a cancel
// function, and the backlog of entries newer than cursor.
func (j *Journal) Subscribe(cursor int64) (<-chan Entry, func(), []Entry) {
	if j == nil {
		return nil, func() {}, nil
	}
	backlog := j.Since(cursor, 0)

	j.mu.Lock()
	id := j.nextSub
	j.nextSub++
	ch := make(chan Entry, 64)
	j.subs[id] = ch
	j.mu.Unlock()

	cancel := func() {
		j.mu.Lock()
		if existing, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(existing)
		}
		j.mu.Unlock()
	}
	return ch, cancel, backlog
}
