// Package eventlog implements the bounded per-room event buffer used for
// reconnection replay. The log assigns each appended envelope the room's
// next sequence number; sequence numbering survives trimming and Clear, so
// replay positions stay valid even after old entries are evicted.
package eventlog

import (
	"time"

	"github.com/meshplay/signaling/internal/v1/protocol"
)

// Event is one logged room broadcast.
type Event struct {
	Seq      uint64
	At       time.Time
	Envelope protocol.Envelope
}

// Log is a fixed-capacity ring of events. Not safe for concurrent use: the
// owning room's mutex guards every call.
type Log struct {
	capacity int
	events   []Event
	nextSeq  uint64
}

// New creates a log holding at most capacity events. Capacity 0 is valid:
// sequence numbers are still assigned but nothing is retained.
func New(capacity int) *Log {
	if capacity < 0 {
		capacity = 0
	}
	return &Log{
		capacity: capacity,
		events:   make([]Event, 0, capacity),
		nextSeq:  0,
	}
}

// Append assigns the next sequence number to env, stores it (evicting the
// oldest entry when full) and returns the assigned sequence number.
func (l *Log) Append(env protocol.Envelope, at time.Time) uint64 {
	l.nextSeq++
	env.Seq = l.nextSeq
	if l.capacity > 0 {
		if len(l.events) == l.capacity {
			copy(l.events, l.events[1:])
			l.events = l.events[:l.capacity-1]
		}
		l.events = append(l.events, Event{Seq: l.nextSeq, At: at, Envelope: env})
	}
	return l.nextSeq
}

// After returns the envelopes with sequence numbers strictly greater than
// seq, oldest first.
func (l *Log) After(seq uint64) []protocol.Envelope {
	var out []protocol.Envelope
	for _, e := range l.events {
		if e.Seq > seq {
			out = append(out, e.Envelope)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number.
func (l *Log) LastSeq() uint64 {
	return l.nextSeq
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	return len(l.events)
}

// Clear drops all retained events but keeps the sequence counter.
func (l *Log) Clear() {
	l.events = l.events[:0]
}
