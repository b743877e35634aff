// Package event implements the bounded event store backing SSE resumption.
package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxEvents is the default ring-buffer capacity.
const DefaultMaxEvents = 1000

// Event is a single server-sent event held for replay.
type Event struct {
	// ID is globally unique within the process: <unix_seconds>-<seq>-<8 hex>.
	ID string
	// Type is the SSE event type; empty means a bare data event.
	Type string
	// Data is the event payload.
	Data string
	// Timestamp records when the event was stored.
	Timestamp time.Time
}

// Render formats the event in SSE wire framing: id line, optional event
// line, data line, blank terminator.
func (e *Event) Render() string {
	if e.Type != "" {
		return fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, e.Data)
	}
	return fmt.Sprintf("id: %s\ndata: %s\n\n", e.ID, e.Data)
}

// Stats reports store occupancy.
type Stats struct {
	Size      int
	MaxEvents int
	OldestID  string
	NewestID  string
}

// Store is a bounded ring buffer of events keyed by monotonically generated
// ids. When full, the oldest event is evicted. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	events    []Event
	index     map[string]int // event id -> offset into events
	maxEvents int
	seq       uint64 // monotonic for the life of the store, survives Clear
}

// NewStore creates a Store with the given capacity. A non-positive capacity
// falls back to DefaultMaxEvents.
func NewStore(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{
		events:    make([]Event, 0, maxEvents),
		index:     make(map[string]int, maxEvents),
		maxEvents: maxEvents,
	}
}

// Store appends an event and returns its generated id. When the buffer is
// full the oldest event is evicted first.
func (s *Store) Store(data, eventType string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := s.generateID()
	if len(s.events) == s.maxEvents {
		evicted := s.events[0]
		delete(s.index, evicted.ID)
		s.events = s.events[1:]
		for eid, pos := range s.index {
			s.index[eid] = pos - 1
		}
	}
	s.events = append(s.events, Event{
		ID:        id,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	s.index[id] = len(s.events) - 1
	return id
}

// After returns the events stored strictly after lastID, in insertion
// order. An empty lastID returns everything; an unknown id (including one
// already evicted) returns an empty slice.
func (s *Store) After(lastID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if lastID == "" {
		out := make([]Event, len(s.events))
		copy(out, s.events)
		return out
	}
	pos, ok := s.index[lastID]
	if !ok {
		return nil
	}
	out := make([]Event, len(s.events)-pos-1)
	copy(out, s.events[pos+1:])
	return out
}

// Exists reports whether an event with the given id is still buffered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Stats returns current occupancy.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Size: len(s.events), MaxEvents: s.maxEvents}
	if len(s.events) > 0 {
		st.OldestID = s.events[0].ID
		st.NewestID = s.events[len(s.events)-1].ID
	}
	return st
}

// Clear drops all buffered events. The sequence counter is not reset so ids
// stay unique for the life of the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
	s.index = make(map[string]int, s.maxEvents)
}

// generateID builds <unix_seconds>-<seq>-<8 hex>. Caller holds the lock.
func (s *Store) generateID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%d-%d-%s", time.Now().Unix(), s.seq, hex.EncodeToString(b))
}
