package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/swarmdash/eventstream/internal/model"
)

// DefaultChannel is the channel bucket for events that carry none.
const DefaultChannel = "default"

// Stats summarizes the stored events. Earliest and Latest are event
// timestamps in milliseconds and are zero when the log is empty.
type Stats struct {
	Total     int            `json:"total"`
	ByType    map[string]int `json:"byType"`
	ByChannel map[string]int `json:"byChannel"`
	Earliest  int64          `json:"earliest"`
	Latest    int64          `json:"latest"`
}

// EventLog is the bounded, queryable history of normalized events. All
// methods are safe for concurrent use.
type EventLog struct {
	mu   sync.RWMutex
	ring *Ring[model.Event]
}

// NewEventLog creates a log holding the most recent capacity events.
func NewEventLog(capacity int) *EventLog {
	return &EventLog{ring: NewRing[model.Event](capacity)}
}

// Add stores an event, returning the evicted event and true if the log was
// already full.
func (l *EventLog) Add(e model.Event) (model.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Add(e)
}

// AddBatch stores events in order and returns all evictions, oldest first.
func (l *EventLog) AddBatch(events []model.Event) []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.AddBatch(events)
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Len()
}

// Cap returns the fixed capacity.
func (l *EventLog) Cap() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Cap()
}

// Clear removes all stored events.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring.Clear()
}

// All returns the stored events oldest to newest.
func (l *EventLog) All() []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.All()
}

// Recent returns up to k events newest to oldest.
func (l *EventLog) Recent(k int) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Recent(k)
}

// Oldest returns up to k events oldest to newest.
func (l *EventLog) Oldest(k int) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Oldest(k)
}

// PeekNewest returns the most recent event without removing it.
func (l *EventLog) PeekNewest() (model.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.PeekNewest()
}

// PeekOldest returns the oldest event without removing it.
func (l *EventLog) PeekOldest() (model.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.PeekOldest()
}

// ByType returns all events of the given type, oldest to newest.
func (l *EventLog) ByType(eventType string) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Filter(func(e model.Event) bool { return e.Type == eventType })
}

// ByChannel returns all events on the given channel, oldest to newest.
// Events without a channel are treated as belonging to DefaultChannel.
func (l *EventLog) ByChannel(channel string) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Filter(func(e model.Event) bool { return eventChannel(e) == channel })
}

// ByTimeRange returns events whose timestamp lies in [start, end], both
// bounds inclusive, in milliseconds.
func (l *EventLog) ByTimeRange(start, end int64) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Filter(func(e model.Event) bool {
		return e.Timestamp >= start && e.Timestamp <= end
	})
}

// RecentWithin returns events with timestamps at or after now-window.
func (l *EventLog) RecentWithin(window time.Duration) []model.Event {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Filter(func(e model.Event) bool { return e.Timestamp >= cutoff })
}

// LatestByType returns the most recent event of the given type.
func (l *EventLog) LatestByType(eventType string) (model.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ring.Last(func(e model.Event) bool { return e.Type == eventType })
}

// CountByType returns how many stored events exist per type.
func (l *EventLog) CountByType() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	counts := make(map[string]int)
	l.ring.Each(func(_ int, e model.Event) {
		counts[e.Type]++
	})
	return counts
}

// Stats computes aggregate statistics over the stored events.
func (l *EventLog) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		ByType:    make(map[string]int),
		ByChannel: make(map[string]int),
	}
	l.ring.Each(func(_ int, e model.Event) {
		s.Total++
		s.ByType[e.Type]++
		s.ByChannel[eventChannel(e)]++
		if s.Earliest == 0 || e.Timestamp < s.Earliest {
			s.Earliest = e.Timestamp
		}
		if e.Timestamp > s.Latest {
			s.Latest = e.Timestamp
		}
	})
	return s
}

// Snapshot serializes the chronological contents to JSON.
func (l *EventLog) Snapshot() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	data, err := json.Marshal(l.ring.All())
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return data, nil
}

// Restore replaces the contents with a previously captured snapshot. The
// snapshot is parsed before anything is cleared: on parse failure the
// existing contents are left untouched.
func (l *EventLog) Restore(data []byte) error {
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return fmt.Errorf("parse history snapshot: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring.Clear()
	l.ring.AddBatch(events)
	return nil
}

func eventChannel(e model.Event) string {
	if e.Channel == "" {
		return DefaultChannel
	}
	return e.Channel
}
