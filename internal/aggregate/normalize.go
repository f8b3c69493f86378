package aggregate

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/swarmdash/eventstream/internal/model"
)

// CustomTypePrefix marks caller-defined event types that bypass the
// whitelist.
const CustomTypePrefix = "custom:"

// knownTypes is the dashboard's canonical event vocabulary. Payloads stay
// opaque; only the type string is checked.
var knownTypes = map[string]struct{}{
	"agent_status":     {},
	"agent_spawned":    {},
	"agent_terminated": {},
	"task_created":     {},
	"task_updated":     {},
	"task_completed":   {},
	"task_failed":      {},
	"message_sent":     {},
	"memory_updated":   {},
	"consensus_update": {},
	"system_metrics":   {},
	"log":              {},
	"raw":              {},
}

// Validate reports whether a frame type is deliverable downstream.
func Validate(frameType string) bool {
	if frameType == "" {
		return false
	}
	if _, ok := knownTypes[frameType]; ok {
		return true
	}
	return strings.HasPrefix(frameType, CustomTypePrefix)
}

// Normalize converts an accepted frame into a canonical event with a fresh
// unique id, a millisecond timestamp, and the local ingestion time.
func Normalize(f model.Frame) model.Event {
	now := time.Now().UnixMilli()
	return model.Event{
		ID:         uuid.NewString(),
		Type:       f.Type,
		Channel:    f.Channel,
		Payload:    f.Payload,
		Timestamp:  normalizeTimestamp(f.Timestamp, now),
		ReceivedAt: now,
	}
}

// normalizeTimestamp canonicalizes an event-reported time to milliseconds.
// Values below 1e12 are assumed to be seconds and multiplied by 1000; zero
// means the server omitted the field. The seconds heuristic misreads
// negative values and pre-2001 millisecond timestamps; it is kept for
// compatibility with the wire producers.
func normalizeTimestamp(v float64, now int64) int64 {
	if v == 0 {
		return now
	}
	if v < 1e12 {
		return int64(v * 1000)
	}
	return int64(v)
}
