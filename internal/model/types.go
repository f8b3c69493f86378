package model

import "encoding/json"

// Frame is one wire-level JSON message exchanged with the server.
//
// Timestamp is kept as float64 because servers report both fractional
// seconds and integer milliseconds; the aggregator canonicalizes it.
// A zero Timestamp means the server omitted it.
type Frame struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// RawFrame wraps non-JSON wire text in a synthetic frame so malformed
// input still flows to wildcard listeners instead of being dropped.
func RawFrame(text string) Frame {
	payload, _ := json.Marshal(text)
	return Frame{Type: "raw", Payload: payload}
}

// Event is a normalized stream event.
//
// Timestamp is the event-reported time corrected to milliseconds;
// ReceivedAt is the local ingestion time and reflects arrival order even
// when Timestamp does not.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Channel    string          `json:"channel,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  int64           `json:"timestamp"`
	ReceivedAt int64           `json:"receivedAt"`
}

// Batch is a time/size-bounded group of normalized events flushed together.
// StartTime and EndTime are the ReceivedAt of the first and last member.
type Batch struct {
	ID        string  `json:"batchId"`
	Events    []Event `json:"events"`
	StartTime int64   `json:"startTime"`
	EndTime   int64   `json:"endTime"`
	Count     int     `json:"eventCount"`
}
