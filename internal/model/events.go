package model

import "time"

// Lifecycle bus topics. One topic carries every stream event; the message key
// is the stream id so consumers can partition per stream.
const StreamEventsTopic = "streamwsm.stream.events"

type StreamEvent struct {
	EventID    string           `json:"event_id"`
	EventType  HistoryEventType `json:"event_type"`
	StreamID   string           `json:"stream_id"`
	OldValue   string           `json:"old_value,omitempty"`
	NewValue   string           `json:"new_value,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
