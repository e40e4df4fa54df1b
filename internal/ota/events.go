package ota

import (
	"fmt"
	"time"
)

// EventType identifies an Event.
type EventType int

const (
	EventDeviceReady EventType = iota
	EventChunkSent
	EventDeviceFinished
	EventDeviceError
	EventDeviceRetry
	EventDeviceAbandoned
	EventAllFinished
)

var eventTypeNames = map[EventType]string{
	EventDeviceReady:     "device_ready",
	EventChunkSent:       "chunk_sent",
	EventDeviceFinished:  "device_finished",
	EventDeviceError:     "device_error",
	EventDeviceRetry:     "device_retry",
	EventDeviceAbandoned: "device_abandoned",
	EventAllFinished:     "all_finished",
}

// String returns the event type's wire name
func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event describes a transfer milestone. Observers receive events in the
// order they happen.
type Event struct {
	Type        EventType `json:"type"`
	DeviceID    string    `json:"device_id,omitempty"`
	Chunk       int       `json:"chunk"`
	TotalChunks int       `json:"total_chunks"`
	Message     string    `json:"message,omitempty"`
	Time        time.Time `json:"time"`
}

// String returns a one-line description of the event
func (e Event) String() string {
	switch e.Type {
	case EventChunkSent:
		return fmt.Sprintf("%s: chunk %d/%d", e.DeviceID, e.Chunk+1, e.TotalChunks)
	case EventDeviceError:
		return fmt.Sprintf("%s: error at chunk %d: %s", e.DeviceID, e.Chunk, e.Message)
	case EventAllFinished:
		return "all devices finished"
	default:
		return fmt.Sprintf("%s: %s", e.DeviceID, e.Type)
	}
}

// Observer receives engine events. It is called with the engine lock held
// and must not call back into the engine.
type Observer func(Event)
