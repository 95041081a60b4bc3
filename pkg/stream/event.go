package stream

import "encoding/json"

// EventType discriminates the decoded protocol events.
type EventType int

const (
	EventContentDelta EventType = iota
	EventStageUpdate
	EventHeartbeat
	EventError
	EventTimeout
	EventDone
)

func (t EventType) String() string {
	switch t {
	case EventContentDelta:
		return "content_delta"
	case EventStageUpdate:
		return "stage_update"
	case EventHeartbeat:
		return "heartbeat"
	case EventError:
		return "error"
	case EventTimeout:
		return "timeout"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is one decoded record from the upstream response stream.
// Which fields are populated depends on Type:
//   - EventContentDelta: Text (may be empty, consumers treat "" as a no-op)
//   - EventStageUpdate:  StageID, Message
//   - EventError/EventTimeout: Message
//   - EventDone: Result (raw terminal payload, nil for plain streams)
type Event struct {
	Type    EventType
	Text    string
	StageID string
	Message string
	Result  json.RawMessage
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError || e.Type == EventTimeout
}
