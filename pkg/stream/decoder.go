package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

const (
	// recordMarker prefixes every meaningful record; anything else on the
	// wire is keep-alive padding and is skipped.
	recordMarker = "data: "

	// doneSentinel is the literal payload that closes a stream.
	doneSentinel = "[DONE]"
)

// Reserved values in the "stage" field. The upstream producer multiplexes
// lifecycle signals through the same field it uses for pipeline stages.
const (
	stageComplete  = "complete"
	stageError     = "error"
	stageTimeout   = "timeout"
	stageHeartbeat = "heartbeat"
)

// record mirrors the union of payload shapes the producer emits: an
// OpenAI-style delta chunk, a stage descriptor, or a bare error object.
type record struct {
	Error   string          `json:"error"`
	Stage   string          `json:"stage"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Decoder turns the upstream byte stream into a forward-only sequence of
// events. Fragment boundaries are arbitrary; partial lines are buffered
// until the newline delimiter arrives. After a terminal event the decoder
// is exhausted and Next returns io.EOF regardless of remaining input.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next decoded event. It returns io.EOF once a terminal
// event has been delivered, and io.ErrUnexpectedEOF when the stream ends
// without one (the connection dropped mid-answer).
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, recordMarker) {
			continue
		}
		payload := strings.TrimSpace(line[len(recordMarker):])

		if payload == doneSentinel {
			d.done = true
			return Event{Type: EventDone}, nil
		}

		var rec record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			// Malformed records are padding, not protocol violations.
			continue
		}

		ev, ok := rec.toEvent()
		if !ok {
			continue
		}
		if ev.Terminal() {
			d.done = true
		}
		return ev, nil
	}

	d.done = true
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.ErrUnexpectedEOF
}

func (r record) toEvent() (Event, bool) {
	if r.Error != "" {
		return Event{Type: EventError, Message: r.Error}, true
	}

	switch r.Stage {
	case "":
		// Fall through to delta handling below.
	case stageComplete:
		return Event{Type: EventDone, Result: r.Result}, true
	case stageError:
		return Event{Type: EventError, Message: r.Message}, true
	case stageTimeout:
		return Event{Type: EventTimeout, Message: r.Message}, true
	case stageHeartbeat:
		return Event{Type: EventHeartbeat}, true
	default:
		return Event{Type: EventStageUpdate, StageID: r.Stage, Message: r.Message}, true
	}

	if len(r.Choices) > 0 {
		// Empty content is still a valid delta; the accumulator ignores it.
		return Event{Type: EventContentDelta, Text: r.Choices[0].Delta.Content}, true
	}

	return Event{}, false
}
