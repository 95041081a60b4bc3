package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"legal-qa-be/pkg/stage"
	"legal-qa-be/pkg/stream"
	"legal-qa-be/pkg/upstream"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// ProgressTopic is the in-process pub/sub topic stage snapshots are
// published on. The WebSocket hub subscribes to it and relays snapshots to
// connected clients.
const ProgressTopic = "progress.snapshots"

// attachmentMarker separates the visible user text from the hidden
// attachment-context block in the outbound turn.
const attachmentMarker = "\n\n[Приложенные материалы]\n"

// StreamOpener opens the mode-specific upstream streams. Satisfied by
// upstream.QueryClient.
type StreamOpener interface {
	OpenPlain(ctx context.Context, token string, history []upstream.Message) (io.ReadCloser, error)
	OpenSearchAugmented(ctx context.Context, token string, history []upstream.Message, searchEnabled bool) (io.ReadCloser, error)
	OpenConsilium(ctx context.Context, token string, question string) (io.ReadCloser, error)
	OpenCourtPractice(ctx context.Context, token string, question string) (io.ReadCloser, error)
}

// ProgressSnapshot is the payload published on ProgressTopic.
type ProgressSnapshot struct {
	SessionID uuid.UUID      `json:"session_id"`
	Snapshot  stage.Snapshot `json:"snapshot"`
}

// Request describes one submission.
type Request struct {
	SessionID         uuid.UUID
	Token             string
	UserText          string
	History           []upstream.Message
	AttachmentContext string
	Mode              Mode
	Pipeline          stage.Descriptor // multi-stage only; zero value selects consilium
	SearchEnabled     bool             // search-augmented only

	// OnDelta receives content deltas in arrival order for incremental
	// rendering. Optional. Never invoked after a terminal event or after
	// the submission is abandoned.
	OnDelta func(text string)
}

// Dispatcher owns the in-flight submission state. Exactly one submission
// may be outstanding; concurrent Submit calls are refused with ErrBusy
// rather than queued. A generation counter invalidates abandoned streams
// so a late event can never mutate state belonging to a newer session.
type Dispatcher struct {
	opener    StreamOpener
	publisher message.Publisher // nil disables progress publication

	mu         sync.Mutex
	busy       bool
	generation uint64
}

func NewDispatcher(opener StreamOpener, publisher message.Publisher) *Dispatcher {
	return &Dispatcher{opener: opener, publisher: publisher}
}

// Busy reports whether a submission is currently outstanding.
func (d *Dispatcher) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.busy
}

// Abandon invalidates the outstanding submission, if any. Its stream keeps
// draining in the background but none of its remaining events are applied,
// and Submit becomes available immediately.
func (d *Dispatcher) Abandon() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.generation++
	d.busy = false
}

func (d *Dispatcher) acquire() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return 0, false
	}
	d.busy = true
	d.generation++
	return d.generation, true
}

func (d *Dispatcher) release(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.generation == gen {
		d.busy = false
	}
}

func (d *Dispatcher) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.generation == gen
}

// Submit runs one full exchange: compose the outbound payload, open the
// stream, apply events in arrival order, and finalize a Result.
//
// Failure contract: a transport failure before any event rejects with
// *QueryError; a server-signaled error or timeout mid-stream resolves with
// an errored Result whose Text carries the message for the synthesized
// assistant turn. Partial deltas are discarded on failure.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (*Result, error) {
	userText := strings.TrimSpace(req.UserText)
	if userText == "" {
		return nil, ErrEmptySubmission
	}

	gen, ok := d.acquire()
	if !ok {
		return nil, ErrBusy
	}
	defer d.release(gen)

	body, descriptor, err := d.openStream(ctx, req, userText)
	if err != nil {
		return nil, &QueryError{Message: transportErrorText, Cause: err}
	}
	defer body.Close()

	return d.consume(req, gen, stream.NewDecoder(body), descriptor)
}

func (d *Dispatcher) openStream(ctx context.Context, req Request, userText string) (io.ReadCloser, stage.Descriptor, error) {
	outbound := composeTurn(userText, req.AttachmentContext)

	switch req.Mode {
	case ModeMultiStage:
		descriptor := req.Pipeline
		if descriptor.Len() == 0 {
			descriptor = stage.Consilium()
		}
		var body io.ReadCloser
		var err error
		if descriptor.Name == "court_practice" {
			body, err = d.opener.OpenCourtPractice(ctx, req.Token, outbound)
		} else {
			body, err = d.opener.OpenConsilium(ctx, req.Token, outbound)
		}
		return body, descriptor, err

	case ModeSearchAugmented:
		history := append(append([]upstream.Message{}, req.History...), upstream.Message{Role: "user", Content: outbound})
		body, err := d.opener.OpenSearchAugmented(ctx, req.Token, history, req.SearchEnabled)
		return body, stage.SearchAugmented(), err

	default:
		history := append(append([]upstream.Message{}, req.History...), upstream.Message{Role: "user", Content: outbound})
		body, err := d.opener.OpenPlain(ctx, req.Token, history)
		return body, stage.Descriptor{}, err
	}
}

func (d *Dispatcher) consume(req Request, gen uint64, decoder *stream.Decoder, descriptor stage.Descriptor) (*Result, error) {
	var (
		acc      strings.Builder
		tracker  *stage.Tracker
		sawEvent bool
	)
	if descriptor.Len() > 0 {
		tracker = stage.NewTracker(descriptor)
	}

	for {
		ev, err := decoder.Next()
		if err != nil {
			if !sawEvent {
				return nil, &QueryError{Message: transportErrorText, Cause: err}
			}
			// The connection dropped mid-answer. The half-finished
			// accumulator is discarded, never shown.
			return d.erroredResult(req, tracker, defaultErrorText), nil
		}

		if !d.current(gen) {
			return nil, ErrAbandoned
		}
		sawEvent = true

		switch ev.Type {
		case stream.EventContentDelta:
			if ev.Text != "" {
				acc.WriteString(ev.Text)
				if req.OnDelta != nil {
					req.OnDelta(ev.Text)
				}
			}

		case stream.EventStageUpdate, stream.EventHeartbeat:
			if tracker != nil {
				tracker.Apply(ev)
				d.publishSnapshot(req.SessionID, tracker.Snapshot())
			}

		case stream.EventError:
			text := ev.Message
			if text == "" {
				text = defaultErrorText
			}
			if tracker != nil {
				tracker.Apply(ev)
				d.publishSnapshot(req.SessionID, tracker.Snapshot())
			}
			return d.erroredResult(req, tracker, text), nil

		case stream.EventTimeout:
			text := ev.Message
			if text == "" {
				text = defaultTimeoutText
			}
			if tracker != nil {
				tracker.Apply(ev)
				d.publishSnapshot(req.SessionID, tracker.Snapshot())
			}
			return d.erroredResult(req, tracker, text), nil

		case stream.EventDone:
			return d.finalize(req, tracker, acc.String(), ev.Result), nil
		}
	}
}

func (d *Dispatcher) finalize(req Request, tracker *stage.Tracker, accumulated string, raw json.RawMessage) *Result {
	result := &Result{Mode: req.Mode, Text: accumulated}
	if tracker != nil {
		result.FinalStage = tracker.ActiveIndex()
	}
	if payload, ok := parseTerminal(raw); ok {
		if text := payload.text(); text != "" {
			result.Text = text
		}
		result.VerifiedCases = payload.VerifiedCases
		result.VerifiedNpa = payload.VerifiedNpa
	}
	return result
}

func (d *Dispatcher) erroredResult(req Request, tracker *stage.Tracker, text string) *Result {
	result := &Result{Mode: req.Mode, Text: text, Errored: true}
	if tracker != nil {
		result.FinalStage = tracker.ActiveIndex()
	}
	return result
}

func (d *Dispatcher) publishSnapshot(sessionID uuid.UUID, snap stage.Snapshot) {
	if d.publisher == nil {
		return
	}
	payload, err := json.Marshal(ProgressSnapshot{SessionID: sessionID, Snapshot: snap})
	if err != nil {
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	// Fire and forget: progress is advisory, the answer path never blocks
	// on subscribers.
	_ = d.publisher.Publish(ProgressTopic, msg)
}

// composeTurn appends the hidden attachment-context block to the visible
// user text. The visible conversation shows only the text; the model sees
// both.
func composeTurn(userText, attachmentContext string) string {
	if attachmentContext == "" {
		return userText
	}
	return userText + attachmentMarker + attachmentContext
}
