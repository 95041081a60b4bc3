package stage

import (
	"strconv"
	"strings"

	"legal-qa-be/pkg/stream"
)

// Snapshot is an immutable view of tracker state for subscribers. The
// tracker itself has no rendering dependency; views consume snapshots.
type Snapshot struct {
	Pipeline    string `json:"pipeline"`
	ActiveIndex int    `json:"active_index"`
	StageID     string `json:"stage_id"`
	DisplayName string `json:"display_name"`
	Message     string `json:"message"`
	Total       int    `json:"total"`
	Errored     bool   `json:"errored"`
}

// Tracker consumes stage-related events and maintains the active position
// in a pipeline descriptor. The position is monotonic: an update resolving
// behind the current index is dropped, which guards against out-of-order
// delivery. After an error or timeout the tracker is frozen.
type Tracker struct {
	descriptor  Descriptor
	activeIndex int
	message     string
	errored     bool
}

func NewTracker(d Descriptor) *Tracker {
	return &Tracker{descriptor: d}
}

// Apply advances tracker state with one decoded event. Events that carry
// no stage information (content deltas, done) are ignored.
func (t *Tracker) Apply(ev stream.Event) {
	if t.errored {
		return
	}
	switch ev.Type {
	case stream.EventStageUpdate:
		idx := t.resolveIndex(ev.StageID)
		if idx >= t.activeIndex {
			t.activeIndex = idx
			t.message = ev.Message
		}
	case stream.EventHeartbeat:
		// Liveness only; the position is intentionally left frozen.
	case stream.EventError, stream.EventTimeout:
		t.errored = true
		if ev.Message != "" {
			t.message = ev.Message
		}
	}
}

// resolveIndex maps a stage id to a descriptor position. Unknown ids fall
// back to parsing a trailing "_N" ordinal, clamped to the descriptor tail.
// The suffix heuristic is inherited wire behavior: some producers emit
// ordinal ids the descriptor does not list explicitly.
func (t *Tracker) resolveIndex(id string) int {
	if id == StartingStageID || t.descriptor.Len() == 0 {
		return 0
	}
	if idx := t.descriptor.indexOf(id); idx >= 0 {
		return idx
	}
	if cut := strings.LastIndex(id, "_"); cut >= 0 {
		if n, err := strconv.Atoi(id[cut+1:]); err == nil && n >= 1 {
			if n > t.descriptor.Len() {
				return t.descriptor.Len() - 1
			}
			return n - 1
		}
	}
	return 0
}

// ActiveIndex returns the current pipeline position.
func (t *Tracker) ActiveIndex() int {
	return t.activeIndex
}

// Errored reports whether the tracker saw a terminal failure.
func (t *Tracker) Errored() bool {
	return t.errored
}

// Snapshot captures the current state for progress subscribers.
func (t *Tracker) Snapshot() Snapshot {
	snap := Snapshot{
		Pipeline:    t.descriptor.Name,
		ActiveIndex: t.activeIndex,
		Message:     t.message,
		Total:       t.descriptor.Len(),
		Errored:     t.errored,
	}
	if t.activeIndex < t.descriptor.Len() {
		snap.StageID = t.descriptor.Stages[t.activeIndex].ID
		snap.DisplayName = t.descriptor.Stages[t.activeIndex].DisplayName
	}
	return snap
}
