package stage

import (
	"testing"

	"legal-qa-be/pkg/stream"
)

func stageUpdate(id, message string) stream.Event {
	return stream.Event{Type: stream.EventStageUpdate, StageID: id, Message: message}
}

func TestTrackerMonotonicProgression(t *testing.T) {
	tests := []struct {
		name       string
		descriptor Descriptor
		events     []stream.Event
		wantIndex  int
		wantErr    bool
	}{
		{
			name:       "starting maps to first stage",
			descriptor: Consilium(),
			events:     []stream.Event{stageUpdate(StartingStageID, "")},
			wantIndex:  0,
		},
		{
			name:       "forward progression",
			descriptor: Consilium(),
			events: []stream.Event{
				stageUpdate("stage_1", "gather"),
				stageUpdate("stage_2", "review"),
				stageUpdate("stage_5", "synthesis"),
			},
			wantIndex: 4,
		},
		{
			name:       "out of order update is dropped",
			descriptor: Consilium(),
			events: []stream.Event{
				stageUpdate("stage_4", "cross-check"),
				stageUpdate("stage_2", "late arrival"),
			},
			wantIndex: 3,
		},
		{
			name:       "heartbeat freezes the position",
			descriptor: CourtPractice(),
			events: []stream.Event{
				stageUpdate("extract", "case numbers"),
				{Type: stream.EventHeartbeat},
			},
			wantIndex: 1,
		},
		{
			name:       "named ids of the short pipeline",
			descriptor: CourtPractice(),
			events: []stream.Event{
				stageUpdate("search", ""),
				stageUpdate("verify", ""),
			},
			wantIndex: 2,
		},
		{
			name:       "error freezes tracker",
			descriptor: Consilium(),
			events: []stream.Event{
				stageUpdate("stage_3", "verifying"),
				{Type: stream.EventError, Message: "pipeline failed"},
				stageUpdate("stage_5", "ignored after error"),
			},
			wantIndex: 2,
			wantErr:   true,
		},
		{
			name:       "timeout freezes tracker",
			descriptor: SearchAugmented(),
			events: []stream.Event{
				stageUpdate("search", ""),
				{Type: stream.EventTimeout, Message: "deadline exceeded"},
			},
			wantIndex: 1,
			wantErr:   true,
		},
		{
			name:       "content deltas do not move the pointer",
			descriptor: Consilium(),
			events: []stream.Event{
				stageUpdate("stage_2", ""),
				{Type: stream.EventContentDelta, Text: "token"},
			},
			wantIndex: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.descriptor)
			prev := tracker.ActiveIndex()
			for _, ev := range tt.events {
				tracker.Apply(ev)
				if !tracker.Errored() && tracker.ActiveIndex() < prev {
					t.Fatalf("index regressed from %d to %d", prev, tracker.ActiveIndex())
				}
				prev = tracker.ActiveIndex()
			}
			if tracker.ActiveIndex() != tt.wantIndex {
				t.Errorf("ActiveIndex = %d, want %d", tracker.ActiveIndex(), tt.wantIndex)
			}
			if tracker.Errored() != tt.wantErr {
				t.Errorf("Errored = %v, want %v", tracker.Errored(), tt.wantErr)
			}
		})
	}
}

func TestTrackerNumericSuffixFallback(t *testing.T) {
	tests := []struct {
		name       string
		descriptor Descriptor
		id         string
		wantIndex  int
	}{
		{"ordinal inside range", CourtPractice(), "phase_2", 1},
		{"ordinal clamped to tail", CourtPractice(), "phase_9", 2},
		{"ordinal on long pipeline", SearchAugmented(), "step_6", 5},
		{"no suffix defaults to first", CourtPractice(), "mystery", 0},
		{"non-numeric suffix defaults to first", CourtPractice(), "phase_x", 0},
		{"zero ordinal defaults to first", CourtPractice(), "phase_0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(tt.descriptor)
			tracker.Apply(stageUpdate(tt.id, ""))
			if tracker.ActiveIndex() != tt.wantIndex {
				t.Errorf("ActiveIndex = %d, want %d", tracker.ActiveIndex(), tt.wantIndex)
			}
		})
	}
}

func TestTrackerSnapshot(t *testing.T) {
	tracker := NewTracker(Consilium())
	tracker.Apply(stageUpdate("stage_2", "Анализ и оценка экспертов..."))

	snap := tracker.Snapshot()
	if snap.Pipeline != "consilium" {
		t.Errorf("Pipeline = %q", snap.Pipeline)
	}
	if snap.ActiveIndex != 1 || snap.StageID != "stage_2" {
		t.Errorf("snapshot position = %d/%s, want 1/stage_2", snap.ActiveIndex, snap.StageID)
	}
	if snap.Total != 5 {
		t.Errorf("Total = %d, want 5", snap.Total)
	}
	if snap.Message == "" || snap.Errored {
		t.Errorf("snapshot = %+v", snap)
	}
}
