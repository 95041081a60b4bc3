package stream

import (
	"io"
	"strings"
	"testing"
)

// fragmentReader delivers the underlying data in fixed-size fragments so
// tests can split records at arbitrary byte boundaries.
type fragmentReader struct {
	data []byte
	size int
	pos  int
}

func (r *fragmentReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	end := r.pos + r.size
	if end > len(r.data) {
		end = len(r.data)
	}
	n := copy(p, r.data[r.pos:end])
	r.pos += n
	return n, nil
}

func drain(t *testing.T, d *Decoder) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		events = append(events, ev)
	}
}

func TestDecoderDeltaRoundTrip(t *testing.T) {
	raw := `data: {"choices":[{"delta":{"content":"Force"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":" majeure"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":""}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":" is..."}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	// Every fragment size must reassemble to the same text, including
	// sizes that split records mid-line.
	for _, size := range []int{1, 3, 7, 16, len(raw)} {
		d := NewDecoder(&fragmentReader{data: []byte(raw), size: size})
		events := drain(t, d)

		var sb strings.Builder
		for _, ev := range events[:len(events)-1] {
			if ev.Type != EventContentDelta {
				t.Fatalf("fragment size %d: event type = %v, want content_delta", size, ev.Type)
			}
			sb.WriteString(ev.Text)
		}
		if got := sb.String(); got != "Force majeure is..." {
			t.Errorf("fragment size %d: accumulated = %q, want %q", size, got, "Force majeure is...")
		}
		if last := events[len(events)-1]; last.Type != EventDone {
			t.Errorf("fragment size %d: last event = %v, want done", size, last.Type)
		}
	}
}

func TestDecoderEvents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Event
	}{
		{
			name: "stage updates with heartbeat",
			raw: `data: {"stage":"stage_1","message":"Gathering expert opinions"}` + "\n\n" +
				`data: {"stage":"heartbeat"}` + "\n\n" +
				`data: {"stage":"stage_3","message":"Drafting final answer"}` + "\n\n" +
				"data: [DONE]\n\n",
			want: []Event{
				{Type: EventStageUpdate, StageID: "stage_1", Message: "Gathering expert opinions"},
				{Type: EventHeartbeat},
				{Type: EventStageUpdate, StageID: "stage_3", Message: "Drafting final answer"},
				{Type: EventDone},
			},
		},
		{
			name: "error object mid-stream",
			raw: `data: {"choices":[{"delta":{"content":"part"}}]}` + "\n\n" +
				`data: {"error":"upstream unavailable"}` + "\n\n",
			want: []Event{
				{Type: EventContentDelta, Text: "part"},
				{Type: EventError, Message: "upstream unavailable"},
			},
		},
		{
			name: "stage error",
			raw:  `data: {"stage":"error","message":"pipeline failed"}` + "\n\n",
			want: []Event{{Type: EventError, Message: "pipeline failed"}},
		},
		{
			name: "stage timeout",
			raw:  `data: {"stage":"timeout","message":"deadline exceeded"}` + "\n\n",
			want: []Event{{Type: EventTimeout, Message: "deadline exceeded"}},
		},
		{
			name: "padding and malformed records are skipped",
			raw: ": keep-alive\n\n" +
				"data: {not json\n\n" +
				"random line\n\n" +
				`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" +
				"data: [DONE]\n\n",
			want: []Event{
				{Type: EventContentDelta, Text: "ok"},
				{Type: EventDone},
			},
		},
		{
			name: "json without known fields is skipped",
			raw: `data: {"unrelated":true}` + "\n\n" +
				"data: [DONE]\n\n",
			want: []Event{{Type: EventDone}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(strings.NewReader(tt.raw))
			got := drain(t, d)
			if len(got) != len(tt.want) {
				t.Fatalf("event count = %d, want %d (%v)", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Type != tt.want[i].Type ||
					got[i].Text != tt.want[i].Text ||
					got[i].StageID != tt.want[i].StageID ||
					got[i].Message != tt.want[i].Message {
					t.Errorf("event[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDecoderCompleteCarriesResult(t *testing.T) {
	raw := `data: {"stage":"complete","result":{"final_answer":"Yes","verified_cases":[]}}` + "\n\n" +
		"data: [DONE]\n\n"

	d := NewDecoder(strings.NewReader(raw))
	ev, err := d.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.Type != EventDone {
		t.Fatalf("event type = %v, want done", ev.Type)
	}
	if !strings.Contains(string(ev.Result), "final_answer") {
		t.Errorf("Result = %s, want raw terminal payload", ev.Result)
	}
}

func TestDecoderTerminationIsIdempotent(t *testing.T) {
	raw := `data: {"error":"boom"}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"late"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	d := NewDecoder(strings.NewReader(raw))
	ev, err := d.Next()
	if err != nil || ev.Type != EventError {
		t.Fatalf("first event = %+v, %v; want error event", ev, err)
	}
	// Everything after the terminal event must be unobservable.
	for i := 0; i < 3; i++ {
		if _, err := d.Next(); err != io.EOF {
			t.Fatalf("Next() after terminal = %v, want io.EOF", err)
		}
	}
}

func TestDecoderTruncatedStream(t *testing.T) {
	raw := `data: {"choices":[{"delta":{"content":"half an ans"}}]}` + "\n\n"

	d := NewDecoder(strings.NewReader(raw))
	if ev, err := d.Next(); err != nil || ev.Type != EventContentDelta {
		t.Fatalf("first event = %+v, %v", ev, err)
	}
	if _, err := d.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("Next() on truncated stream = %v, want io.ErrUnexpectedEOF", err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("Next() after truncation = %v, want io.EOF", err)
	}
}
