package attach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"legal-qa-be/pkg/upstream"
)

// blockingExtractor completes jobs only when released, so tests control
// completion interleaving.
type blockingExtractor struct {
	mu      sync.Mutex
	gates   map[string]chan struct{}
	results map[string]*upstream.ExtractionResult
	errs    map[string]error
}

func newBlockingExtractor() *blockingExtractor {
	return &blockingExtractor{
		gates:   make(map[string]chan struct{}),
		results: make(map[string]*upstream.ExtractionResult),
		errs:    make(map[string]error),
	}
}

func (e *blockingExtractor) expect(name string, result *upstream.ExtractionResult, err error) chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := make(chan struct{})
	e.gates[name] = gate
	e.results[name] = result
	e.errs[name] = err
	return gate
}

func (e *blockingExtractor) Extract(ctx context.Context, token string, content []byte, originalName string) (*upstream.ExtractionResult, error) {
	e.mu.Lock()
	gate := e.gates[originalName]
	result := e.results[originalName]
	err := e.errs[originalName]
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return result, err
}

type closeRecorder struct {
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func waitSettled(t *testing.T, p *Pipeline) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for p.Processing() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("extraction jobs did not settle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipelineCapRejectsSynchronously(t *testing.T) {
	extractor := newBlockingExtractor()
	gates := make([]chan struct{}, 0, 5)
	for i := 0; i < 5; i++ {
		gates = append(gates, extractor.expect(fmt.Sprintf("doc%d.pdf", i), &upstream.ExtractionResult{ExtractedText: "text"}, nil))
	}
	p := NewPipeline(extractor)

	for i := 0; i < 5; i++ {
		if _, err := p.Add(context.Background(), "", nil, fmt.Sprintf("doc%d.pdf", i), nil); err != nil {
			t.Fatalf("Add(%d) error = %v", i, err)
		}
	}

	before := p.Items()
	_, err := p.Add(context.Background(), "", nil, "doc5.pdf", nil)
	var capErr *CapacityError
	if !errors.As(err, &capErr) || capErr.Limit != 5 {
		t.Fatalf("sixth Add() error = %v, want *CapacityError{Limit: 5}", err)
	}

	// The rejection must not disturb existing items.
	after := p.Items()
	if len(after) != len(before) {
		t.Fatalf("item count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Status != before[i].Status {
			t.Errorf("item[%d] mutated by rejected add: %+v -> %+v", i, before[i], after[i])
		}
	}

	for _, gate := range gates {
		close(gate)
	}
	waitSettled(t, p)
}

func TestPipelineCompletionsInterleave(t *testing.T) {
	extractor := newBlockingExtractor()
	first := extractor.expect("first.pdf", &upstream.ExtractionResult{Summary: "договор", ExtractedText: "первый текст"}, nil)
	second := extractor.expect("second.jpg", &upstream.ExtractionResult{Summary: "скан", ExtractedText: "второй текст"}, nil)
	p := NewPipeline(extractor)

	p.Add(context.Background(), "", nil, "first.pdf", nil)
	p.Add(context.Background(), "", nil, "second.jpg", nil)

	// Completion order is reversed relative to insertion.
	close(second)
	close(first)
	waitSettled(t, p)

	items := p.Items()
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	// Insertion order survives regardless of completion order.
	if items[0].Name != "first.pdf" || items[1].Name != "second.jpg" {
		t.Errorf("order = %s, %s", items[0].Name, items[1].Name)
	}
	for _, it := range items {
		if it.Status != StatusDone {
			t.Errorf("%s status = %s, want done", it.Name, it.Status)
		}
	}

	block := p.ContextBlock()
	firstIdx := strings.Index(block, "первый текст")
	secondIdx := strings.Index(block, "второй текст")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Errorf("ContextBlock order wrong:\n%s", block)
	}
}

func TestPipelineFailedItemStaysVisible(t *testing.T) {
	extractor := newBlockingExtractor()
	close(extractor.expect("broken.mp3", nil, errors.New("не удалось распознать речь")))
	p := NewPipeline(extractor)

	p.Add(context.Background(), "", nil, "broken.mp3", nil)
	waitSettled(t, p)

	items := p.Items()
	if len(items) != 1 || items[0].Status != StatusError {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Error == "" {
		t.Error("failed item carries no message")
	}
	if p.ContextBlock() != "" {
		t.Errorf("failed item leaked into context block: %q", p.ContextBlock())
	}
}

func TestPipelineRemoveReleasesPreview(t *testing.T) {
	extractor := newBlockingExtractor()
	extractor.expect("photo.png", &upstream.ExtractionResult{ExtractedText: "t"}, nil)
	p := NewPipeline(extractor)

	preview := &closeRecorder{}
	it, err := p.Add(context.Background(), "", nil, "photo.png", preview)
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !p.Remove(it.ID) {
		t.Fatal("Remove() = false")
	}
	if !preview.closed {
		t.Error("preview handle not released on removal")
	}
	if p.Remove(it.ID) {
		t.Error("second Remove() = true")
	}
}

func TestPipelineResetReleasesEverything(t *testing.T) {
	extractor := newBlockingExtractor()
	close(extractor.expect("a.pdf", &upstream.ExtractionResult{ExtractedText: "a"}, nil))
	close(extractor.expect("b.pdf", &upstream.ExtractionResult{ExtractedText: "b"}, nil))
	p := NewPipeline(extractor, WithCapacity(2))

	pa := &closeRecorder{}
	pb := &closeRecorder{}
	p.Add(context.Background(), "", nil, "a.pdf", pa)
	p.Add(context.Background(), "", nil, "b.pdf", pb)
	waitSettled(t, p)

	p.Reset()
	if !pa.closed || !pb.closed {
		t.Error("preview handles not released on reset")
	}
	if len(p.Items()) != 0 {
		t.Errorf("items after reset = %d", len(p.Items()))
	}

	// Capacity is available again after reset.
	if _, err := p.Add(context.Background(), "", nil, "a.pdf", nil); err != nil {
		t.Errorf("Add() after reset error = %v", err)
	}
	waitSettled(t, p)
}

func TestPipelineOnUpdateFires(t *testing.T) {
	extractor := newBlockingExtractor()
	close(extractor.expect("doc.docx", &upstream.ExtractionResult{Summary: "s", ExtractedText: "t"}, nil))

	updates := make(chan Item, 1)
	p := NewPipeline(extractor, WithOnUpdate(func(it Item) { updates <- it }))

	p.Add(context.Background(), "", nil, "doc.docx", nil)
	select {
	case it := <-updates:
		if it.Status != StatusDone || it.Summary != "s" {
			t.Errorf("update = %+v", it)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update callback")
	}
}
