package attach

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"legal-qa-be/pkg/upstream"

	"github.com/google/uuid"
)

// Status of one attachment's extraction job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// DefaultCapacity bounds how many attachments may exist for one pending
// submission.
const DefaultCapacity = 5

// CapacityError is returned synchronously when the attachment cap is hit;
// the request is never queued.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Можно прикрепить не более %d файлов к одному сообщению.", e.Limit)
}

// Extractor sends binary content upstream and returns the extracted text.
// Satisfied by upstream.ExtractClient.
type Extractor interface {
	Extract(ctx context.Context, token string, content []byte, originalName string) (*upstream.ExtractionResult, error)
}

// Item is a snapshot of one attachment. Failed items stay visible so the
// user can retry or discard them; they are never auto-removed.
type Item struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	Summary       string    `json:"summary,omitempty"`
	ExtractedText string    `json:"-"`
	ContentKind   string    `json:"content_kind,omitempty"`
	Error         string    `json:"error,omitempty"`
}

type item struct {
	Item
	preview io.Closer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithCapacity(n int) Option {
	return func(p *Pipeline) { p.capacity = n }
}

// WithOnUpdate registers a callback invoked with an item snapshot whenever
// an extraction job finishes, successfully or not.
func WithOnUpdate(fn func(Item)) Option {
	return func(p *Pipeline) { p.onUpdate = fn }
}

// Pipeline tracks the in-flight extraction jobs feeding the next
// submission. Jobs run concurrently with no ordering between their
// completions; only the consumption order (insertion order) is stable.
type Pipeline struct {
	extractor Extractor
	capacity  int
	onUpdate  func(Item)

	mu    sync.Mutex
	items map[uuid.UUID]*item
	order []uuid.UUID
}

func NewPipeline(extractor Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		capacity:  DefaultCapacity,
		items:     make(map[uuid.UUID]*item),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add accepts one captured file and starts its extraction job. The
// capacity check is synchronous: a rejected add leaves every existing item
// untouched. The preview handle is owned by the pipeline from here on and
// released on removal or reset.
func (p *Pipeline) Add(ctx context.Context, token string, content []byte, originalName string, preview io.Closer) (Item, error) {
	p.mu.Lock()
	if len(p.items) >= p.capacity {
		p.mu.Unlock()
		return Item{}, &CapacityError{Limit: p.capacity}
	}

	it := &item{
		Item: Item{
			ID:     uuid.New(),
			Name:   originalName,
			Status: StatusPending,
		},
		preview: preview,
	}
	p.items[it.ID] = it
	p.order = append(p.order, it.ID)
	it.Status = StatusProcessing
	snapshot := it.Item
	p.mu.Unlock()

	go p.run(ctx, token, content, it.ID, originalName)

	return snapshot, nil
}

func (p *Pipeline) run(ctx context.Context, token string, content []byte, id uuid.UUID, name string) {
	result, err := p.extractor.Extract(ctx, token, content, name)

	p.mu.Lock()
	it, ok := p.items[id]
	if !ok {
		// Removed (or the session switched) while extraction ran.
		p.mu.Unlock()
		return
	}
	if err != nil {
		it.Status = StatusError
		it.Error = err.Error()
	} else {
		it.Status = StatusDone
		it.Summary = result.Summary
		it.ExtractedText = result.ExtractedText
		it.ContentKind = result.ContentKind
	}
	snapshot := it.Item
	onUpdate := p.onUpdate
	p.mu.Unlock()

	if onUpdate != nil {
		onUpdate(snapshot)
	}
}

// Items returns snapshots in insertion order.
func (p *Pipeline) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Item, 0, len(p.order))
	for _, id := range p.order {
		if it, ok := p.items[id]; ok {
			out = append(out, it.Item)
		}
	}
	return out
}

// Processing reports how many jobs have not finished yet.
func (p *Pipeline) Processing() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, it := range p.items {
		if it.Status == StatusPending || it.Status == StatusProcessing {
			n++
		}
	}
	return n
}

// Remove discards one item and releases its preview handle.
func (p *Pipeline) Remove(id uuid.UUID) bool {
	p.mu.Lock()
	it, ok := p.items[id]
	if ok {
		delete(p.items, id)
		for i, oid := range p.order {
			if oid == id {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if ok && it.preview != nil {
		it.preview.Close()
	}
	return ok
}

// Reset discards every item, releasing all preview handles. Called after
// the consuming turn is submitted and on session switch.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	dropped := make([]*item, 0, len(p.items))
	for _, it := range p.items {
		dropped = append(dropped, it)
	}
	p.items = make(map[uuid.UUID]*item)
	p.order = nil
	p.mu.Unlock()

	for _, it := range dropped {
		if it.preview != nil {
			it.preview.Close()
		}
	}
}

// ContextBlock concatenates the extracted text of every finished item into
// the hidden attachment-context block for the outbound turn. Unfinished
// and failed items contribute nothing.
func (p *Pipeline) ContextBlock() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var sb strings.Builder
	for _, id := range p.order {
		it, ok := p.items[id]
		if !ok || it.Status != StatusDone || it.ExtractedText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("— ")
		sb.WriteString(it.Name)
		if it.Summary != "" {
			sb.WriteString(" (")
			sb.WriteString(it.Summary)
			sb.WriteString(")")
		}
		sb.WriteString("\n")
		sb.WriteString(it.ExtractedText)
	}
	return sb.String()
}
