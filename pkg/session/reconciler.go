package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTitle is the placeholder a fresh session carries until the first
// user turn renames it.
const DefaultTitle = "Новый чат"

// DefaultCapacity is the per-owner session ceiling.
const DefaultCapacity = 20

// Role values for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Handle is the persisted identity of a conversation.
type Handle struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Turn is one immutable conversation entry. Assistant turns may carry the
// pipeline mode that produced them plus verified artifacts; both are kept
// opaque here so the store decides how to persist them.
type Turn struct {
	Role          string          `json:"role"`
	Content       string          `json:"content"`
	Mode          string          `json:"mode,omitempty"`
	Errored       bool            `json:"errored,omitempty"`
	VerifiedCases json.RawMessage `json:"verified_cases,omitempty"`
	VerifiedNpa   json.RawMessage `json:"verified_npa,omitempty"`
}

// ErrNotFound is returned by stores when a session does not exist or is
// owned by someone else.
var ErrNotFound = errors.New("session not found")

// CapacityError is returned when creating a session would exceed the
// ceiling. Nothing is evicted implicitly; the caller must prune.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("Достигнут лимит чатов (%d). Удалите старые чаты для создания новых.", e.Limit)
}

// Store persists session handles and their turn lists.
type Store interface {
	Create(ctx context.Context, ownerID uuid.UUID, title string) (*Handle, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]Handle, error)
	Count(ctx context.Context, ownerID uuid.UUID) (int64, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*Handle, []Turn, error)
	Rename(ctx context.Context, ownerID, id uuid.UUID, title string) error
	Delete(ctx context.Context, ownerID, id uuid.UUID) error
	DeleteAll(ctx context.Context, ownerID uuid.UUID) error
	AppendTurns(ctx context.Context, ownerID, id uuid.UUID, turns []Turn) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

func WithCapacity(n int) Option {
	return func(r *Reconciler) { r.capacity = n }
}

// WithOnSwitch registers a hook fired whenever the current session
// changes; the caller uses it to abandon in-flight submissions and release
// attachment state so nothing from the old session leaks into the new one.
func WithOnSwitch(fn func()) Option {
	return func(r *Reconciler) { r.onSwitch = append(r.onSwitch, fn) }
}

// Reconciler maps the live conversation onto a persisted session identity
// for one owner. At most one session is current at a time; switching
// atomically replaces the turn list.
type Reconciler struct {
	store    Store
	ownerID  uuid.UUID
	capacity int
	onSwitch []func()

	mu      sync.Mutex
	current *Handle
	turns   []Turn
	renamed bool
}

func NewReconciler(store Store, ownerID uuid.UUID, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		ownerID:  ownerID,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) fireSwitch() {
	for _, fn := range r.onSwitch {
		fn()
	}
}

// Create makes a new session, enforces the capacity ceiling, and makes the
// new session current with an empty turn list.
func (r *Reconciler) Create(ctx context.Context) (*Handle, error) {
	count, err := r.store.Count(ctx, r.ownerID)
	if err != nil {
		return nil, err
	}
	if count >= int64(r.capacity) {
		return nil, &CapacityError{Limit: r.capacity}
	}

	handle, err := r.store.Create(ctx, r.ownerID, DefaultTitle)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = handle
	r.turns = nil
	r.renamed = false
	r.mu.Unlock()

	r.fireSwitch()
	return handle, nil
}

// Select makes an existing session current, replacing the live turn list
// wholesale.
func (r *Reconciler) Select(ctx context.Context, id uuid.UUID) (*Handle, []Turn, error) {
	handle, turns, err := r.store.Get(ctx, r.ownerID, id)
	if err != nil {
		return nil, nil, err
	}

	r.mu.Lock()
	r.current = handle
	r.turns = append([]Turn(nil), turns...)
	r.renamed = handle.Title != DefaultTitle
	r.mu.Unlock()

	r.fireSwitch()
	return handle, append([]Turn(nil), turns...), nil
}

// Current returns the current handle and a copy of the live turns.
func (r *Reconciler) Current() (*Handle, []Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, nil
	}
	h := *r.current
	return &h, append([]Turn(nil), r.turns...)
}

// List returns every session of the owner together with the ceiling, so
// callers can surface "N of M" affordances.
func (r *Reconciler) List(ctx context.Context) ([]Handle, int, error) {
	items, err := r.store.List(ctx, r.ownerID)
	if err != nil {
		return nil, 0, err
	}
	return items, r.capacity, nil
}

// Rename sets an explicit title. An explicit rename also disarms the
// one-shot auto-rename for the current session.
func (r *Reconciler) Rename(ctx context.Context, id uuid.UUID, title string) error {
	if err := r.store.Rename(ctx, r.ownerID, id, title); err != nil {
		return err
	}
	r.mu.Lock()
	if r.current != nil && r.current.ID == id {
		r.current.Title = title
		r.renamed = true
	}
	r.mu.Unlock()
	return nil
}

// Delete removes one session. Deleting the current session clears the
// live conversation.
func (r *Reconciler) Delete(ctx context.Context, id uuid.UUID) error {
	if err := r.store.Delete(ctx, r.ownerID, id); err != nil {
		return err
	}
	r.mu.Lock()
	wasCurrent := r.current != nil && r.current.ID == id
	if wasCurrent {
		r.current = nil
		r.turns = nil
	}
	r.mu.Unlock()
	if wasCurrent {
		r.fireSwitch()
	}
	return nil
}

// DeleteAll removes every session of the owner.
func (r *Reconciler) DeleteAll(ctx context.Context) error {
	if err := r.store.DeleteAll(ctx, r.ownerID); err != nil {
		return err
	}
	r.mu.Lock()
	r.current = nil
	r.turns = nil
	r.mu.Unlock()
	r.fireSwitch()
	return nil
}

// AppendExchange appends the user turn and the assistant turn of one
// completed exchange to the session the submission was pinned to, and
// persists them. The pin matters: the live session may have been switched
// between the stream's terminal event and persistence, and the exchange
// must land in the session it was asked in, never the newly selected one.
// On the first exchange of a still-default-titled session the session is
// renamed from the user text, exactly once.
func (r *Reconciler) AppendExchange(ctx context.Context, id uuid.UUID, userTurn, assistantTurn Turn) error {
	if id == uuid.Nil {
		return fmt.Errorf("no session to append to")
	}

	r.mu.Lock()
	isCurrent := r.current != nil && r.current.ID == id
	needsRename := isCurrent && !r.renamed && r.current.Title == DefaultTitle
	if isCurrent {
		r.turns = append(r.turns, userTurn, assistantTurn)
	}
	r.mu.Unlock()

	if err := r.store.AppendTurns(ctx, r.ownerID, id, []Turn{userTurn, assistantTurn}); err != nil {
		return err
	}

	if !isCurrent {
		// The user moved on while the exchange was resolving. The turns
		// are already persisted against the pinned session; give it a
		// title too when it never got one.
		handle, _, err := r.store.Get(ctx, r.ownerID, id)
		if err == nil && handle != nil && handle.Title == DefaultTitle {
			r.store.Rename(ctx, r.ownerID, id, deriveTitle(userTurn.Content))
		}
		return nil
	}

	if needsRename {
		title := deriveTitle(userTurn.Content)
		if err := r.store.Rename(ctx, r.ownerID, id, title); err == nil {
			r.mu.Lock()
			if r.current != nil && r.current.ID == id {
				r.current.Title = title
			}
			r.renamed = true
			r.mu.Unlock()
		}
	}
	return nil
}

// deriveTitle builds a session title from the first user turn.
func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if idx := strings.IndexAny(title, "\r\n"); idx >= 0 {
		title = title[:idx]
	}
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:50]) + "…"
	}
	if title == "" {
		return DefaultTitle
	}
	return title
}
