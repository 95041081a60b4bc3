package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"legal-qa-be/internal/config"
	"legal-qa-be/internal/dto"
	"legal-qa-be/internal/repository/memory"
	"legal-qa-be/pkg/dispatch"
	"legal-qa-be/pkg/events"
	"legal-qa-be/pkg/session"
	"legal-qa-be/pkg/upstream"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore keeps sessions in memory, mirroring the relational store's
// owner scoping.
type fakeStore struct {
	mu       sync.Mutex
	handles  map[uuid.UUID]*session.Handle
	owners   map[uuid.UUID]uuid.UUID
	turns    map[uuid.UUID][]session.Turn
	creation []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		handles: make(map[uuid.UUID]*session.Handle),
		owners:  make(map[uuid.UUID]uuid.UUID),
		turns:   make(map[uuid.UUID][]session.Turn),
	}
}

func (s *fakeStore) Create(ctx context.Context, ownerID uuid.UUID, title string) (*session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &session.Handle{ID: uuid.New(), Title: title, CreatedAt: time.Now()}
	s.handles[h.ID] = h
	s.owners[h.ID] = ownerID
	s.creation = append(s.creation, h.ID)
	copied := *h
	return &copied, nil
}

func (s *fakeStore) List(ctx context.Context, ownerID uuid.UUID) ([]session.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.Handle
	for _, id := range s.creation {
		if s.owners[id] == ownerID {
			out = append(out, *s.handles[id])
		}
	}
	return out, nil
}

func (s *fakeStore) Count(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	items, _ := s.List(ctx, ownerID)
	return int64(len(items)), nil
}

func (s *fakeStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*session.Handle, []session.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok || s.owners[id] != ownerID {
		return nil, nil, session.ErrNotFound
	}
	copied := *h
	return &copied, append([]session.Turn(nil), s.turns[id]...), nil
}

func (s *fakeStore) Rename(ctx context.Context, ownerID, id uuid.UUID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	if !ok || s.owners[id] != ownerID {
		return session.ErrNotFound
	}
	h.Title = title
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; !ok || s.owners[id] != ownerID {
		return session.ErrNotFound
	}
	delete(s.handles, id)
	delete(s.owners, id)
	delete(s.turns, id)
	return nil
}

func (s *fakeStore) DeleteAll(ctx context.Context, ownerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.owners {
		if owner == ownerID {
			delete(s.handles, id)
			delete(s.owners, id)
			delete(s.turns, id)
		}
	}
	return nil
}

func (s *fakeStore) AppendTurns(ctx context.Context, ownerID, id uuid.UUID, turns []session.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[id]; !ok || s.owners[id] != ownerID {
		return session.ErrNotFound
	}
	s.turns[id] = append(s.turns[id], turns...)
	return nil
}

// scriptedOpener replays a canned wire stream regardless of mode.
type scriptedOpener struct {
	mu      sync.Mutex
	records []string
	history []upstream.Message
}

func (o *scriptedOpener) stream() (io.ReadCloser, error) {
	var b strings.Builder
	for _, r := range o.records {
		fmt.Fprintf(&b, "data: %s\n\n", r)
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String())), nil
}

func (o *scriptedOpener) OpenPlain(ctx context.Context, token string, history []upstream.Message) (io.ReadCloser, error) {
	o.mu.Lock()
	o.history = history
	o.mu.Unlock()
	return o.stream()
}

func (o *scriptedOpener) OpenSearchAugmented(ctx context.Context, token string, history []upstream.Message, searchEnabled bool) (io.ReadCloser, error) {
	o.mu.Lock()
	o.history = history
	o.mu.Unlock()
	return o.stream()
}

func (o *scriptedOpener) OpenConsilium(ctx context.Context, token string, question string) (io.ReadCloser, error) {
	return o.stream()
}

func (o *scriptedOpener) OpenCourtPractice(ctx context.Context, token string, question string) (io.ReadCloser, error) {
	return o.stream()
}

// gatedExtractor blocks until released, to hold the pipeline in the
// processing state.
type gatedExtractor struct {
	gate chan struct{}
}

func (e *gatedExtractor) Extract(ctx context.Context, token string, content []byte, originalName string) (*upstream.ExtractionResult, error) {
	if e.gate != nil {
		<-e.gate
	}
	return &upstream.ExtractionResult{Summary: "summary", ExtractedText: "text", ContentKind: "document"}, nil
}

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }

func testConfig() *config.Config {
	return &config.Config{
		Limits: config.LimitsConfig{
			MaxSessions:    20,
			MaxAttachments: 5,
			MaxUploadBytes: 1 << 20,
		},
	}
}

func newTestService(store session.Store, opener *scriptedOpener, extractor *gatedExtractor, cfg *config.Config) IChatService {
	if cfg == nil {
		cfg = testConfig()
	}
	return NewChatService(cfg, store, opener, nil, extractor, memory.NewEngineRepository(), nil, nopLogger{})
}

func TestAskStreamsAndPersistsExchange(t *testing.T) {
	store := newFakeStore()
	opener := &scriptedOpener{records: []string{
		`{"choices":[{"delta":{"content":"Договор "}}]}`,
		`{"choices":[{"delta":{"content":"ничтожен."}}]}`,
	}}
	svc := newTestService(store, opener, &gatedExtractor{}, nil)
	userId := uuid.New()

	created, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)
	assert.Equal(t, session.DefaultTitle, created.Title)

	var deltas []string
	res, err := svc.Ask(context.Background(), userId, &dto.AskRequest{
		ChatSessionId: created.Id,
		Question:      "Действителен ли договор?",
	}, func(text string) { deltas = append(deltas, text) })
	require.NoError(t, err)

	assert.Equal(t, "Договор ничтожен.", res.Answer)
	assert.Equal(t, []string{"Договор ", "ничтожен."}, deltas)
	assert.False(t, res.Errored)

	// Both turns landed in the store.
	_, turns, err := store.Get(context.Background(), userId, created.Id)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.RoleUser, turns[0].Role)
	assert.Equal(t, "Действителен ли договор?", turns[0].Content)
	assert.Equal(t, session.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Договор ничтожен.", turns[1].Content)

	// First exchange renames the placeholder title.
	handles, _ := store.List(context.Background(), userId)
	require.Len(t, handles, 1)
	assert.Equal(t, "Действителен ли договор?", handles[0].Title)
}

func TestAskFeedsHistoryWithoutErroredTurns(t *testing.T) {
	store := newFakeStore()
	opener := &scriptedOpener{records: []string{
		`{"choices":[{"delta":{"content":"start "}}]}`,
		`{"stage":"error","message":"Сбой обработки"}`,
	}}
	svc := newTestService(store, opener, &gatedExtractor{}, nil)
	userId := uuid.New()

	created, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	res, err := svc.Ask(context.Background(), userId, &dto.AskRequest{
		ChatSessionId: created.Id,
		Question:      "первый вопрос",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Errored)
	assert.Equal(t, "Сбой обработки", res.Answer)

	// The flagged turn is persisted but kept out of the model history on
	// the next submission.
	opener.records = []string{`{"choices":[{"delta":{"content":"ок"}}]}`}
	_, err = svc.Ask(context.Background(), userId, &dto.AskRequest{
		ChatSessionId: created.Id,
		Question:      "второй вопрос",
	}, nil)
	require.NoError(t, err)

	opener.mu.Lock()
	history := opener.history
	opener.mu.Unlock()
	for _, msg := range history {
		assert.NotEqual(t, "Сбой обработки", msg.Content)
	}
	// user turn of the failed exchange is still present
	assert.Equal(t, "первый вопрос", history[0].Content)
}

func TestAskReturnsArtifactsAndHistoryRoundTrips(t *testing.T) {
	store := newFakeStore()
	opener := &scriptedOpener{records: []string{
		`{"stage":"search","message":"Поиск дел"}`,
		`{"stage":"complete","result":{"final_answer":"Практика устойчива.","verified_cases":[{"case_number":"А40-1/2024","status":"confirmed"}]}}`,
	}}
	svc := newTestService(store, opener, &gatedExtractor{}, nil)
	userId := uuid.New()

	created, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	res, err := svc.Ask(context.Background(), userId, &dto.AskRequest{
		ChatSessionId: created.Id,
		Question:      "Какова судебная практика?",
		Pipeline:      "court_practice",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Практика устойчива.", res.Answer)
	require.Len(t, res.VerifiedCases, 1)
	assert.Equal(t, "А40-1/2024", res.VerifiedCases[0].CaseNumber)

	history, err := svc.GetChatHistory(context.Background(), userId, created.Id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Len(t, history[1].VerifiedCases, 1)
	assert.Equal(t, "А40-1/2024", history[1].VerifiedCases[0].CaseNumber)
}

func TestAskRejectsWhileAttachmentsProcessing(t *testing.T) {
	store := newFakeStore()
	opener := &scriptedOpener{records: []string{`{"choices":[{"delta":{"content":"x"}}]}`}}
	extractor := &gatedExtractor{gate: make(chan struct{})}
	svc := newTestService(store, opener, extractor, nil)
	userId := uuid.New()

	created, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	_, err = svc.Attachments(userId).Add(context.Background(), "", []byte("content"), "doc.pdf", nil)
	require.NoError(t, err)

	_, err = svc.Ask(context.Background(), userId, &dto.AskRequest{
		ChatSessionId: created.Id,
		Question:      "вопрос",
	}, nil)
	assert.ErrorIs(t, err, ErrAttachmentsProcessing)

	close(extractor.gate)
}

func TestSessionCapacityIsEnforced(t *testing.T) {
	store := newFakeStore()
	cfg := testConfig()
	cfg.Limits.MaxSessions = 2
	svc := newTestService(store, &scriptedOpener{}, &gatedExtractor{}, cfg)
	userId := uuid.New()

	_, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	_, err = svc.CreateSession(context.Background(), userId)
	var capErr *session.CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Limit)
}

func TestDeleteAllSessionsClearsStore(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &scriptedOpener{}, &gatedExtractor{}, nil)
	userId := uuid.New()

	_, err := svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)
	_, err = svc.CreateSession(context.Background(), userId)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAllSessions(context.Background(), userId))

	res, err := svc.GetAllSessions(context.Background(), userId)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
}

// recordingAudit captures published audit events.
type recordingAudit struct {
	mu     sync.Mutex
	events []events.Event
}

func (a *recordingAudit) Publish(ctx context.Context, event events.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *recordingAudit) types() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.EventType()
	}
	return out
}

func TestAuditSkipsPreFlightRejections(t *testing.T) {
	store := newFakeStore()
	opener := &scriptedOpener{records: []string{
		`{"choices":[{"delta":{"content":"ответ"}}]}`,
	}}
	audit := &recordingAudit{}
	svc := NewChatService(testConfig(), store, opener, nil, &gatedExtractor{}, memory.NewEngineRepository(), audit, nopLogger{})
	userId := uuid.New()
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, userId)
	require.NoError(t, err)

	// An empty submission is refused before any upstream exchange opens;
	// nothing to audit.
	_, err = svc.Ask(ctx, userId, &dto.AskRequest{ChatSessionId: created.Id, Question: "   "}, nil)
	require.ErrorIs(t, err, dispatch.ErrEmptySubmission)
	assert.Empty(t, audit.types())

	// A resolved exchange is audited exactly once.
	_, err = svc.Ask(ctx, userId, &dto.AskRequest{ChatSessionId: created.Id, Question: "вопрос"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{events.TypeExchangeCompleted}, audit.types())
}
