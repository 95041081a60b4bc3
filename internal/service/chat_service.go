package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"legal-qa-be/internal/config"
	"legal-qa-be/internal/dto"
	"legal-qa-be/internal/engine"
	"legal-qa-be/internal/pkg/logger"
	"legal-qa-be/internal/repository/memory"
	"legal-qa-be/pkg/attach"
	"legal-qa-be/pkg/dispatch"
	"legal-qa-be/pkg/events"
	"legal-qa-be/pkg/session"
	"legal-qa-be/pkg/stage"
	"legal-qa-be/pkg/upstream"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// ErrAttachmentsProcessing rejects a submission while extraction jobs are
// still running; the context block would be incomplete otherwise.
var ErrAttachmentsProcessing = errors.New("Дождитесь обработки прикреплённых файлов.")

// AuditPublisher sinks exchange lifecycle events. Satisfied by
// nats.Publisher; nil disables auditing.
type AuditPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IChatService interface {
	Ask(ctx context.Context, userId uuid.UUID, request *dto.AskRequest, onDelta func(string)) (*dto.AskResponse, error)
	Abandon(userId uuid.UUID)
	Attachments(userId uuid.UUID) *attach.Pipeline
	CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error)
	GetAllSessions(ctx context.Context, userId uuid.UUID) (*dto.GetAllSessionsResponse, error)
	GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error)
	RenameSession(ctx context.Context, userId uuid.UUID, request *dto.RenameSessionRequest) error
	DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error
	DeleteAllSessions(ctx context.Context, userId uuid.UUID) error
}

type chatService struct {
	cfg       *config.Config
	store     session.Store
	opener    dispatch.StreamOpener
	publisher message.Publisher
	extractor attach.Extractor
	engines   *memory.EngineRepository
	audit     AuditPublisher
	logger    logger.ILogger

	mu sync.Mutex // guards engine creation
}

func NewChatService(
	cfg *config.Config,
	store session.Store,
	opener dispatch.StreamOpener,
	publisher message.Publisher,
	extractor attach.Extractor,
	engines *memory.EngineRepository,
	audit AuditPublisher,
	log logger.ILogger,
) IChatService {
	return &chatService{
		cfg:       cfg,
		store:     store,
		opener:    opener,
		publisher: publisher,
		extractor: extractor,
		engines:   engines,
		audit:     audit,
		logger:    log,
	}
}

// engineFor returns the user's live engine, building one on first touch.
func (cs *chatService) engineFor(userId uuid.UUID) *engine.Engine {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if e, found := cs.engines.Get(userId); found {
		cs.engines.Save(userId, e) // refresh TTL
		return e
	}
	e := engine.New(userId, engine.Deps{
		Opener:      cs.opener,
		Publisher:   cs.publisher,
		Store:       cs.store,
		Extractor:   cs.extractor,
		MaxSessions: cs.cfg.Limits.MaxSessions,
		MaxAttach:   cs.cfg.Limits.MaxAttachments,
	})
	cs.engines.Save(userId, e)
	return e
}

// Attachments exposes the user's attachment pipeline to the attachment
// service; both services share one engine per user.
func (cs *chatService) Attachments(userId uuid.UUID) *attach.Pipeline {
	return cs.engineFor(userId).Attachments
}

func (cs *chatService) Ask(ctx context.Context, userId uuid.UUID, request *dto.AskRequest, onDelta func(string)) (*dto.AskResponse, error) {
	e := cs.engineFor(userId)

	cur, turns := e.Sessions.Current()
	if cur == nil || cur.ID != request.ChatSessionId {
		var err error
		cur, turns, err = e.Sessions.Select(ctx, request.ChatSessionId)
		if err != nil {
			return nil, err
		}
	}

	if e.Attachments.Processing() > 0 {
		return nil, ErrAttachmentsProcessing
	}

	result, err := e.Dispatcher.Submit(ctx, dispatch.Request{
		SessionID:         cur.ID,
		Token:             cs.cfg.Upstream.APIKey,
		UserText:          request.Question,
		History:           historyMessages(turns),
		AttachmentContext: e.Attachments.ContextBlock(),
		Mode:              askMode(request),
		Pipeline:          askPipeline(request),
		SearchEnabled:     request.UseSearch,
		OnDelta:           onDelta,
	})
	if err != nil {
		cs.logger.Error("chat", "chat submission rejected", map[string]interface{}{"error": err.Error()})
		// Pre-flight refusals (busy, empty text) never opened an upstream
		// exchange; only a failed upstream attempt is audit-worthy.
		var queryErr *dispatch.QueryError
		if errors.As(err, &queryErr) {
			cs.publishAudit(ctx, events.NewExchangeFailed(cur.ID, string(askMode(request)), err.Error()))
		}
		return nil, err
	}

	// Attachments are consumed by the submission that carried them.
	e.Attachments.Reset()

	if err := cs.persistExchange(ctx, e, cur.ID, request.Question, result); err != nil {
		cs.logger.Error("chat", "failed to persist exchange", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	if result.Errored {
		cs.publishAudit(ctx, events.NewExchangeFailed(cur.ID, string(result.Mode), result.Text))
	} else {
		cs.publishAudit(ctx, events.NewExchangeCompleted(cur.ID, string(result.Mode),
			len(result.Text), len(result.VerifiedCases), len(result.VerifiedNpa)))
	}

	return &dto.AskResponse{
		Answer:        result.Text,
		Mode:          string(result.Mode),
		Errored:       result.Errored,
		VerifiedCases: result.VerifiedCases,
		VerifiedNpa:   result.VerifiedNpa,
	}, nil
}

func (cs *chatService) persistExchange(ctx context.Context, e *engine.Engine, sessionId uuid.UUID, question string, result *dispatch.Result) error {
	userTurn := session.Turn{Role: session.RoleUser, Content: question}
	assistantTurn := session.Turn{
		Role:    session.RoleAssistant,
		Content: result.Text,
		Mode:    string(result.Mode),
		Errored: result.Errored,
	}
	if len(result.VerifiedCases) > 0 {
		assistantTurn.VerifiedCases, _ = json.Marshal(result.VerifiedCases)
	}
	if len(result.VerifiedNpa) > 0 {
		assistantTurn.VerifiedNpa, _ = json.Marshal(result.VerifiedNpa)
	}
	return e.Sessions.AppendExchange(ctx, sessionId, userTurn, assistantTurn)
}

func (cs *chatService) Abandon(userId uuid.UUID) {
	if e, found := cs.engines.Get(userId); found {
		e.Dispatcher.Abandon()
	}
}

func (cs *chatService) CreateSession(ctx context.Context, userId uuid.UUID) (*dto.CreateSessionResponse, error) {
	e := cs.engineFor(userId)
	handle, err := e.Sessions.Create(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.CreateSessionResponse{Id: handle.ID, Title: handle.Title}, nil
}

func (cs *chatService) GetAllSessions(ctx context.Context, userId uuid.UUID) (*dto.GetAllSessionsResponse, error) {
	e := cs.engineFor(userId)
	handles, limit, err := e.Sessions.List(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]dto.SessionItem, len(handles))
	for i, h := range handles {
		items[i] = dto.SessionItem{
			Id:        h.ID,
			Title:     h.Title,
			CreatedAt: h.CreatedAt,
			UpdatedAt: h.UpdatedAt,
		}
	}
	return &dto.GetAllSessionsResponse{Items: items, Count: len(items), Limit: limit}, nil
}

func (cs *chatService) GetChatHistory(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) ([]*dto.GetChatHistoryResponse, error) {
	e := cs.engineFor(userId)
	_, turns, err := e.Sessions.Select(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	history := make([]*dto.GetChatHistoryResponse, len(turns))
	for i, turn := range turns {
		entry := &dto.GetChatHistoryResponse{
			Role:    turn.Role,
			Content: turn.Content,
			Mode:    turn.Mode,
			Errored: turn.Errored,
		}
		if len(turn.VerifiedCases) > 0 {
			json.Unmarshal(turn.VerifiedCases, &entry.VerifiedCases)
		}
		if len(turn.VerifiedNpa) > 0 {
			json.Unmarshal(turn.VerifiedNpa, &entry.VerifiedNpa)
		}
		history[i] = entry
	}
	return history, nil
}

func (cs *chatService) RenameSession(ctx context.Context, userId uuid.UUID, request *dto.RenameSessionRequest) error {
	e := cs.engineFor(userId)
	return e.Sessions.Rename(ctx, request.Id, request.Title)
}

func (cs *chatService) DeleteSession(ctx context.Context, userId uuid.UUID, sessionId uuid.UUID) error {
	e := cs.engineFor(userId)
	if err := e.Sessions.Delete(ctx, sessionId); err != nil {
		return err
	}
	cs.publishAudit(ctx, events.NewSessionPruned(sessionId, false))
	return nil
}

func (cs *chatService) DeleteAllSessions(ctx context.Context, userId uuid.UUID) error {
	e := cs.engineFor(userId)
	if err := e.Sessions.DeleteAll(ctx); err != nil {
		return err
	}
	cs.publishAudit(ctx, events.NewSessionPruned(uuid.Nil, true))
	return nil
}

func (cs *chatService) publishAudit(ctx context.Context, event events.Event) {
	if cs.audit == nil {
		return
	}
	if err := cs.audit.Publish(ctx, event); err != nil {
		cs.logger.Warn("audit", "audit publish failed", map[string]interface{}{"error": err.Error()})
	}
}

func historyMessages(turns []session.Turn) []upstream.Message {
	messages := make([]upstream.Message, 0, len(turns))
	for _, turn := range turns {
		// Synthesized failure turns are shown to the user but never fed
		// back into the model.
		if turn.Errored {
			continue
		}
		messages = append(messages, upstream.Message{Role: turn.Role, Content: turn.Content})
	}
	return messages
}

func askMode(request *dto.AskRequest) dispatch.Mode {
	switch request.Pipeline {
	case "consilium", "court_practice":
		return dispatch.ModeMultiStage
	default:
		if request.UseSearch {
			return dispatch.ModeSearchAugmented
		}
		return dispatch.ModePlain
	}
}

func askPipeline(request *dto.AskRequest) stage.Descriptor {
	switch request.Pipeline {
	case "court_practice":
		return stage.CourtPractice()
	case "consilium":
		return stage.Consilium()
	default:
		return stage.Descriptor{}
	}
}
