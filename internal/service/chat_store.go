package service

import (
	"context"
	"encoding/json"

	"legal-qa-be/internal/entity"
	"legal-qa-be/internal/repository/specification"
	"legal-qa-be/internal/repository/unitofwork"
	"legal-qa-be/pkg/dispatch"
	"legal-qa-be/pkg/session"

	"github.com/google/uuid"
)

// chatStore backs the session reconciler with the relational chat store.
// All lookups are owner-scoped through specifications.
type chatStore struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewChatStore(uowFactory unitofwork.RepositoryFactory) session.Store {
	return &chatStore{uowFactory: uowFactory}
}

func (s *chatStore) Create(ctx context.Context, ownerID uuid.UUID, title string) (*session.Handle, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chatSession := entity.ChatSession{
		Id:     uuid.New(),
		UserId: ownerID,
		Title:  title,
	}
	if err := uow.ChatSessionRepository().Create(ctx, &chatSession); err != nil {
		return nil, err
	}
	return sessionToHandle(&chatSession), nil
}

func (s *chatStore) List(ctx context.Context, ownerID uuid.UUID) ([]session.Handle, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.ChatSessionRepository().FindAll(ctx,
		specification.OwnedBy{UserID: ownerID},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	handles := make([]session.Handle, len(sessions))
	for i, cs := range sessions {
		handles[i] = *sessionToHandle(cs)
	}
	return handles, nil
}

func (s *chatStore) Count(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChatSessionRepository().Count(ctx, specification.OwnedBy{UserID: ownerID})
}

func (s *chatStore) Get(ctx context.Context, ownerID, id uuid.UUID) (*session.Handle, []session.Turn, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.OwnedBy{UserID: ownerID},
	)
	if err != nil {
		return nil, nil, err
	}
	if chatSession == nil {
		return nil, nil, session.ErrNotFound
	}

	rows, err := uow.ChatTurnRepository().FindAll(ctx,
		specification.ByChatSessionID{ChatSessionID: id},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, nil, err
	}

	turns := make([]session.Turn, len(rows))
	for i, row := range rows {
		turns[i] = turnFromEntity(row)
	}
	return sessionToHandle(chatSession), turns, nil
}

func (s *chatStore) Rename(ctx context.Context, ownerID, id uuid.UUID, title string) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.OwnedBy{UserID: ownerID},
	)
	if err != nil {
		return err
	}
	if chatSession == nil {
		return session.ErrNotFound
	}

	chatSession.Title = title
	return uow.ChatSessionRepository().Update(ctx, chatSession)
}

func (s *chatStore) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.OwnedBy{UserID: ownerID},
	)
	if err != nil {
		return err
	}
	if chatSession == nil {
		return session.ErrNotFound
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	if err := uow.ChatTurnRepository().DeleteAllBySessionId(ctx, id); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.ChatSessionRepository().Delete(ctx, id); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Commit()
}

func (s *chatStore) DeleteAll(ctx context.Context, ownerID uuid.UUID) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	sessions, err := uow.ChatSessionRepository().FindAll(ctx, specification.OwnedBy{UserID: ownerID})
	if err != nil {
		return err
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	for _, cs := range sessions {
		if err := uow.ChatTurnRepository().DeleteAllBySessionId(ctx, cs.Id); err != nil {
			uow.Rollback()
			return err
		}
	}
	if err := uow.ChatSessionRepository().DeleteAllByUserId(ctx, ownerID); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Commit()
}

func (s *chatStore) AppendTurns(ctx context.Context, ownerID, id uuid.UUID, turns []session.Turn) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	chatSession, err := uow.ChatSessionRepository().FindOne(ctx,
		specification.ByID{ID: id},
		specification.OwnedBy{UserID: ownerID},
	)
	if err != nil {
		return err
	}
	if chatSession == nil {
		return session.ErrNotFound
	}

	rows := make([]*entity.ChatTurn, len(turns))
	for i, turn := range turns {
		rows[i] = turnToEntity(id, turn)
	}
	return uow.ChatTurnRepository().CreateBatch(ctx, rows)
}

func sessionToHandle(cs *entity.ChatSession) *session.Handle {
	return &session.Handle{
		ID:        cs.Id,
		Title:     cs.Title,
		CreatedAt: cs.CreatedAt,
		UpdatedAt: cs.UpdatedAt,
	}
}

func turnFromEntity(row *entity.ChatTurn) session.Turn {
	turn := session.Turn{
		Role:    row.Role,
		Content: row.Content,
		Mode:    row.Mode,
		Errored: row.Errored,
	}
	if len(row.VerifiedCases) > 0 {
		turn.VerifiedCases, _ = json.Marshal(row.VerifiedCases)
	}
	if len(row.VerifiedNpa) > 0 {
		turn.VerifiedNpa, _ = json.Marshal(row.VerifiedNpa)
	}
	return turn
}

func turnToEntity(sessionId uuid.UUID, turn session.Turn) *entity.ChatTurn {
	row := &entity.ChatTurn{
		Id:            uuid.New(),
		ChatSessionId: sessionId,
		Role:          turn.Role,
		Content:       turn.Content,
		Mode:          turn.Mode,
		Errored:       turn.Errored,
	}
	if len(turn.VerifiedCases) > 0 {
		var cases []dispatch.VerifiedCase
		if err := json.Unmarshal(turn.VerifiedCases, &cases); err == nil {
			row.VerifiedCases = cases
		}
	}
	if len(turn.VerifiedNpa) > 0 {
		var refs []dispatch.VerifiedNpa
		if err := json.Unmarshal(turn.VerifiedNpa, &refs); err == nil {
			row.VerifiedNpa = refs
		}
	}
	return row
}
