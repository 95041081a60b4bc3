package mapper

import (
	"time"

	"legal-qa-be/internal/entity"
	"legal-qa-be/internal/model"

	"gorm.io/datatypes"
)

type ChatMapper struct{}

func NewChatMapper() *ChatMapper {
	return &ChatMapper{}
}

// Session Mappers

func (m *ChatMapper) ChatSessionToEntity(s *model.ChatSession) *entity.ChatSession {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	return &entity.ChatSession{
		Id:        s.Id,
		UserId:    s.UserId,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

func (m *ChatMapper) ChatSessionToModel(s *entity.ChatSession) *model.ChatSession {
	if s == nil {
		return nil
	}

	var updatedAt time.Time
	if s.UpdatedAt != nil {
		updatedAt = *s.UpdatedAt
	}

	return &model.ChatSession{
		Id:        s.Id,
		UserId:    s.UserId,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: updatedAt,
	}
}

// Turn Mappers

func (m *ChatMapper) ChatTurnToEntity(t *model.ChatTurn) *entity.ChatTurn {
	if t == nil {
		return nil
	}

	return &entity.ChatTurn{
		Id:            t.Id,
		ChatSessionId: t.ChatSessionId,
		Role:          t.Role,
		Content:       t.Content,
		Mode:          t.Mode,
		Errored:       t.Errored,
		VerifiedCases: t.VerifiedCases.Data(),
		VerifiedNpa:   t.VerifiedNpa.Data(),
		CreatedAt:     t.CreatedAt,
	}
}

func (m *ChatMapper) ChatTurnToModel(t *entity.ChatTurn) *model.ChatTurn {
	if t == nil {
		return nil
	}

	return &model.ChatTurn{
		Id:            t.Id,
		ChatSessionId: t.ChatSessionId,
		Role:          t.Role,
		Content:       t.Content,
		Mode:          t.Mode,
		Errored:       t.Errored,
		VerifiedCases: datatypes.NewJSONType(t.VerifiedCases),
		VerifiedNpa:   datatypes.NewJSONType(t.VerifiedNpa),
		CreatedAt:     t.CreatedAt,
	}
}

func (m *ChatMapper) ChatTurnsToEntities(models []*model.ChatTurn) []*entity.ChatTurn {
	entities := make([]*entity.ChatTurn, len(models))
	for i, t := range models {
		entities[i] = m.ChatTurnToEntity(t)
	}
	return entities
}
