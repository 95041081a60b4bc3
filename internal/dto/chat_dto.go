package dto

import (
	"time"

	"legal-qa-be/pkg/dispatch"

	"github.com/google/uuid"
)

type AskRequest struct {
	ChatSessionId uuid.UUID `json:"chat_session_id" validate:"required"`
	Question      string    `json:"question" validate:"required"`
	Pipeline      string    `json:"pipeline" validate:"omitempty,oneof=consilium court_practice"`
	UseSearch     bool      `json:"use_search"`
}

type AskResponse struct {
	Answer        string                  `json:"answer"`
	Mode          string                  `json:"mode"`
	Errored       bool                    `json:"errored"`
	VerifiedCases []dispatch.VerifiedCase `json:"verified_cases,omitempty"`
	VerifiedNpa   []dispatch.VerifiedNpa  `json:"verified_npa,omitempty"`
}

type CreateSessionResponse struct {
	Id    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

type SessionItem struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

type GetAllSessionsResponse struct {
	Items []SessionItem `json:"items"`
	Count int           `json:"count"`
	Limit int           `json:"limit"`
}

type GetChatHistoryResponse struct {
	Role          string                  `json:"role"`
	Content       string                  `json:"content"`
	Mode          string                  `json:"mode,omitempty"`
	Errored       bool                    `json:"errored,omitempty"`
	VerifiedCases []dispatch.VerifiedCase `json:"verified_cases,omitempty"`
	VerifiedNpa   []dispatch.VerifiedNpa  `json:"verified_npa,omitempty"`
}

type RenameSessionRequest struct {
	Id    uuid.UUID
	Title string `json:"title" validate:"required,max=200"`
}
