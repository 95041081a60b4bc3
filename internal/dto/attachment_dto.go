package dto

import (
	"github.com/google/uuid"

	"legal-qa-be/pkg/attach"
)

type AttachmentItem struct {
	Id          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Status      attach.Status `json:"status"`
	Summary     string        `json:"summary,omitempty"`
	ContentKind string        `json:"content_kind,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type GetAttachmentsResponse struct {
	Items      []AttachmentItem `json:"items"`
	Processing bool             `json:"processing"`
	Limit      int              `json:"limit"`
}
