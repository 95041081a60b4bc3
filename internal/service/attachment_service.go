package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"legal-qa-be/internal/config"
	"legal-qa-be/internal/dto"
	"legal-qa-be/internal/pkg/logger"
	"legal-qa-be/pkg/attach"
	"legal-qa-be/pkg/upstream"

	"github.com/google/uuid"
)

// ErrAttachmentNotFound is returned when removing an attachment that does
// not exist (or was already consumed by a submission).
var ErrAttachmentNotFound = errors.New("Вложение не найдено.")

type IAttachmentService interface {
	Upload(ctx context.Context, userId uuid.UUID, name string, content []byte, preview io.Closer) (*dto.AttachmentItem, error)
	List(ctx context.Context, userId uuid.UUID) (*dto.GetAttachmentsResponse, error)
	Remove(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) error
	SupportedFormats(ctx context.Context) ([]byte, error)
}

type attachmentService struct {
	cfg     *config.Config
	chats   IChatService
	formats *upstream.ExtractClient
	logger  logger.ILogger
}

func NewAttachmentService(cfg *config.Config, chats IChatService, formats *upstream.ExtractClient, log logger.ILogger) IAttachmentService {
	return &attachmentService{
		cfg:     cfg,
		chats:   chats,
		formats: formats,
		logger:  log,
	}
}

func (as *attachmentService) Upload(ctx context.Context, userId uuid.UUID, name string, content []byte, preview io.Closer) (*dto.AttachmentItem, error) {
	if len(content) > as.cfg.Limits.MaxUploadBytes {
		return nil, fmt.Errorf("Файл слишком большой (максимум %d МБ).", as.cfg.Limits.MaxUploadBytes/(1024*1024))
	}

	pipeline := as.chats.Attachments(userId)
	// The extraction job outlives the upload request.
	item, err := pipeline.Add(context.WithoutCancel(ctx), as.cfg.Upstream.APIKey, content, name, preview)
	if err != nil {
		return nil, err
	}

	as.logger.Info("attachment", "extraction started", map[string]interface{}{
		"user_id": userId.String(),
		"name":    name,
		"bytes":   len(content),
	})
	return attachmentItemDTO(item), nil
}

func (as *attachmentService) List(ctx context.Context, userId uuid.UUID) (*dto.GetAttachmentsResponse, error) {
	pipeline := as.chats.Attachments(userId)

	items := pipeline.Items()
	out := make([]dto.AttachmentItem, len(items))
	for i, item := range items {
		out[i] = *attachmentItemDTO(item)
	}
	return &dto.GetAttachmentsResponse{
		Items:      out,
		Processing: pipeline.Processing() > 0,
		Limit:      as.cfg.Limits.MaxAttachments,
	}, nil
}

func (as *attachmentService) Remove(ctx context.Context, userId uuid.UUID, attachmentId uuid.UUID) error {
	if !as.chats.Attachments(userId).Remove(attachmentId) {
		return ErrAttachmentNotFound
	}
	return nil
}

func (as *attachmentService) SupportedFormats(ctx context.Context) ([]byte, error) {
	return as.formats.SupportedFormats(ctx)
}

func attachmentItemDTO(item attach.Item) *dto.AttachmentItem {
	return &dto.AttachmentItem{
		Id:          item.ID,
		Name:        item.Name,
		Status:      item.Status,
		Summary:     item.Summary,
		ContentKind: item.ContentKind,
		Error:       item.Error,
	}
}
