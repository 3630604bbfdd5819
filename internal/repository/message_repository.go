package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"docchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

// MessagePage is one keyset page, newest first. NextCursor is 0 on the last page.
type MessagePage struct {
	Messages   []model.Message
	NextCursor uint
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByIDAndDocumentID(ctx context.Context, id, documentID uint) (*model.Message, error) {
	var msg model.Message
	if err := r.db.WithContext(ctx).Where("id = ? AND document_id = ?", id, documentID).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message failed: %w", err)
	}
	return &msg, nil
}

// ListPage returns up to limit messages ordered (created_at DESC, id DESC),
// starting at cursor inclusive when cursor is non-nil. One extra row is read
// and, when present, its id becomes NextCursor.
func (r *MessageRepository) ListPage(ctx context.Context, documentID uint, cursor *model.Message, limit int) (*MessagePage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("list messages: invalid limit %d", limit)
	}

	q := r.db.WithContext(ctx).Where("document_id = ?", documentID)
	if cursor != nil {
		q = q.Where("(created_at < ?) OR (created_at = ? AND id <= ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var messages []model.Message
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit + 1).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}

	page := &MessagePage{Messages: messages}
	if len(messages) > limit {
		page.NextCursor = messages[limit].ID
		page.Messages = messages[:limit]
	}
	return page, nil
}

// ListRecent returns the latest n messages of a document, oldest first.
func (r *MessageRepository) ListRecent(ctx context.Context, documentID uint, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var messages []model.Message
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").Order("id DESC").
		Limit(n).
		Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
