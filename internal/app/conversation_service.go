package app

import (
	"context"
	"fmt"
	"log/slog"

	"docchat/internal/model"
	"docchat/internal/repository"
)

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	GetByIDAndDocumentID(ctx context.Context, id, documentID uint) (*model.Message, error)
	ListPage(ctx context.Context, documentID uint, cursor *model.Message, limit int) (*repository.MessagePage, error)
	ListRecent(ctx context.Context, documentID uint, n int) ([]model.Message, error)
}

type DocumentFinder interface {
	GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error)
}

type HistoryCache interface {
	GetHistory(ctx context.Context, documentID uint, window int) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, documentID uint, window int, messages []model.Message) error
	Invalidate(ctx context.Context, documentID uint) error
	IsDirty(ctx context.Context, documentID uint) (bool, error)
}

type PageLimits struct {
	Default int
	Max     int
}

type ConversationService struct {
	docs          DocumentFinder
	messages      MessageRepository
	history       HistoryCache
	limits        PageLimits
	historyWindow int
	logger        *slog.Logger
}

type ListMessagesInput struct {
	UserID     uint
	DocumentID uint
	Cursor     string
	Limit      int
}

type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func NewConversationService(
	docs DocumentFinder,
	messages MessageRepository,
	history HistoryCache,
	limits PageLimits,
	historyWindow int,
	logger *slog.Logger,
) *ConversationService {
	if limits.Max <= 0 {
		limits.Max = 100
	}
	if limits.Default <= 0 || limits.Default > limits.Max {
		limits.Default = limits.Max
	}
	if historyWindow < 0 {
		historyWindow = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		docs:          docs,
		messages:      messages,
		history:       history,
		limits:        limits,
		historyWindow: historyWindow,
		logger:        logger.With("component", "conversation"),
	}
}

// ListMessages returns one page, newest first. The cursor names the first
// message of the page; NextCursor names the first message of the next one.
func (s *ConversationService) ListMessages(ctx context.Context, input ListMessagesInput) (*MessagePage, error) {
	if input.UserID == 0 || input.DocumentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(ctx, input.DocumentID, input.UserID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}

	limit := input.Limit
	if limit < 0 || limit > s.limits.Max {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrInvalidInput, s.limits.Max)
	}
	if limit == 0 {
		limit = s.limits.Default
	}

	var cursor *model.Message
	if input.Cursor != "" {
		id, ok := model.ParseCursor(input.Cursor)
		if !ok {
			return nil, fmt.Errorf("%w: malformed cursor", ErrInvalidInput)
		}
		cursor, err = s.messages.GetByIDAndDocumentID(ctx, id, doc.ID)
		if err != nil {
			return nil, err
		}
		if cursor == nil {
			return nil, fmt.Errorf("%w: unknown cursor", ErrInvalidInput)
		}
	}

	page, err := s.messages.ListPage(ctx, doc.ID, cursor, limit)
	if err != nil {
		return nil, err
	}
	out := &MessagePage{Messages: page.Messages}
	if out.Messages == nil {
		out.Messages = []model.Message{}
	}
	if page.NextCursor != 0 {
		out.NextCursor = model.Message{ID: page.NextCursor}.Cursor()
	}
	return out, nil
}

// Append persists a message and invalidates the cached history window
// before returning, so the next history read sees it.
func (s *ConversationService) Append(ctx context.Context, message *model.Message) error {
	if err := s.messages.Create(ctx, message); err != nil {
		return err
	}
	if s.history != nil {
		if err := s.history.Invalidate(ctx, message.DocumentID); err != nil {
			s.logger.Warn("invalidate history failed", "document_id", message.DocumentID, "error", err)
		}
	}
	return nil
}

// RecentHistory returns the latest messages of a document, oldest first,
// served from the cache when it is clean.
func (s *ConversationService) RecentHistory(ctx context.Context, documentID uint) ([]model.Message, error) {
	if s.historyWindow == 0 {
		return nil, nil
	}

	if s.history != nil {
		dirty, err := s.history.IsDirty(ctx, documentID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.history.GetHistory(ctx, documentID, s.historyWindow); cacheErr == nil && hit {
				return cached, nil
			}
		}
	}

	messages, err := s.messages.ListRecent(ctx, documentID, s.historyWindow)
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		if dirty, err := s.history.IsDirty(ctx, documentID); err == nil && !dirty {
			if err := s.history.SetHistory(ctx, documentID, s.historyWindow, messages); err != nil {
				s.logger.Debug("set history cache failed", "document_id", documentID, "error", err)
			}
		}
	}
	return messages, nil
}
