package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"docchat/internal/ai"
	"docchat/internal/model"
	"docchat/internal/retrieval"
	"docchat/internal/stream"
)

type Completer interface {
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(chunk string) error) (string, error)
}

type Retriever interface {
	RetrieveFrom(ctx context.Context, doc *model.Document, query string) ([]retrieval.Passage, error)
}

type ChatOptions struct {
	MaxQuestionBytes int
	// PersistTimeout bounds the assistant message write, which runs
	// detached from the request.
	PersistTimeout time.Duration
	// CancelOnDisconnect propagates request cancellation to the model call.
	CancelOnDisconnect bool
}

type ChatService struct {
	docs         DocumentFinder
	conversation *ConversationService
	retriever    Retriever
	completer    Completer
	opts         ChatOptions
	logger       *slog.Logger
}

type AskInput struct {
	UserID     uint
	DocumentID uint
	Question   string
}

// PendingAnswer is a question that has been persisted and has its prompt
// ready. Nothing has been written to the caller yet.
type PendingAnswer struct {
	svc          *ChatService
	ctx          context.Context
	UserMessage  model.Message
	prompt       []ai.ChatMessage
	documentID   uint
	userID       uint
	passageCount int
}

func NewChatService(
	docs DocumentFinder,
	conversation *ConversationService,
	retriever Retriever,
	completer Completer,
	opts ChatOptions,
	logger *slog.Logger,
) *ChatService {
	if opts.MaxQuestionBytes <= 0 {
		opts.MaxQuestionBytes = 16 * 1024
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		docs:         docs,
		conversation: conversation,
		retriever:    retriever,
		completer:    completer,
		opts:         opts,
		logger:       logger.With("component", "chat"),
	}
}

// Ask validates the question, loads the prior turns, persists the user
// message and prepares the prompt. Once the user message is stored it stays
// stored, whatever fails afterwards.
func (s *ChatService) Ask(ctx context.Context, input AskInput) (*PendingAnswer, error) {
	question := strings.TrimSpace(input.Question)
	if input.UserID == 0 || input.DocumentID == 0 || question == "" {
		return nil, ErrInvalidInput
	}
	if len(question) > s.opts.MaxQuestionBytes {
		return nil, fmt.Errorf("%w: question too long", ErrInvalidInput)
	}

	doc, err := s.docs.GetByIDAndUserID(ctx, input.DocumentID, input.UserID)
	if err != nil {
		return nil, err
	}
	if !doc.Queryable() {
		return nil, ErrNotFound
	}

	// prior turns only; the question itself goes in as USER INPUT
	history, err := s.conversation.RecentHistory(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	userMessage := model.Message{
		DocumentID:    doc.ID,
		UserID:        input.UserID,
		IsUserMessage: true,
		Text:          question,
	}
	if err := s.conversation.Append(ctx, &userMessage); err != nil {
		return nil, err
	}

	passages, err := s.retriever.RetrieveFrom(ctx, doc, question)
	if err != nil {
		if errors.Is(err, retrieval.ErrDocumentNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	return &PendingAnswer{
		svc:          s,
		ctx:          ctx,
		UserMessage:  userMessage,
		prompt:       retrieval.AssemblePrompt(passages, history, question),
		documentID:   doc.ID,
		userID:       input.UserID,
		passageCount: len(passages),
	}, nil
}

// StreamAnswer is Ask followed by Stream.
func (s *ChatService) StreamAnswer(ctx context.Context, input AskInput, w io.Writer) (*model.Message, error) {
	pending, err := s.Ask(ctx, input)
	if err != nil {
		return nil, err
	}
	return pending.Stream(w)
}

// Stream runs the completion, forwarding every increment to w as a frame
// while accumulating the answer. On a clean finish exactly one assistant
// message holding the accumulated text is persisted before the done frame
// is sent. On a model error an error frame is sent and nothing is stored.
func (p *PendingAnswer) Stream(w io.Writer) (*model.Message, error) {
	s := p.svc
	genCtx := p.ctx
	if !s.opts.CancelOnDisconnect {
		genCtx = context.WithoutCancel(p.ctx)
	}

	fw := stream.NewForwarder(w)
	defer func() {
		if err := fw.Close(); err != nil {
			s.logger.Debug("answer stream reader went away", "document_id", p.documentID, "error", err)
		}
	}()

	var (
		full  strings.Builder
		index int
	)
	start := time.Now()
	_, err := s.completer.StreamComplete(genCtx, p.prompt, func(chunk string) error {
		full.WriteString(chunk)
		fw.Push(stream.EncodeText(index, chunk))
		index++
		return nil
	})
	if err != nil {
		s.logger.Warn("completion failed", "document_id", p.documentID, "increments", index, "error", err)
		fw.Push(stream.EncodeError("completion failed"))
		return nil, fmt.Errorf("%w: %v", ErrCompletion, err)
	}

	answer := &model.Message{
		DocumentID:    p.documentID,
		UserID:        p.userID,
		IsUserMessage: false,
		Text:          full.String(),
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), s.opts.PersistTimeout)
	defer cancel()
	if err := s.conversation.Append(persistCtx, answer); err != nil {
		s.logger.Error("persist answer failed", "document_id", p.documentID, "error", err)
		fw.Push(stream.EncodeError("answer could not be saved"))
		return nil, fmt.Errorf("persist answer failed: %w", err)
	}

	fw.Push(stream.EncodeDone())
	s.logger.Info("answer streamed",
		"document_id", p.documentID,
		"increments", index,
		"passages", p.passageCount,
		"elapsed", time.Since(start),
	)
	return answer, nil
}
