package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/vectorstore"
)

type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error)
	GetByKeyAndUserID(ctx context.Context, key string, userID uint) (*model.Document, error)
	ListByUserID(ctx context.Context, userID uint) ([]model.Document, error)
	UpdateStatus(ctx context.Context, id uint, from, to model.UploadStatus) (bool, error)
	DeleteByIDAndUserID(ctx context.Context, id, userID uint) (bool, error)
}

// IngestDispatcher hands a document to the ingestion pipeline.
type IngestDispatcher interface {
	DispatchIngest(ctx context.Context, documentID uint) error
}

type NamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

type DocumentService struct {
	docs       DocumentRepository
	dispatcher IngestDispatcher
	index      NamespaceDeleter
	history    HistoryCache
	logger     *slog.Logger
}

type AcceptDocumentInput struct {
	UserID uint
	URL    string
	Key    string
	Name   string
}

func NewDocumentService(
	docs DocumentRepository,
	dispatcher IngestDispatcher,
	index NamespaceDeleter,
	history HistoryCache,
	logger *slog.Logger,
) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		docs:       docs,
		dispatcher: dispatcher,
		index:      index,
		history:    history,
		logger:     logger.With("component", "documents"),
	}
}

// Accept records a PENDING document and queues it for ingestion. The
// returned document is not searchable until its status reaches SUCCESS.
func (s *DocumentService) Accept(ctx context.Context, input AcceptDocumentInput) (*model.Document, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	locator := strings.TrimSpace(input.URL)
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "file") || (u.Scheme != "file" && u.Host == "") {
		return nil, fmt.Errorf("%w: url must be an http(s) or file locator", ErrInvalidInput)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = pathBase(u.Path)
	}
	if name == "" || len(name) > 256 {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	key := strings.TrimSpace(input.Key)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > 191 {
		return nil, fmt.Errorf("%w: key too long", ErrInvalidInput)
	}

	existing, err := s.docs.GetByKeyAndUserID(ctx, key, input.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: document key %q", ErrConflict, key)
	}

	doc := &model.Document{
		UserID:       input.UserID,
		Key:          key,
		Name:         name,
		URL:          locator,
		UploadStatus: model.UploadStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		// a concurrent upload with the same key won the unique index
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: document key %q", ErrConflict, key)
		}
		return nil, err
	}

	if err := s.dispatcher.DispatchIngest(ctx, doc.ID); err != nil {
		s.logger.Error("dispatch ingest failed", "document_id", doc.ID, "error", err)
		s.failUndispatched(ctx, doc)
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	s.logger.Info("document accepted", "document_id", doc.ID, "user_id", doc.UserID)
	return doc, nil
}

// failUndispatched walks a document nobody will ever pick up to FAILED so
// pollers see a terminal status.
func (s *DocumentService) failUndispatched(ctx context.Context, doc *model.Document) {
	ctx = context.WithoutCancel(ctx)
	if ok, err := s.docs.UpdateStatus(ctx, doc.ID, model.UploadStatusPending, model.UploadStatusProcessing); err != nil || !ok {
		return
	}
	if _, err := s.docs.UpdateStatus(ctx, doc.ID, model.UploadStatusProcessing, model.UploadStatusFailed); err != nil {
		s.logger.Error("mark undispatched document failed", "document_id", doc.ID, "error", err)
	}
}

func (s *DocumentService) Get(ctx context.Context, userID, documentID uint) (*model.Document, error) {
	if userID == 0 || documentID == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *DocumentService) GetByKey(ctx context.Context, userID uint, key string) (*model.Document, error) {
	key = strings.TrimSpace(key)
	if userID == 0 || key == "" {
		return nil, ErrInvalidInput
	}
	doc, err := s.docs.GetByKeyAndUserID(ctx, key, userID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *DocumentService) Status(ctx context.Context, userID, documentID uint) (model.UploadStatus, error) {
	doc, err := s.Get(ctx, userID, documentID)
	if err != nil {
		return "", err
	}
	return doc.UploadStatus, nil
}

func (s *DocumentService) List(ctx context.Context, userID uint) ([]model.Document, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.docs.ListByUserID(ctx, userID)
}

// Delete removes the document with its messages, then its vector namespace
// and cached history. The latter two are best effort.
func (s *DocumentService) Delete(ctx context.Context, userID, documentID uint) error {
	if userID == 0 || documentID == 0 {
		return ErrInvalidInput
	}
	deleted, err := s.docs.DeleteByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}

	if err := s.index.DeleteNamespace(ctx, vectorstore.Namespace(documentID)); err != nil {
		s.logger.Warn("delete vector namespace failed", "document_id", documentID, "error", err)
	}
	if s.history != nil {
		if err := s.history.Invalidate(ctx, documentID); err != nil {
			s.logger.Warn("invalidate history failed", "document_id", documentID, "error", err)
		}
	}
	return nil
}

func pathBase(p string) string {
	p = strings.TrimRight(p, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
