package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

var (
	// ErrDocumentNotFound covers missing, foreign and not-yet-indexed documents.
	ErrDocumentNotFound = errors.New("document not found")
	ErrRetrieval        = errors.New("retrieval failed")
)

const DefaultTopK = 4

type DocumentFinder interface {
	GetByIDAndUserID(ctx context.Context, id, userID uint) (*model.Document, error)
}

type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Passage is one retrieved page of the document.
type Passage struct {
	Text  string
	Page  int
	Score float32
}

type Engine struct {
	docs     DocumentFinder
	embedder QueryEmbedder
	index    vectorstore.Store
	topK     int
}

func NewEngine(docs DocumentFinder, embedder QueryEmbedder, index vectorstore.Store, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{docs: docs, embedder: embedder, index: index, topK: topK}
}

// Retrieve returns the topK passages of one document nearest to query,
// best first. There is no score cutoff.
func (e *Engine) Retrieve(ctx context.Context, userID, documentID uint, query string) ([]Passage, error) {
	doc, err := e.docs.GetByIDAndUserID(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if !doc.Queryable() {
		return nil, ErrDocumentNotFound
	}
	return e.RetrieveFrom(ctx, doc, query)
}

// RetrieveFrom searches an already loaded document.
func (e *Engine) RetrieveFrom(ctx context.Context, doc *model.Document, query string) ([]Passage, error) {
	if !doc.Queryable() {
		return nil, ErrDocumentNotFound
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrRetrieval)
	}

	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %v", ErrRetrieval, err)
	}
	matches, err := e.index.Search(ctx, vectorstore.Namespace(doc.ID), vec, e.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrRetrieval, err)
	}

	passages := make([]Passage, len(matches))
	for i, m := range matches {
		passages[i] = Passage{Text: m.Text, Page: pageOf(m.Metadata), Score: m.Score}
	}
	return passages, nil
}

func pageOf(meta map[string]interface{}) int {
	switch v := meta["page"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
