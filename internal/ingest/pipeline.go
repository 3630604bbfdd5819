package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"docchat/internal/model"
	"docchat/internal/vectorstore"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrNoText           = errors.New("document has no extractable text")
	ErrTooManyPages     = errors.New("document has too many pages")
)

type Stage string

const (
	StageFetch  Stage = "fetch"
	StageParse  Stage = "parse"
	StageEmbed  Stage = "embed"
	StageUpsert Stage = "upsert"
)

// StageError records which step of the pipeline failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("ingest %s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type DocumentStore interface {
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	UpdateStatus(ctx context.Context, id uint, from, to model.UploadStatus) (bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, locator string) (*Resource, error)
}

type Parser interface {
	Parse(res *Resource) ([]Chunk, int, error)
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	MaxPages    int
	BatchSize   int
	Concurrency int
	// StatusTimeout bounds each status write that runs detached from the
	// job context.
	StatusTimeout time.Duration
	// StatusAttempts and StatusBackoff control how often a failed status
	// write is retried before the document is given up on.
	StatusAttempts int
	StatusBackoff  time.Duration
}

type Pipeline struct {
	docs     DocumentStore
	fetcher  Fetcher
	parser   Parser
	embedder Embedder
	index    vectorstore.Store
	opts     Options
	logger   *slog.Logger
}

func NewPipeline(
	docs DocumentStore,
	fetcher Fetcher,
	parser Parser,
	embedder Embedder,
	index vectorstore.Store,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = 10 * time.Second
	}
	if opts.StatusAttempts <= 0 {
		opts.StatusAttempts = 3
	}
	if opts.StatusBackoff <= 0 {
		opts.StatusBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:     docs,
		fetcher:  fetcher,
		parser:   parser,
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger.With("component", "ingest"),
	}
}

// Run ingests one document. A document that is no longer PENDING is left
// alone, so redelivered jobs are harmless. Stage failures are recorded as
// FAILED and returned as *StageError. Any other error means the document
// may still be PENDING; callers retry or Abandon it.
func (p *Pipeline) Run(ctx context.Context, documentID uint) error {
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %d failed: %w", documentID, err)
	}
	if doc == nil {
		return ErrDocumentNotFound
	}

	claimed, err := p.docs.UpdateStatus(ctx, doc.ID, model.UploadStatusPending, model.UploadStatusProcessing)
	if err != nil {
		return fmt.Errorf("claim document %d failed: %w", doc.ID, err)
	}
	if !claimed {
		p.logger.Info("skip document not pending", "document_id", doc.ID, "status", doc.UploadStatus)
		return nil
	}

	start := time.Now()
	pages, runErr := p.process(ctx, doc)

	final := model.UploadStatusSuccess
	if runErr != nil {
		final = model.UploadStatusFailed
	}
	if err := p.finish(ctx, doc.ID, final); err != nil {
		return errors.Join(runErr, err)
	}

	if runErr != nil {
		p.logger.Warn("ingest failed", "document_id", doc.ID, "error", runErr)
		return runErr
	}
	p.logger.Info("ingest succeeded", "document_id", doc.ID, "pages", pages, "elapsed", time.Since(start))
	return nil
}

// Abandon marks a document that could not be ingested as FAILED. Only a
// PENDING document is touched; anything else already belongs to a run.
func (p *Pipeline) Abandon(ctx context.Context, documentID uint) error {
	claimed, err := p.retryStatus(ctx, documentID, model.UploadStatusPending, model.UploadStatusProcessing)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	p.logger.Warn("abandon document", "document_id", documentID)
	return p.finish(ctx, documentID, model.UploadStatusFailed)
}

// finish moves a claimed document out of PROCESSING.
func (p *Pipeline) finish(ctx context.Context, id uint, final model.UploadStatus) error {
	ok, err := p.retryStatus(ctx, id, model.UploadStatusProcessing, final)
	if err != nil {
		return fmt.Errorf("record status %s failed: %w", final, err)
	}
	if !ok {
		return fmt.Errorf("document %d left PROCESSING unexpectedly", id)
	}
	return nil
}

// retryStatus writes a status transition detached from ctx's cancellation,
// retrying store errors with a linear backoff. A lost CAS is not an error.
func (p *Pipeline) retryStatus(ctx context.Context, id uint, from, to model.UploadStatus) (bool, error) {
	base := context.WithoutCancel(ctx)
	var lastErr error
	for attempt := 1; attempt <= p.opts.StatusAttempts; attempt++ {
		statusCtx, cancel := context.WithTimeout(base, p.opts.StatusTimeout)
		ok, err := p.docs.UpdateStatus(statusCtx, id, from, to)
		cancel()
		if err == nil {
			return ok, nil
		}
		lastErr = err
		p.logger.Warn("status write failed", "document_id", id, "to", to, "attempt", attempt, "error", err)
		if attempt < p.opts.StatusAttempts {
			time.Sleep(time.Duration(attempt) * p.opts.StatusBackoff)
		}
	}
	return false, lastErr
}

func (p *Pipeline) process(ctx context.Context, doc *model.Document) (int, error) {
	res, err := p.fetcher.Fetch(ctx, doc.URL)
	if err != nil {
		return 0, &StageError{Stage: StageFetch, Err: err}
	}

	chunks, total, err := p.parser.Parse(res)
	if err != nil {
		return 0, &StageError{Stage: StageParse, Err: err}
	}
	if p.opts.MaxPages > 0 && total > p.opts.MaxPages {
		return 0, &StageError{Stage: StageParse, Err: fmt.Errorf("%w: %d > %d", ErrTooManyPages, total, p.opts.MaxPages)}
	}
	if len(chunks) == 0 {
		return 0, &StageError{Stage: StageParse, Err: ErrNoText}
	}

	vectors, err := p.embed(ctx, chunks)
	if err != nil {
		return 0, &StageError{Stage: StageEmbed, Err: err}
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:     uuid.NewString(),
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: map[string]interface{}{
				"page":        c.Page,
				"document_id": doc.ID,
				"source":      doc.Name,
			},
		}
	}
	if err := p.index.Upsert(ctx, vectorstore.Namespace(doc.ID), records); err != nil {
		return 0, &StageError{Stage: StageUpsert, Err: err}
	}
	return len(chunks), nil
}

// embed runs the batches with bounded concurrency; output order matches
// chunk order.
func (p *Pipeline) embed(ctx context.Context, chunks []Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		start := start
		end := start + p.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := range texts {
				texts[i] = chunks[start+i].Text
			}
			batch, err := p.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embedding count mismatch: got %d want %d", len(batch), len(texts))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
