package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/testutil"
	"docchat/internal/vectorstore"
	"docchat/internal/vectorstore/sqlstore"
)

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) Fetch(ctx context.Context, locator string) (*Resource, error) {
	args := m.Called(ctx, locator)
	res, _ := args.Get(0).(*Resource)
	return res, args.Error(1)
}

// hashEmbedder maps text to a deterministic vector.
type hashEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (e *hashEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail != nil {
		return nil, e.fail
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type failingStore struct{ vectorstore.Store }

func (failingStore) Upsert(context.Context, string, []vectorstore.Record) error {
	return errors.New("index unavailable")
}

type fixture struct {
	docs     *repository.DocumentRepository
	index    *sqlstore.Store
	fetcher  *mockFetcher
	embedder *hashEmbedder
	doc      *model.Document
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t, &model.Document{}, &sqlstore.VectorRecord{})
	f := &fixture{
		docs:     repository.NewDocumentRepository(db),
		index:    sqlstore.New(db),
		fetcher:  &mockFetcher{},
		embedder: &hashEmbedder{},
	}
	f.doc = &model.Document{UserID: 1, Key: "k", Name: "handbook.txt", URL: "https://files.example.com/handbook.txt", UploadStatus: model.UploadStatusPending}
	require.NoError(t, f.docs.Create(context.Background(), f.doc))
	return f
}

func (f *fixture) pipeline(store vectorstore.Store, opts Options) *Pipeline {
	if store == nil {
		store = f.index
	}
	return NewPipeline(f.docs, f.fetcher, PageParser{}, f.embedder, store, opts, nil)
}

func (f *fixture) status(t *testing.T) model.UploadStatus {
	t.Helper()
	doc, err := f.docs.GetByID(context.Background(), f.doc.ID)
	require.NoError(t, err)
	return doc.UploadStatus
}

func textResource(pages ...string) *Resource {
	return &Resource{Body: []byte(strings.Join(pages, "\f")), ContentType: "text/plain; charset=utf-8"}
}

func TestPipeline_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.On("Fetch", mock.Anything, f.doc.URL).Return(textResource("Refunds within 30 days.", "", "Shipping takes a week.", "Contact support."), nil)

	err := f.pipeline(nil, Options{MaxPages: 5, BatchSize: 2, Concurrency: 2}).Run(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusSuccess, f.status(t))
	assert.Equal(t, 2, f.embedder.calls)

	matches, err := f.index.Search(ctx, vectorstore.Namespace(f.doc.ID), []float32{1, 1}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	pages := map[string]float64{}
	for _, m := range matches {
		pages[m.Text] = m.Metadata["page"].(float64)
		assert.Equal(t, "handbook.txt", m.Metadata["source"])
	}
	assert.Equal(t, float64(3), pages["Shipping takes a week."])
	f.fetcher.AssertExpectations(t)
}

func TestPipeline_FailureStages(t *testing.T) {
	tests := []struct {
		name      string
		resource  *Resource
		fetchErr  error
		embedErr  error
		store     vectorstore.Store
		maxPages  int
		wantStage Stage
		wantErr   error
	}{
		{name: "fetch", fetchErr: errors.New("404"), wantStage: StageFetch},
		{name: "unsupported type", resource: &Resource{Body: []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, ContentType: "image/png"}, wantStage: StageParse},
		{name: "no text", resource: textResource("", "  "), wantStage: StageParse, wantErr: ErrNoText},
		{name: "too many pages", resource: textResource("a", "b", "c"), maxPages: 2, wantStage: StageParse, wantErr: ErrTooManyPages},
		{name: "embed", resource: textResource("a"), embedErr: errors.New("quota"), wantStage: StageEmbed},
		{name: "upsert", resource: textResource("a"), store: failingStore{}, wantStage: StageUpsert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.embedder.fail = tt.embedErr
			f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(tt.resource, tt.fetchErr)

			err := f.pipeline(tt.store, Options{MaxPages: tt.maxPages}).Run(context.Background(), f.doc.ID)

			var stageErr *StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, tt.wantStage, stageErr.Stage)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, model.UploadStatusFailed, f.status(t))
		})
	}
}

func TestPipeline_StatusSequence(t *testing.T) {
	// record every transition the pipeline asks for
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(textResource("a"), nil)
	rec := &recordingDocs{DocumentStore: f.docs}

	p := NewPipeline(rec, f.fetcher, PageParser{}, f.embedder, f.index, Options{}, nil)
	require.NoError(t, p.Run(ctx, f.doc.ID))
	// a redelivered job must not move the document again
	require.NoError(t, p.Run(ctx, f.doc.ID))

	assert.Equal(t, []string{"PENDING->PROCESSING:true", "PROCESSING->SUCCESS:true", "PENDING->PROCESSING:false"}, rec.log)
	assert.Equal(t, model.UploadStatusSuccess, f.status(t))
}

type recordingDocs struct {
	DocumentStore
	log []string
}

func (r *recordingDocs) UpdateStatus(ctx context.Context, id uint, from, to model.UploadStatus) (bool, error) {
	ok, err := r.DocumentStore.UpdateStatus(ctx, id, from, to)
	r.log = append(r.log, fmt.Sprintf("%s->%s:%t", from, to, ok))
	return ok, err
}

func TestPipeline_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	err := f.pipeline(nil, Options{}).Run(context.Background(), 999)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

// flakyDocs fails the first n status writes to a given target status.
type flakyDocs struct {
	DocumentStore
	target model.UploadStatus
	n      int
	calls  int
}

func (d *flakyDocs) UpdateStatus(ctx context.Context, id uint, from, to model.UploadStatus) (bool, error) {
	if to == d.target && d.calls < d.n {
		d.calls++
		return false, errors.New("connection reset")
	}
	return d.DocumentStore.UpdateStatus(ctx, id, from, to)
}

func TestPipeline_FinalStatusWriteRetried(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(textResource("a"), nil)
	docs := &flakyDocs{DocumentStore: f.docs, target: model.UploadStatusSuccess, n: 2}

	p := NewPipeline(docs, f.fetcher, PageParser{}, f.embedder, f.index, Options{StatusBackoff: time.Millisecond}, nil)
	require.NoError(t, p.Run(context.Background(), f.doc.ID))
	assert.Equal(t, 2, docs.calls)
	assert.Equal(t, model.UploadStatusSuccess, f.status(t))
}

func TestPipeline_FinalStatusWriteGivesUp(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(textResource("a"), nil)
	docs := &flakyDocs{DocumentStore: f.docs, target: model.UploadStatusSuccess, n: 10}

	p := NewPipeline(docs, f.fetcher, PageParser{}, f.embedder, f.index, Options{StatusAttempts: 2, StatusBackoff: time.Millisecond}, nil)
	err := p.Run(context.Background(), f.doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record status SUCCESS failed")
	assert.Equal(t, 2, docs.calls)
}

func TestPipeline_ClaimFailureThenAbandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	docs := &flakyDocs{DocumentStore: f.docs, target: model.UploadStatusProcessing, n: 1}
	p := NewPipeline(docs, f.fetcher, PageParser{}, f.embedder, f.index, Options{StatusBackoff: time.Millisecond}, nil)

	err := p.Run(ctx, f.doc.ID)
	require.Error(t, err)
	var stageErr *StageError
	assert.False(t, errors.As(err, &stageErr))
	assert.Equal(t, model.UploadStatusPending, f.status(t))

	require.NoError(t, p.Abandon(ctx, f.doc.ID))
	assert.Equal(t, model.UploadStatusFailed, f.status(t))
	f.fetcher.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestPipeline_AbandonLeavesFinishedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(textResource("a"), nil)
	p := f.pipeline(nil, Options{})
	require.NoError(t, p.Run(ctx, f.doc.ID))

	require.NoError(t, p.Abandon(ctx, f.doc.ID))
	assert.Equal(t, model.UploadStatusSuccess, f.status(t))
}
