package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/ai"
	appsvc "docchat/internal/app"
	"docchat/internal/ingest"
	"docchat/internal/model"
	"docchat/internal/pkg/jwtutil"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	"docchat/internal/stream"
	"docchat/internal/testutil"
	"docchat/internal/transport/http/handler"
	"docchat/internal/vectorstore/sqlstore"
)

const testSecret = "e2e-secret"

// wordEmbedder hashes words into a small bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) vector(text string) []float32 {
	v := make([]float32, 256)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,?!")))
		v[h.Sum32()%256]++
	}
	return v
}

func (e wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e wordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type scriptedCompleter struct {
	mu      sync.Mutex
	chunks  []string
	prompts [][]ai.ChatMessage
}

func (c *scriptedCompleter) StreamComplete(_ context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, messages)
	c.mu.Unlock()
	var full strings.Builder
	for _, chunk := range c.chunks {
		if err := onChunk(chunk); err != nil {
			return full.String(), err
		}
		full.WriteString(chunk)
	}
	return full.String(), nil
}

// inlineDispatcher runs ingestion on the caller's goroutine.
type inlineDispatcher struct {
	pipeline *ingest.Pipeline
}

func (d inlineDispatcher) DispatchIngest(ctx context.Context, documentID uint) error {
	err := d.pipeline.Run(context.WithoutCancel(ctx), documentID)
	var stageErr *ingest.StageError
	if err != nil && !errors.As(err, &stageErr) {
		return err
	}
	return nil
}

type server struct {
	engine    *gin.Engine
	completer *scriptedCompleter
	files     *httptest.Server
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t, &model.Document{}, &model.Message{}, &sqlstore.VectorRecord{})
	docs := repository.NewDocumentRepository(db)
	messages := repository.NewMessageRepository(db)
	index := sqlstore.New(db)
	embedder := wordEmbedder{}

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Refunds are accepted within thirty days of purchase.\fShipping takes five business days.")
	}))
	t.Cleanup(files.Close)

	pipeline := ingest.NewPipeline(docs, ingest.NewHTTPFetcher(5*time.Second, 1<<20), ingest.PageParser{}, embedder, index,
		ingest.Options{MaxPages: 5, BatchSize: 2, Concurrency: 2}, nil)

	completer := &scriptedCompleter{chunks: []string{"Hello", " world"}}
	conversation := appsvc.NewConversationService(docs, messages, nil, appsvc.PageLimits{Default: 10, Max: 100}, 6, nil)
	chat := appsvc.NewChatService(docs, conversation, retrieval.NewEngine(docs, embedder, index, 1), completer,
		appsvc.ChatOptions{PersistTimeout: time.Second}, nil)

	engine := NewEngine(testSecret, nil, Handlers{
		Health:    handler.NewHealthHandler("docchat", "test", time.Now(), map[string]handler.Pinger{}),
		Documents: handler.NewDocumentHandler(appsvc.NewDocumentService(docs, inlineDispatcher{pipeline: pipeline}, index, nil, nil)),
		Messages:  handler.NewMessageHandler(conversation, chat, nil),
	})
	return &server{engine: engine, completer: completer, files: files}
}

func (s *server) do(t *testing.T, userID uint, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		token, err := jwtutil.GenerateToken(testSecret, time.Hour, userID, fmt.Sprintf("user-%d", userID))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestEndToEnd_UploadAskHistory(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, 1, http.MethodPost, "/api/v1/documents", gin.H{"url": s.files.URL + "/policy.txt", "key": "policy"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var doc model.Document
	decode(t, rec, &doc)
	assert.Equal(t, "policy.txt", doc.Name)

	rec = s.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/documents/%d/status", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status handler.DocumentStatusResponse
	decode(t, rec, &status)
	require.Equal(t, string(model.UploadStatusSuccess), status.UploadStatus)

	rec = s.do(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), gin.H{"message": "How many days for refunds?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(handler.HeaderUserMessageID))

	var progress []string
	answer, err := stream.Accumulate(rec.Body, func(full string) { progress = append(progress, full) })
	require.NoError(t, err)
	assert.Equal(t, "Hello world", answer)
	assert.Equal(t, []string{"Hello", "Hello world"}, progress)

	// top-1 retrieval picked the refunds page
	require.Len(t, s.completer.prompts, 1)
	prompt := s.completer.prompts[0]
	userPrompt := prompt[len(prompt)-1].Content
	assert.Contains(t, userPrompt, "Refunds are accepted")
	assert.NotContains(t, userPrompt, "Shipping takes")
	assert.True(t, strings.HasSuffix(userPrompt, "USER INPUT: How many days for refunds?"))

	rec = s.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page appsvc.MessagePage
	decode(t, rec, &page)
	require.Len(t, page.Messages, 2)
	assert.False(t, page.Messages[0].IsUserMessage)
	assert.Equal(t, "Hello world", page.Messages[0].Text)
	assert.True(t, page.Messages[1].IsUserMessage)
	assert.Equal(t, "How many days for refunds?", page.Messages[1].Text)
	assert.Empty(t, page.NextCursor)

	rec = s.do(t, 1, http.MethodGet, "/api/v1/documents/by-key/policy", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEndToEnd_Errors(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, 1, http.MethodPost, "/api/v1/documents", gin.H{"url": s.files.URL + "/a.txt", "key": "a"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc model.Document
	decode(t, rec, &doc)

	tests := []struct {
		name     string
		userID   uint
		method   string
		path     string
		body     interface{}
		wantHTTP int
		wantCode int
	}{
		{name: "no token", userID: 0, method: http.MethodGet, path: "/api/v1/documents", wantHTTP: 401, wantCode: 40100},
		{name: "other user's document", userID: 2, method: http.MethodGet, path: fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), wantHTTP: 404, wantCode: 40401},
		{name: "ask other user's document", userID: 2, method: http.MethodPost, path: fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), body: gin.H{"message": "hi"}, wantHTTP: 404, wantCode: 40401},
		{name: "unknown document", userID: 1, method: http.MethodGet, path: "/api/v1/documents/999/status", wantHTTP: 404, wantCode: 40401},
		{name: "bad id", userID: 1, method: http.MethodGet, path: "/api/v1/documents/abc", wantHTTP: 400, wantCode: 40000},
		{name: "limit above max", userID: 1, method: http.MethodGet, path: fmt.Sprintf("/api/v1/documents/%d/messages?limit=101", doc.ID), wantHTTP: 400, wantCode: 40000},
		{name: "negative limit", userID: 1, method: http.MethodGet, path: fmt.Sprintf("/api/v1/documents/%d/messages?limit=-1", doc.ID), wantHTTP: 400, wantCode: 40000},
		{name: "malformed cursor", userID: 1, method: http.MethodGet, path: fmt.Sprintf("/api/v1/documents/%d/messages?cursor=zz", doc.ID), wantHTTP: 400, wantCode: 40000},
		{name: "empty question", userID: 1, method: http.MethodPost, path: fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), body: gin.H{"message": ""}, wantHTTP: 400, wantCode: 40000},
		{name: "duplicate key", userID: 1, method: http.MethodPost, path: "/api/v1/documents", body: gin.H{"url": s.files.URL + "/b.txt", "key": "a"}, wantHTTP: 409, wantCode: 40901},
		{name: "bad scheme", userID: 1, method: http.MethodPost, path: "/api/v1/documents", body: gin.H{"url": "ftp://x/y.pdf"}, wantHTTP: 400, wantCode: 40000},
		{name: "unknown route", userID: 1, method: http.MethodGet, path: "/api/v1/nothing", wantHTTP: 404, wantCode: 40400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.userID, tt.method, tt.path, tt.body)
			require.Equal(t, tt.wantHTTP, rec.Code, rec.Body.String())
			env := decode(t, rec, nil)
			assert.Equal(t, tt.wantCode, env.Code)
		})
	}
}

func TestEndToEnd_DeleteRemovesConversation(t *testing.T) {
	s := newServer(t)

	rec := s.do(t, 1, http.MethodPost, "/api/v1/documents", gin.H{"url": s.files.URL + "/a.txt"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var doc model.Document
	decode(t, rec, &doc)
	assert.NotEmpty(t, doc.Key)

	rec = s.do(t, 1, http.MethodPost, fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), gin.H{"message": "refunds?"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, 1, http.MethodDelete, fmt.Sprintf("/api/v1/documents/%d", doc.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, 1, http.MethodGet, fmt.Sprintf("/api/v1/documents/%d/messages", doc.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, 1, http.MethodGet, "/api/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []model.Document
	decode(t, rec, &docs)
	assert.Empty(t, docs)
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, 0, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"app":"docchat"`)
}
