// Package qdrant implements vectorstore.Store over Qdrant's REST API. All
// documents share one collection and are isolated by a namespace payload
// filter.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docchat/internal/vectorstore"
)

const namespaceField = "namespace"

type Config struct {
	BaseURL    string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type Store struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

func New(cfg Config) *Store {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:6333"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Store{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// EnsureCollection creates the collection with cosine distance and a
// keyword index on the namespace field when it does not exist yet.
func (s *Store) EnsureCollection(ctx context.Context, dimensions int) error {
	resp, err := s.doRequestRaw(ctx, http.MethodGet, s.collectionPath(""), nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("qdrant collection check status %d", resp.StatusCode)
	}

	if _, err := s.doRequest(ctx, http.MethodPut, s.collectionPath(""), map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}); err != nil {
		return fmt.Errorf("create qdrant collection failed: %w", err)
	}
	if _, err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), map[string]any{
		"field_name":   namespaceField,
		"field_schema": "keyword",
	}); err != nil {
		return fmt.Errorf("create qdrant namespace index failed: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	if namespace == "" {
		return vectorstore.ErrEmptyNamespace
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, len(records))
	for i, rec := range records {
		points[i] = map[string]any{
			"id":     rec.ID,
			"vector": rec.Vector,
			"payload": map[string]any{
				namespaceField: namespace,
				"text":         rec.Text,
				"metadata":     rec.Metadata,
			},
		}
	}

	if _, err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, namespace string, vector []float32, k int) ([]vectorstore.Match, error) {
	if namespace == "" {
		return nil, vectorstore.ErrEmptyNamespace
	}

	body := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
		"filter":       namespaceFilter(namespace),
	}
	raw, err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), body)
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	var parsed struct {
		Result []struct {
			ID      any     `json:"id"`
			Score   float32 `json:"score"`
			Payload struct {
				Namespace string                 `json:"namespace"`
				Text      string                 `json:"text"`
				Metadata  map[string]interface{} `json:"metadata"`
			} `json:"payload"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode qdrant search response: %w", err)
	}

	matches := make([]vectorstore.Match, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		// the server-side filter already scopes results; this guards
		// against a misconfigured proxy or index
		if r.Payload.Namespace != namespace {
			continue
		}
		matches = append(matches, vectorstore.Match{
			ID:       formatID(r.ID),
			Text:     r.Payload.Text,
			Metadata: r.Payload.Metadata,
			Score:    r.Score,
		})
	}
	return vectorstore.TopK(matches, k), nil
}

func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if namespace == "" {
		return vectorstore.ErrEmptyNamespace
	}
	if _, err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{
		"filter": namespaceFilter(namespace),
	}); err != nil {
		return fmt.Errorf("qdrant delete namespace failed: %w", err)
	}
	return nil
}

func namespaceFilter(namespace string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": namespaceField, "match": map[string]any{"value": namespace}},
		},
	}
}

func formatID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d", int64(v))
	default:
		return fmt.Sprint(v)
	}
}

func (s *Store) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

func (s *Store) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	resp, err := s.doRequestRaw(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant error (status %d): %s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

func (s *Store) doRequestRaw(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant request: %w", err)
	}
	return resp, nil
}
