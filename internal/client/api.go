package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docchat/internal/model"
)

var (
	ErrTransport         = errors.New("transport failed")
	ErrCompletionAborted = errors.New("completion aborted")
	ErrSendInFlight      = errors.New("a send is already in flight")
	ErrEmptyDraft        = errors.New("draft is empty")
	// ErrRefresh means the question was answered but the history could
	// not be reloaded afterwards.
	ErrRefresh = errors.New("answered but history refresh failed")
)

// APIError is a non-2xx reply carrying the server's envelope.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

type MessagePage struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type UploadRequest struct {
	URL  string `json:"url"`
	Key  string `json:"key,omitempty"`
	Name string `json:"name,omitempty"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// API talks to the docchat HTTP API on behalf of one user.
type API struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewAPI(baseURL, token string, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/v1",
		token:      token,
		httpClient: httpClient,
	}
}

func (a *API) UploadDocument(ctx context.Context, req UploadRequest) (*model.Document, error) {
	var doc model.Document
	if err := a.do(ctx, http.MethodPost, "/documents", req, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (a *API) GetDocument(ctx context.Context, documentID uint) (*model.Document, error) {
	var doc model.Document
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/documents/%d", documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (a *API) ListDocuments(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	if err := a.do(ctx, http.MethodGet, "/documents", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (a *API) DeleteDocument(ctx context.Context, documentID uint) error {
	return a.do(ctx, http.MethodDelete, fmt.Sprintf("/documents/%d", documentID), nil, nil)
}

func (a *API) DocumentStatus(ctx context.Context, documentID uint) (model.UploadStatus, error) {
	var out struct {
		UploadStatus model.UploadStatus `json:"upload_status"`
	}
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/documents/%d/status", documentID), nil, &out); err != nil {
		return "", err
	}
	return out.UploadStatus, nil
}

// WaitReady polls the status endpoint until the document reaches a terminal
// status or ctx ends.
func (a *API) WaitReady(ctx context.Context, documentID uint, interval time.Duration, onStatus func(model.UploadStatus)) (model.UploadStatus, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := a.DocumentStatus(ctx, documentID)
		if err != nil {
			return "", err
		}
		if onStatus != nil {
			onStatus(status)
		}
		if status.IsTerminal() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *API) ListMessages(ctx context.Context, documentID uint, cursor string, limit int) (*MessagePage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/documents/%d/messages", documentID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page MessagePage
	if err := a.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Ask posts a question and returns the framed answer stream. The caller
// closes it.
func (a *API) Ask(ctx context.Context, documentID uint, text string) (io.ReadCloser, error) {
	req, err := a.newRequest(ctx, http.MethodPost, fmt.Sprintf("/documents/%d/messages", documentID), map[string]string{"message": text})
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

func (a *API) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return req, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := a.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data failed: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
