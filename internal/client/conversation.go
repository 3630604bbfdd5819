package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docchat/internal/stream"
)

// Backend is the part of the API a conversation needs.
type Backend interface {
	ListMessages(ctx context.Context, documentID uint, cursor string, limit int) (*MessagePage, error)
	Ask(ctx context.Context, documentID uint, text string) (io.ReadCloser, error)
}

// Conversation keeps a local, optimistically updated view of one
// document's messages. It is safe for concurrent use.
type Conversation struct {
	backend    Backend
	documentID uint
	pageSize   int
	now        func() time.Time

	mu            sync.Mutex
	cache         Cache
	draft         string
	sending       bool
	refreshGen    uint64
	refreshCancel context.CancelFunc
	onChange      func([]Entry)
}

func NewConversation(backend Backend, documentID uint, pageSize int) *Conversation {
	return &Conversation{
		backend:    backend,
		documentID: documentID,
		pageSize:   pageSize,
		now:        time.Now,
	}
}

// OnChange registers fn to receive the flattened entries after every
// local mutation. fn runs on the mutating goroutine.
func (c *Conversation) OnChange(fn func([]Entry)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Conversation) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *Conversation) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Conversation) Messages() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Entries()
}

// Snapshot returns a deep copy of the cached pages.
func (c *Conversation) Snapshot() Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Clone()
}

func (c *Conversation) notify() {
	c.mu.Lock()
	fn := c.onChange
	entries := c.cache.Entries()
	c.mu.Unlock()
	if fn != nil {
		fn(entries)
	}
}

// Send posts the draft. The question shows up at once as a pending entry and
// the answer as a streaming entry that grows with every increment. On
// success the loaded pages are refetched from the server. If the question
// was not answered the cache and draft are put back exactly as they were.
// If only that refetch fails the answer stands: the local entries are kept
// and the error wraps ErrRefresh.
func (c *Conversation) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	text := c.draft
	if strings.TrimSpace(text) == "" {
		c.mu.Unlock()
		return ErrEmptyDraft
	}
	snapshot := c.cache.Clone()
	c.draft = ""
	c.cache.prepend(Entry{
		ID:            "local:" + uuid.NewString(),
		Kind:          EntryPending,
		IsUserMessage: true,
		Text:          text,
		CreatedAt:     c.now(),
	})
	c.sending = true
	c.refreshGen++
	if c.refreshCancel != nil {
		c.refreshCancel()
		c.refreshCancel = nil
	}
	c.mu.Unlock()
	c.notify()

	rollback := func(err error) error {
		c.mu.Lock()
		c.cache = snapshot
		c.draft = text
		c.sending = false
		c.mu.Unlock()
		c.notify()
		return err
	}

	body, err := c.backend.Ask(ctx, c.documentID, text)
	if err != nil {
		return rollback(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	defer body.Close()

	_, err = stream.Accumulate(body, func(full string) {
		c.mu.Lock()
		c.cache.upsertDraft(full, c.now())
		c.mu.Unlock()
		c.notify()
	})
	if err != nil {
		var streamErr *stream.StreamError
		switch {
		case errors.As(err, &streamErr):
			return rollback(fmt.Errorf("%w: %s", ErrCompletionAborted, streamErr.Message))
		case errors.Is(err, stream.ErrTruncated):
			return rollback(fmt.Errorf("%w: %w", ErrCompletionAborted, err))
		default:
			return rollback(fmt.Errorf("%w: %w", ErrTransport, err))
		}
	}

	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()

	if err := c.reload(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRefresh, err)
	}
	return nil
}

// Refresh refetches as many pages as are loaded, newest first, so entries
// brought in by LoadMore survive. When every page was loaded it keeps going
// until the server has nothing older. A refresh is a no-op while a send is
// in flight, and a send cancels any refresh already running.
func (c *Conversation) Refresh(ctx context.Context) error {
	if err := c.reload(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

func (c *Conversation) reload(ctx context.Context) error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return nil
	}
	if c.refreshCancel != nil {
		c.refreshCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	c.refreshGen++
	gen := c.refreshGen
	c.refreshCancel = cancel
	want := len(c.cache.Pages)
	complete := want > 0 && c.cache.Pages[want-1].NextCursor == ""
	c.mu.Unlock()
	defer cancel()

	if want == 0 {
		want = 1
	}
	var (
		pages  []Page
		cursor string
		err    error
	)
	for {
		var page *MessagePage
		page, err = c.backend.ListMessages(ctx, c.documentID, cursor, c.pageSize)
		if err != nil {
			break
		}
		pages = append(pages, pageFromServer(page))
		cursor = page.NextCursor
		if cursor == "" || (len(pages) >= want && !complete) {
			break
		}
	}

	c.mu.Lock()
	if gen != c.refreshGen {
		// superseded by a send or a newer refresh
		c.mu.Unlock()
		return nil
	}
	c.refreshCancel = nil
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.cache = Cache{Pages: pages}
	c.mu.Unlock()
	c.notify()
	return nil
}

// LoadMore appends the next older page. It reports false when there is
// nothing more to load.
func (c *Conversation) LoadMore(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return false, ErrSendInFlight
	}
	if len(c.cache.Pages) == 0 {
		c.mu.Unlock()
		return true, c.Refresh(ctx)
	}
	cursor := c.cache.Pages[len(c.cache.Pages)-1].NextCursor
	pageCount := len(c.cache.Pages)
	gen := c.refreshGen
	c.mu.Unlock()
	if cursor == "" {
		return false, nil
	}

	page, err := c.backend.ListMessages(ctx, c.documentID, cursor, c.pageSize)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	c.mu.Lock()
	if gen != c.refreshGen || len(c.cache.Pages) != pageCount {
		c.mu.Unlock()
		return false, nil
	}
	c.cache.Pages = append(c.cache.Pages, pageFromServer(page))
	c.mu.Unlock()
	c.notify()
	return true, nil
}
