package client

import (
	"time"

	"docchat/internal/model"
)

type EntryKind int

const (
	// EntryPersisted mirrors a stored message.
	EntryPersisted EntryKind = iota
	// EntryPending is the optimistic copy of a question not yet confirmed.
	EntryPending
	// EntryStreamingDraft holds the answer text received so far.
	EntryStreamingDraft
)

func (k EntryKind) String() string {
	switch k {
	case EntryPersisted:
		return "persisted"
	case EntryPending:
		return "pending"
	case EntryStreamingDraft:
		return "streaming"
	default:
		return "unknown"
	}
}

// DraftEntryID is reserved for the streaming answer. Server ids are decimal
// integers and pending ids carry the "local:" prefix, so it never collides.
const DraftEntryID = "draft:assistant"

type Entry struct {
	ID            string
	Kind          EntryKind
	IsUserMessage bool
	Text          string
	CreatedAt     time.Time
}

type Page struct {
	Entries    []Entry
	NextCursor string
}

// Cache mirrors the paginated listing, newest first.
type Cache struct {
	Pages []Page
}

// Clone returns a deep copy.
func (c Cache) Clone() Cache {
	if c.Pages == nil {
		return Cache{}
	}
	pages := make([]Page, len(c.Pages))
	for i, p := range c.Pages {
		pages[i] = Page{NextCursor: p.NextCursor}
		if p.Entries != nil {
			pages[i].Entries = append([]Entry(nil), p.Entries...)
		}
	}
	return Cache{Pages: pages}
}

// Entries flattens the pages in display order.
func (c Cache) Entries() []Entry {
	var out []Entry
	for _, p := range c.Pages {
		out = append(out, p.Entries...)
	}
	return out
}

func (c *Cache) prepend(e Entry) {
	if len(c.Pages) == 0 {
		c.Pages = []Page{{}}
	}
	first := &c.Pages[0]
	first.Entries = append([]Entry{e}, first.Entries...)
}

// upsertDraft replaces the streaming entry's text wholesale, inserting it
// at the head of the first page when absent.
func (c *Cache) upsertDraft(text string, now time.Time) {
	if len(c.Pages) > 0 {
		for i, e := range c.Pages[0].Entries {
			if e.ID == DraftEntryID {
				c.Pages[0].Entries[i].Text = text
				return
			}
		}
	}
	c.prepend(Entry{ID: DraftEntryID, Kind: EntryStreamingDraft, Text: text, CreatedAt: now})
}

func pageFromServer(p *MessagePage) Page {
	page := Page{NextCursor: p.NextCursor, Entries: make([]Entry, 0, len(p.Messages))}
	for _, m := range p.Messages {
		page.Entries = append(page.Entries, entryFromMessage(m))
	}
	return page
}

func entryFromMessage(m model.Message) Entry {
	return Entry{
		ID:            m.Cursor(),
		Kind:          EntryPersisted,
		IsUserMessage: m.IsUserMessage,
		Text:          m.Text,
		CreatedAt:     m.CreatedAt,
	}
}
