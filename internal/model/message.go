package model

import (
	"strconv"
	"time"
)

type Message struct {
	ID            uint      `gorm:"primaryKey;index:idx_messages_document_order,priority:3" json:"id"`
	DocumentID    uint      `gorm:"not null;index:idx_messages_document_order,priority:1" json:"document_id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	IsUserMessage bool      `gorm:"not null" json:"is_user_message"`
	Text          string    `gorm:"type:text;not null" json:"text"`
	CreatedAt     time.Time `gorm:"not null;index:idx_messages_document_order,priority:2" json:"created_at"`
}

// Cursor is the opaque pagination token pointing at this message.
func (m Message) Cursor() string {
	return strconv.FormatUint(uint64(m.ID), 10)
}

// ParseCursor turns a cursor token back into a message id.
func ParseCursor(cursor string) (uint, bool) {
	id, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
