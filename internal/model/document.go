package model

import "time"

type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "PENDING"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusSuccess    UploadStatus = "SUCCESS"
	UploadStatusFailed     UploadStatus = "FAILED"
)

// IsTerminal reports whether the status can never change again.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadStatusSuccess || s == UploadStatusFailed
}

// CanTransitionTo enforces PENDING -> PROCESSING -> {SUCCESS|FAILED}.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	switch s {
	case UploadStatusPending:
		return next == UploadStatusProcessing
	case UploadStatusProcessing:
		return next == UploadStatusSuccess || next == UploadStatusFailed
	default:
		return false
	}
}

type Document struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	UserID       uint         `gorm:"not null;index;uniqueIndex:idx_documents_user_key" json:"user_id"`
	Key          string       `gorm:"size:191;not null;uniqueIndex:idx_documents_user_key" json:"key"`
	Name         string       `gorm:"size:256;not null" json:"name"`
	URL          string       `gorm:"size:1024;not null" json:"url"`
	UploadStatus UploadStatus `gorm:"size:16;not null;index" json:"upload_status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Queryable reports whether the document's vector namespace may be read.
func (d *Document) Queryable() bool {
	return d != nil && d.UploadStatus == UploadStatusSuccess
}
