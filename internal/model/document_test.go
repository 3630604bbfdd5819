package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadStatus_CanTransitionTo(t *testing.T) {
	all := []UploadStatus{UploadStatusPending, UploadStatusProcessing, UploadStatusSuccess, UploadStatusFailed}
	allowed := map[UploadStatus][]UploadStatus{
		UploadStatusPending:    {UploadStatusProcessing},
		UploadStatusProcessing: {UploadStatusSuccess, UploadStatusFailed},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestUploadStatus_IsTerminal(t *testing.T) {
	assert.False(t, UploadStatusPending.IsTerminal())
	assert.False(t, UploadStatusProcessing.IsTerminal())
	assert.True(t, UploadStatusSuccess.IsTerminal())
	assert.True(t, UploadStatusFailed.IsTerminal())
	assert.False(t, UploadStatus("DONE").IsTerminal())
}

func TestDocument_Queryable(t *testing.T) {
	var nilDoc *Document
	assert.False(t, nilDoc.Queryable())
	assert.False(t, (&Document{UploadStatus: UploadStatusProcessing}).Queryable())
	assert.True(t, (&Document{UploadStatus: UploadStatusSuccess}).Queryable())
}

func TestParseCursor(t *testing.T) {
	id, ok := ParseCursor(Message{ID: 42}.Cursor())
	assert.True(t, ok)
	assert.Equal(t, uint(42), id)

	for _, bad := range []string{"", "0", "abc", "-3"} {
		_, ok := ParseCursor(bad)
		assert.False(t, ok, bad)
	}
}
