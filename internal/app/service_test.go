package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"docchat/internal/model"
	"docchat/internal/repository"
	"docchat/internal/testutil"
)

type testEnv struct {
	db       *gorm.DB
	docs     *repository.DocumentRepository
	messages *repository.MessageRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.NewDB(t)
	return &testEnv{
		db:       db,
		docs:     repository.NewDocumentRepository(db),
		messages: repository.NewMessageRepository(db),
	}
}

func (e *testEnv) document(t *testing.T, userID uint, status model.UploadStatus) *model.Document {
	t.Helper()
	doc := &model.Document{
		UserID:       userID,
		Key:          "key-" + string(status) + "-" + t.Name(),
		Name:         "handbook.pdf",
		URL:          "https://files.example.com/handbook.pdf",
		UploadStatus: status,
	}
	require.NoError(t, e.docs.Create(context.Background(), doc))
	return doc
}

func (e *testEnv) countMessages(t *testing.T, documentID uint, user bool) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Message{}).
		Where("document_id = ? AND is_user_message = ?", documentID, user).
		Count(&n).Error)
	return n
}
