package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

// HeaderUserMessageID carries the id of the stored question on a streamed
// answer, before any frame is written.
const HeaderUserMessageID = "X-User-Message-Id"

type MessageHandler struct {
	conversation *app.ConversationService
	chat         *app.ChatService
	logger       *slog.Logger
}

type AskRequest struct {
	Message string `json:"message" binding:"required"`
}

func NewMessageHandler(conversation *app.ConversationService, chat *app.ChatService, logger *slog.Logger) *MessageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageHandler{conversation: conversation, chat: chat, logger: logger}
}

// List returns a page of messages newest first. ?cursor= continues from a
// previous page's next_cursor.
func (h *MessageHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	page, err := h.conversation.ListMessages(c.Request.Context(), app.ListMessagesInput{
		UserID:     userID,
		DocumentID: documentID,
		Cursor:     c.Query("cursor"),
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err, "list messages failed")
		return
	}
	response.OK(c, page)
}

// Ask stores the question and streams the answer as text frames. Errors
// found before the first byte are returned as JSON; later ones arrive as an
// error frame.
func (h *MessageHandler) Ask(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	pending, err := h.chat.Ask(c.Request.Context(), app.AskInput{
		UserID:     userID,
		DocumentID: documentID,
		Question:   req.Message,
	})
	if err != nil {
		writeError(c, err, "ask failed")
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Header(HeaderUserMessageID, strconv.FormatUint(uint64(pending.UserMessage.ID), 10))
	c.Status(http.StatusOK)

	if _, err := pending.Stream(c.Writer); err != nil {
		h.logger.Warn("answer stream ended with error", "document_id", documentID, "error", err)
	}
}
