package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/response"
)

type DocumentHandler struct {
	documents *app.DocumentService
}

type UploadDocumentRequest struct {
	URL  string `json:"url" binding:"required,max=1024"`
	Key  string `json:"key" binding:"max=191"`
	Name string `json:"name" binding:"max=256"`
}

type DocumentStatusResponse struct {
	ID           uint   `json:"id"`
	UploadStatus string `json:"upload_status"`
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload accepts a document locator and queues it for ingestion.
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	doc, err := h.documents.Accept(c.Request.Context(), app.AcceptDocumentInput{
		UserID: userID,
		URL:    req.URL,
		Key:    req.Key,
		Name:   req.Name,
	})
	if err != nil {
		writeError(c, err, "upload document failed")
		return
	}

	response.Accepted(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	docs, err := h.documents.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

func (h *DocumentHandler) GetByKey(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	doc, err := h.documents.GetByKey(c.Request.Context(), userID, c.Param("key"))
	if err != nil {
		writeError(c, err, "get document failed")
		return
	}
	response.OK(c, doc)
}

// Status is the polling endpoint used while a document is ingested.
func (h *DocumentHandler) Status(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	status, err := h.documents.Status(c.Request.Context(), userID, documentID)
	if err != nil {
		writeError(c, err, "get document status failed")
		return
	}
	response.OK(c, DocumentStatusResponse{ID: documentID, UploadStatus: string(status)})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	documentID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	if err := h.documents.Delete(c.Request.Context(), userID, documentID); err != nil {
		writeError(c, err, "delete document failed")
		return
	}
	response.OK(c, gin.H{"deleted_document_id": documentID})
}

func parseUint(raw string) (uint, bool) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}
