package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/app"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

// writeError maps service errors onto the JSON envelope. fallback is the
// message used for anything unexpected.
func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
	case errors.Is(err, app.ErrConflict):
		response.Error(c, http.StatusConflict, response.CodeDocumentConflict, err.Error())
	case errors.Is(err, app.ErrRetrieval):
		response.Error(c, http.StatusBadGateway, response.CodeRetrievalFailed, "retrieval failed")
	case errors.Is(err, app.ErrCompletion):
		response.Error(c, http.StatusBadGateway, response.CodeCompletionFailed, "completion failed")
	case errors.Is(err, app.ErrDispatch):
		response.Error(c, http.StatusServiceUnavailable, response.CodeDispatchFailed, "document could not be queued")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok && userID != 0
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, ok := parseUint(raw)
	if !ok {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid "+name)
	}
	return id, ok
}
