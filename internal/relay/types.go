package relay

import "github.com/gin-gonic/gin"

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeInternalError  = "E_INTERNAL_ERROR"

	// Upload errors
	CodeEntryExists     = "E_ENTRY_EXISTS"
	CodeSessionNotFound = "E_SESSION_NOT_FOUND"
	CodeSessionFailed   = "E_SESSION_OP_FAILED"
	CodeChunkFailed     = "E_CHUNK_WRITE_FAILED"
)

// SessionRequest is the body of a session negotiation call.
type SessionRequest struct {
	Key       string `json:"key" binding:"required"`
	Size      int64  `json:"size" binding:"min=0"`
	Policy    string `json:"policy"`
	Overwrite bool   `json:"overwrite"`
}

// SessionResponse is the store's handle for a negotiated upload.
type SessionResponse struct {
	SessionID string `json:"sessionId"`
	ChunkSize int64  `json:"chunkSize"`
	UploadURL string `json:"uploadUrl,omitempty"`
}

// ErrorResponse is the structured error body for every upload endpoint.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func abortWithError(ctx *gin.Context, status int, code, message string) {
	ctx.AbortWithStatusJSON(status, &ErrorResponse{Code: code, Message: message})
}
