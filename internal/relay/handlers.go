package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes(engine *gin.Engine) {
	v1 := engine.Group("/api/v1")
	{
		v1.PUT("/upload/session", s.handleCreateSession)
		v1.POST("/upload/session/:id/chunk/:index", s.handleUploadChunk)
		v1.DELETE("/upload/session/:id", s.handleDeleteSession)
		v1.PUT("/direct/:id", s.handleDirectUpload)
	}
	engine.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

func (s *Server) handleCreateSession(ctx *gin.Context) {
	var req SessionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	sess, err := s.store.CreateSession(&req, s.chunkSize)
	switch {
	case errors.Is(err, ErrEntryExists):
		abortWithError(ctx, http.StatusConflict, CodeEntryExists, fmt.Sprintf("entry already exists: %s", req.Key))
		return
	case err != nil:
		abortWithError(ctx, http.StatusInternalServerError, CodeSessionFailed, err.Error())
		return
	}

	// an empty file has no chunks to wait for
	if sess.complete() {
		if err := s.store.Commit(sess.ID); err != nil {
			abortWithError(ctx, http.StatusInternalServerError, CodeSessionFailed, err.Error())
			return
		}
	}

	resp := &SessionResponse{
		SessionID: sess.ID,
		ChunkSize: sess.ChunkSize,
	}
	if strings.EqualFold(req.Policy, "direct") {
		resp.UploadURL = fmt.Sprintf("%s/api/v1/direct/%s", s.externalURL, sess.ID)
	}

	slog.Info("session created", "sessionId", sess.ID, "key", sess.Key, "size", sess.Size, "policy", req.Policy)
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) handleUploadChunk(ctx *gin.Context) {
	id := ctx.Param("id")
	index, err := strconv.Atoi(ctx.Param("index"))
	if err != nil || index < 0 {
		abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, "invalid chunk index")
		return
	}

	err = s.store.WriteChunk(id, index, ctx.Request.Body)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		abortWithError(ctx, http.StatusNotFound, CodeSessionNotFound, "session not found")
		return
	case errors.Is(err, ErrBadChunk):
		abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	case err != nil:
		abortWithError(ctx, http.StatusInternalServerError, CodeChunkFailed, err.Error())
		return
	}

	sess, _ := s.store.Session(id)
	if sess != nil && sess.complete() {
		if err := s.store.Commit(id); err != nil {
			abortWithError(ctx, http.StatusInternalServerError, CodeChunkFailed, err.Error())
			return
		}
		slog.Info("upload committed", "sessionId", id, "key", sess.Key)
	}

	ctx.JSON(http.StatusOK, gin.H{"sessionId": id, "chunk": index})
}

func (s *Server) handleDeleteSession(ctx *gin.Context) {
	id := ctx.Param("id")
	if err := s.store.Delete(id); err != nil {
		abortWithError(ctx, http.StatusNotFound, CodeSessionNotFound, "session not found")
		return
	}

	slog.Info("session deleted", "sessionId", id)
	ctx.JSON(http.StatusOK, gin.H{"sessionId": id})
}

// handleDirectUpload accepts raw byte ranges on the pre-authorized endpoint.
// It answers 308 while ranges are outstanding and 201 once the entry is
// committed, mirroring the resumable-upload convention the client speaks.
func (s *Server) handleDirectUpload(ctx *gin.Context) {
	id := ctx.Param("id")
	sess, ok := s.store.Session(id)
	if !ok {
		abortWithError(ctx, http.StatusNotFound, CodeSessionNotFound, "session not found")
		return
	}

	offset, _, total, err := parseContentRange(ctx.GetHeader("Content-Range"))
	if err != nil {
		abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if total != sess.Size || offset%sess.ChunkSize != 0 {
		abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, "range not aligned to session chunks")
		return
	}

	index := int(offset / sess.ChunkSize)
	if err := s.store.WriteChunk(id, index, ctx.Request.Body); err != nil {
		if errors.Is(err, ErrBadChunk) {
			abortWithError(ctx, http.StatusBadRequest, CodeInvalidRequest, err.Error())
			return
		}
		abortWithError(ctx, http.StatusInternalServerError, CodeChunkFailed, err.Error())
		return
	}

	if !sess.complete() {
		ctx.Status(http.StatusPermanentRedirect)
		return
	}

	if err := s.store.Commit(id); err != nil {
		abortWithError(ctx, http.StatusInternalServerError, CodeChunkFailed, err.Error())
		return
	}
	slog.Info("upload committed", "sessionId", id, "key", sess.Key)
	ctx.Status(http.StatusCreated)
}

// parseContentRange parses "bytes <first>-<last>/<total>".
func parseContentRange(header string) (first, last, total int64, err error) {
	if header == "" {
		return 0, 0, 0, fmt.Errorf("missing Content-Range header")
	}
	if _, err := fmt.Sscanf(header, "bytes %d-%d/%d", &first, &last, &total); err != nil {
		return 0, 0, 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	if first < 0 || last < first || total <= last {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range %q", header)
	}
	return first, last, total, nil
}
