package upsdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoServerURL = errors.New("upsdk: server url missing")

	// sessions
	ErrNoSession   = errors.New("upsdk: session missing")
	ErrNoUploadURL = errors.New("upsdk: session has no upload url")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Upload errors
	CodeEntryExists     = "E_ENTRY_EXISTS"       // the destination already exists and overwrite was not requested.
	CodeSessionNotFound = "E_SESSION_NOT_FOUND"  // the upload session could not be found or has expired.
	CodeSessionFailed   = "E_SESSION_OP_FAILED"  // a failure while creating or deleting an upload session.
	CodeChunkFailed     = "E_CHUNK_WRITE_FAILED" // a failure while persisting a chunk.
)

// APIError is a structured error returned by the upload endpoints.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// IsConflict reports whether err is the destination-already-exists condition
// signalled at session negotiation. Conflicts are routed to the conflict
// state, never retried silently.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeEntryExists
}

// handleAPIError folds the transport error and the API error body into one
// wrapped error for the caller.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s %w", operation, err)
		}

		return fmt.Errorf("api error: %s %s", operation, resp.Dump())
	}

	return nil
}
