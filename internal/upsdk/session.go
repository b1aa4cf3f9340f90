package upsdk

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	v1UploadSession       = "/api/v1/upload/session"
	v1UploadSessionDelete = "/api/v1/upload/session/%s"
)

// CreateSession negotiates an upload session for one file. A conflicting
// destination is reported as an APIError with CodeEntryExists; use IsConflict
// to distinguish it from other failures.
func (c *Client) CreateSession(ctx context.Context, params *CreateSessionParams) (*Session, error) {
	var session *Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderRequestId, uuid.NewString()).
		SetRetryCount(0).
		SetBody(params).
		SetSuccessResult(&session).
		Put(v1UploadSession)

	if err := handleAPIError(resp, err, "upload session create"); err != nil {
		return nil, err
	}

	if session == nil || session.SessionID == "" || session.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid upload session response")
	}

	return session, nil
}

// DeleteSession aborts an upload session, releasing server-side resources.
// Best-effort collaborator; callers log failures and move on.
func (c *Client) DeleteSession(ctx context.Context, params *DeleteSessionParams) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader(HeaderRequestId, uuid.NewString()).
		SetQueryParam("key", params.Key).
		Delete(fmt.Sprintf(v1UploadSessionDelete, params.SessionID))

	return handleAPIError(resp, err, "upload session delete")
}
