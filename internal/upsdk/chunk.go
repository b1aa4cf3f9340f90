package upsdk

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/imroc/req/v3"
)

const v1SessionChunk = "/api/v1/upload/session/%s/chunk/%d"

// ChunkRange addresses one contiguous byte range of a file.
type ChunkRange struct {
	Index  int   // zero-based chunk index
	Offset int64 // byte offset of the range start
	Length int64 // range length; the final chunk may be short
	Total  int64 // total file size in bytes
}

// ChunkTransport moves one chunk's bytes to storage. Implementations are
// selected per item by storage policy, never by branching inside the chunk
// loop.
type ChunkTransport interface {
	SendChunk(ctx context.Context, session *Session, chunk *ChunkRange, body io.Reader) error
}

// Transport returns the chunk transport for a storage policy.
func (c *Client) Transport(policy StoragePolicy) ChunkTransport {
	switch policy {
	case PolicyDirect:
		return &directTransport{}
	default:
		return &relayTransport{http: c.http}
	}
}

// relayTransport posts raw chunk bytes to the application's relay endpoint,
// which streams them to final storage.
type relayTransport struct {
	http *req.Client
}

// SendChunk uploads one chunk through the relay.
func (t *relayTransport) SendChunk(ctx context.Context, session *Session, chunk *ChunkRange, body io.Reader) error {
	if session == nil || session.SessionID == "" {
		return ErrNoSession
	}

	resp, err := t.http.R().
		SetContext(ctx).
		SetRetryCount(0).
		SetContentType("application/octet-stream").
		SetBody(body).
		Post(fmt.Sprintf(v1SessionChunk, session.SessionID, chunk.Index))

	return handleAPIError(resp, err, "chunk upload")
}

// directTransport puts chunk bytes straight on the pre-authorized endpoint
// using the provider's resumable byte-range convention. 308 means the range
// was accepted and the upload is still incomplete.
type directTransport struct {
	client *http.Client
}

func (t *directTransport) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	return http.DefaultClient
}

// SendChunk uploads one byte range directly to the provider.
func (t *directTransport) SendChunk(ctx context.Context, session *Session, chunk *ChunkRange, body io.Reader) error {
	if session == nil || session.SessionID == "" {
		return ErrNoSession
	}
	if session.UploadURL == "" {
		return ErrNoUploadURL
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.ContentLength = chunk.Length
	request.Header.Set("Content-Type", "application/octet-stream")
	request.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", chunk.Offset, chunk.Offset+chunk.Length-1, chunk.Total))

	resp, err := t.httpClient().Do(request)
	if err != nil {
		return fmt.Errorf("upload chunk %d: %w", chunk.Index, err)
	}
	_ = resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusPermanentRedirect:
		return nil
	default:
		return fmt.Errorf("upload chunk %d failed with status %d", chunk.Index, resp.StatusCode)
	}
}
