package upsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(&Config{BaseURL: server.URL})
	require.NoError(t, err)
	return client, server
}

func TestCreateSession(t *testing.T) {
	var gotParams CreateSessionParams
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/upload/session", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotParams))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&Session{
			SessionID: "sess-1",
			ChunkSize: 3_000_000,
		})
	}))

	session, err := client.CreateSession(context.Background(), &CreateSessionParams{
		Key:       "/docs/report.pdf",
		Size:      10_000_000,
		Policy:    PolicyRelay,
		Overwrite: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", session.SessionID)
	assert.Equal(t, int64(3_000_000), session.ChunkSize)
	assert.Equal(t, "/docs/report.pdf", gotParams.Key)
	assert.True(t, gotParams.Overwrite)
}

func TestCreateSessionConflict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(&APIError{
			Code:    CodeEntryExists,
			Message: "entry already exists",
		})
	}))

	_, err := client.CreateSession(context.Background(), &CreateSessionParams{
		Key:  "/docs/report.pdf",
		Size: 1,
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))
}

func TestCreateSessionGenericErrorIsNotConflict(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(&APIError{
			Code:    CodeInternalError,
			Message: "backend unavailable",
		})
	}))

	_, err := client.CreateSession(context.Background(), &CreateSessionParams{Key: "/a", Size: 1})
	require.Error(t, err)
	assert.False(t, IsConflict(err))
	assert.Contains(t, err.Error(), "backend unavailable")
}

func TestCreateSessionRejectsInvalidResponse(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"sessionId":"","chunkSize":0}`)
	}))

	_, err := client.CreateSession(context.Background(), &CreateSessionParams{Key: "/a", Size: 1})
	require.Error(t, err)
}

func TestDeleteSession(t *testing.T) {
	var gotKey string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/v1/upload/session/sess-9", r.URL.Path)
		gotKey = r.URL.Query().Get("key")
		w.WriteHeader(http.StatusOK)
	}))

	err := client.DeleteSession(context.Background(), &DeleteSessionParams{
		SessionID: "sess-9",
		Key:       "/docs/report.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "/docs/report.pdf", gotKey)
}

func TestRelayTransportSendChunk(t *testing.T) {
	var gotBody []byte
	var gotPath string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	transport := client.Transport(PolicyRelay)
	session := &Session{SessionID: "sess-2", ChunkSize: 4}

	chunk := &ChunkRange{Index: 3, Offset: 12, Length: 4, Total: 16}
	err := transport.SendChunk(context.Background(), session, chunk, strings.NewReader("tail"))
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/upload/session/sess-2/chunk/3", gotPath)
	assert.Equal(t, []byte("tail"), gotBody)
}

func TestRelayTransportRequiresSession(t *testing.T) {
	client, _ := newTestClient(t, http.NewServeMux())

	transport := client.Transport(PolicyRelay)
	err := transport.SendChunk(context.Background(), nil, &ChunkRange{}, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrNoSession)
}

func TestDirectTransportSendChunk(t *testing.T) {
	var gotRange string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		gotRange = r.Header.Get("Content-Range")
		gotBody, _ = io.ReadAll(r.Body)
		// provider reports the range accepted but the upload incomplete
		w.WriteHeader(http.StatusPermanentRedirect)
	}))
	defer server.Close()

	transport := &directTransport{}
	session := &Session{SessionID: "sess-3", ChunkSize: 5, UploadURL: server.URL}

	chunk := &ChunkRange{Index: 1, Offset: 5, Length: 5, Total: 12}
	err := transport.SendChunk(context.Background(), session, chunk, strings.NewReader("hello"))
	require.NoError(t, err)

	assert.Equal(t, "bytes 5-9/12", gotRange)
	assert.Equal(t, []byte("hello"), gotBody)
}

func TestDirectTransportFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	transport := &directTransport{}
	session := &Session{SessionID: "sess-4", ChunkSize: 5, UploadURL: server.URL}

	err := transport.SendChunk(context.Background(), session, &ChunkRange{Index: 0, Offset: 0, Length: 5, Total: 5}, strings.NewReader("bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestDirectTransportRequiresUploadURL(t *testing.T) {
	transport := &directTransport{}
	err := transport.SendChunk(context.Background(), &Session{SessionID: "s"}, &ChunkRange{}, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrNoUploadURL)
}
