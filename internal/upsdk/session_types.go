package upsdk

// CreateSessionParams opens an upload session for one file.
type CreateSessionParams struct {
	// Key is the logical destination URI (target directory joined with the
	// file's relative path).
	Key string `json:"key"`

	// Size is the total file size in bytes.
	Size int64 `json:"size"`

	// Policy identifies the storage backend for this destination.
	Policy StoragePolicy `json:"policy"`

	// Overwrite requests replacing an existing entry at Key.
	Overwrite bool `json:"overwrite"`
}

// Session is the remote store's handle for an in-progress chunked upload.
type Session struct {
	// SessionID is the opaque identifier assigned by the store.
	SessionID string `json:"sessionId"`

	// ChunkSize is the server-dictated chunk size in bytes.
	ChunkSize int64 `json:"chunkSize"`

	// UploadURL is the pre-authorized endpoint for direct-policy uploads.
	// Empty for relay-policy sessions.
	UploadURL string `json:"uploadUrl,omitempty"`
}

// DeleteSessionParams releases server-side resources for an abandoned upload.
type DeleteSessionParams struct {
	SessionID string `json:"sessionId"`
	Key       string `json:"key"`
}
