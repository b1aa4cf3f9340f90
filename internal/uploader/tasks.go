package uploader

import (
	"context"
	"fmt"
	"io"

	"github.com/boxkite/boxkite/internal/upsdk"
)

// sessionTask negotiates an upload session for one item through the shared
// pool.
type sessionTask struct {
	api     SessionAPI
	params  *upsdk.CreateSessionParams
	session *upsdk.Session
}

func (t *sessionTask) ID() string {
	return "session:" + t.params.Key
}

func (t *sessionTask) Run(ctx context.Context) error {
	session, err := t.api.CreateSession(ctx, t.params)
	if err != nil {
		return err
	}
	t.session = session
	return nil
}

// chunkTask transmits exactly one byte range of one file. Its identifier is
// derived from (sessionID, chunkIndex) so the pool's duplicate rule prevents
// two uploads of the same chunk from racing.
type chunkTask struct {
	transport upsdk.ChunkTransport
	session   *upsdk.Session
	source    Source
	chunk     upsdk.ChunkRange
}

func (t *chunkTask) ID() string {
	return fmt.Sprintf("chunk:%s:%d", t.session.SessionID, t.chunk.Index)
}

func (t *chunkTask) Run(ctx context.Context) error {
	body := io.NewSectionReader(t.source, t.chunk.Offset, t.chunk.Length)
	return t.transport.SendChunk(ctx, t.session, &t.chunk, body)
}
