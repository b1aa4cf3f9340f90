package relay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/boxkite/boxkite/internal/utils"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

var (
	ErrEntryExists     = errors.New("relay: entry already exists")
	ErrSessionNotFound = errors.New("relay: session not found")
	ErrBadChunk        = errors.New("relay: chunk out of range")
)

// session tracks one in-progress chunked upload and its spool directory.
type session struct {
	ID        string
	Key       string
	Size      int64
	ChunkSize int64
	Policy    string
	Overwrite bool

	mu       sync.Mutex
	received mapset.Set[int]
	dir      string
}

func (s *session) totalChunks() int {
	if s.Size == 0 {
		return 0
	}
	chunks := s.Size / s.ChunkSize
	if s.Size%s.ChunkSize != 0 {
		chunks++
	}
	return int(chunks)
}

// chunkLength returns the expected byte length of one chunk index.
func (s *session) chunkLength(index int) int64 {
	offset := int64(index) * s.ChunkSize
	length := s.ChunkSize
	if remaining := s.Size - offset; remaining < length {
		length = remaining
	}
	return length
}

func (s *session) complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.Cardinality() >= s.totalChunks()
}

// Store spools chunks on the local filesystem and assembles finished uploads
// under a data directory keyed by the destination URI.
type Store struct {
	dataDir  string
	spoolDir string

	mu       sync.Mutex
	sessions map[string]*session
	// keys with an open session; a second session for the same key would
	// write over the first one's spool
	active mapset.Set[string]
}

func NewStore(dataDir string) (*Store, error) {
	spoolDir := filepath.Join(dataDir, ".spool")
	if err := utils.EnsureDir(spoolDir); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}

	return &Store{
		dataDir:  dataDir,
		spoolDir: spoolDir,
		sessions: make(map[string]*session),
		active:   mapset.NewSet[string](),
	}, nil
}

// CreateSession negotiates a new upload session. It fails with ErrEntryExists
// when the destination is already present and overwrite was not requested.
func (st *Store) CreateSession(req *SessionRequest, chunkSize int64) (*session, error) {
	key := normalizeKey(req.Key)
	if key == "" {
		return nil, fmt.Errorf("relay: empty key")
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !req.Overwrite && utils.FileExists(st.entryPath(key)) {
		return nil, ErrEntryExists
	}
	if st.active.Contains(key) {
		return nil, ErrEntryExists
	}

	sess := &session{
		ID:        uuid.NewString(),
		Key:       key,
		Size:      req.Size,
		ChunkSize: chunkSize,
		Policy:    req.Policy,
		Overwrite: req.Overwrite,
		received:  mapset.NewSet[int](),
	}
	sess.dir = filepath.Join(st.spoolDir, sess.ID)
	if err := utils.EnsureDir(sess.dir); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	st.sessions[sess.ID] = sess
	st.active.Add(key)
	return sess, nil
}

func (st *Store) Session(id string) (*session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	return sess, ok
}

// WriteChunk spools one chunk's bytes. Rewriting an already-received index is
// allowed and idempotent.
func (st *Store) WriteChunk(id string, index int, body io.Reader) error {
	sess, ok := st.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	if index < 0 || index >= sess.totalChunks() {
		return ErrBadChunk
	}

	chunkPath := filepath.Join(sess.dir, fmt.Sprintf("chunk_%d", index))
	file, err := os.Create(chunkPath)
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}

	written, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if written != sess.chunkLength(index) {
		return fmt.Errorf("%w: chunk %d got %d bytes, want %d", ErrBadChunk, index, written, sess.chunkLength(index))
	}

	sess.mu.Lock()
	sess.received.Add(index)
	sess.mu.Unlock()
	return nil
}

// Commit assembles the spooled chunks into the final entry and retires the
// session. The session must be complete.
func (st *Store) Commit(id string) error {
	sess, ok := st.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	if !sess.complete() {
		return fmt.Errorf("relay: session %s incomplete", id)
	}

	entryPath := st.entryPath(sess.Key)
	if err := utils.EnsureDir(filepath.Dir(entryPath)); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(entryPath), ".boxkite-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}

	err = st.assemble(sess, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.Rename(tmp.Name(), entryPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalize entry: %w", err)
	}

	st.drop(sess)
	return nil
}

func (st *Store) assemble(sess *session, w io.Writer) error {
	for index := 0; index < sess.totalChunks(); index++ {
		chunkPath := filepath.Join(sess.dir, fmt.Sprintf("chunk_%d", index))
		file, err := os.Open(chunkPath)
		if err != nil {
			return fmt.Errorf("open chunk %d: %w", index, err)
		}

		_, err = io.Copy(w, file)
		file.Close()
		if err != nil {
			return fmt.Errorf("assemble chunk %d: %w", index, err)
		}
	}
	return nil
}

// Delete abandons a session and removes its spool.
func (st *Store) Delete(id string) error {
	sess, ok := st.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	st.drop(sess)
	return nil
}

func (st *Store) drop(sess *session) {
	st.mu.Lock()
	delete(st.sessions, sess.ID)
	st.active.Remove(sess.Key)
	st.mu.Unlock()

	// leftover spool files get swept on the next server start
	_ = os.RemoveAll(sess.dir)
}

// EntryExists reports whether a committed entry is present at key.
func (st *Store) EntryExists(key string) bool {
	return utils.FileExists(st.entryPath(normalizeKey(key)))
}

// entryPath maps a destination key onto the data directory. Keys are rooted
// and slash-separated; path traversal segments are stripped.
func (st *Store) entryPath(key string) string {
	return filepath.Join(st.dataDir, filepath.FromSlash(key))
}

func normalizeKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	parts := strings.Split(key, "/")
	clean := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, "/")
}
