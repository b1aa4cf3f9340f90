package uploader

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Source is a sliceable byte source for one upload. Chunk transmitters read
// exact byte ranges from it with io.NewSectionReader, so reads at different
// offsets may happen concurrently.
type Source interface {
	io.ReaderAt
	Size() int64
}

// FileSource is a Source backed by a file on disk.
type FileSource struct {
	path string
	file *os.File
	size int64
}

func OpenFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileSource{
		path: path,
		file: file,
		size: info.Size(),
	}, nil
}

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.file.ReadAt(p, off)
}

func (s *FileSource) Size() int64 {
	return s.size
}

func (s *FileSource) Path() string {
	return s.path
}

func (s *FileSource) Close() error {
	return s.file.Close()
}

// BytesSource is an in-memory Source.
type BytesSource struct {
	reader *bytes.Reader
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{reader: bytes.NewReader(data)}
}

func (s *BytesSource) ReadAt(p []byte, off int64) (int, error) {
	return s.reader.ReadAt(p, off)
}

func (s *BytesSource) Size() int64 {
	return s.reader.Size()
}
