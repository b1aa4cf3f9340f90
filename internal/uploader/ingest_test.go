package uploader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(relPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestAddFile(t *testing.T) {
	api := &fakeAPI{chunkSize: 4, transport: &scriptedTransport{}}
	orch := newTestOrchestrator(t, api)

	root := t.TempDir()
	writeTestFile(t, root, "report.pdf", "hello")

	err := orch.AddFile(filepath.Join(root, "report.pdf"), &IngestOptions{TargetPath: "/docs"})
	require.NoError(t, err)

	id := orch.Items()[0].ID
	view := waitForStatus(t, orch, id, StatusSuccess)
	assert.Equal(t, "report.pdf", view.Name)
	assert.Equal(t, "report.pdf", view.RelPath)
}

func TestAddFileRejectsMissingPath(t *testing.T) {
	api := &fakeAPI{chunkSize: 4, transport: &scriptedTransport{}}
	orch := newTestOrchestrator(t, api)

	err := orch.AddFile(filepath.Join(t.TempDir(), "nope.txt"), &IngestOptions{})
	assert.Error(t, err)
}

func TestAddDirPreservesStructure(t *testing.T) {
	api := &fakeAPI{chunkSize: 4, transport: &scriptedTransport{}}
	orch := newTestOrchestrator(t, api)

	root := t.TempDir()
	writeTestFile(t, root, "top.txt", "a")
	writeTestFile(t, root, "sub/nested.txt", "b")
	writeTestFile(t, root, "sub/deep/leaf.txt", "c")

	count, err := orch.AddDir(root, &IngestOptions{TargetPath: "/docs"})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	relPaths := make(map[string]bool)
	for _, view := range orch.Items() {
		relPaths[view.RelPath] = true
	}
	assert.True(t, relPaths["top.txt"])
	assert.True(t, relPaths["sub/nested.txt"])
	assert.True(t, relPaths["sub/deep/leaf.txt"])
}

func TestAddDirIgnorePatterns(t *testing.T) {
	api := &fakeAPI{chunkSize: 4, transport: &scriptedTransport{}}
	orch := newTestOrchestrator(t, api)

	root := t.TempDir()
	writeTestFile(t, root, "keep.txt", "a")
	writeTestFile(t, root, "scratch.tmp", "b")
	writeTestFile(t, root, "sub/also.tmp", "c")
	writeTestFile(t, root, "secret/key.pem", "d")

	count, err := orch.AddDir(root, &IngestOptions{
		TargetPath: "/docs",
		Ignore:     []string{"*.tmp", "secret/**"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	views := orch.Items()
	require.Len(t, views, 1)
	assert.Equal(t, "keep.txt", views[0].RelPath)
}

func TestAddDirRejectsFilePath(t *testing.T) {
	api := &fakeAPI{chunkSize: 4, transport: &scriptedTransport{}}
	orch := newTestOrchestrator(t, api)

	root := t.TempDir()
	writeTestFile(t, root, "file.txt", "a")

	_, err := orch.AddDir(filepath.Join(root, "file.txt"), &IngestOptions{})
	assert.Error(t, err)
}
