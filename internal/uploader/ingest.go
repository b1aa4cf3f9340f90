package uploader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/boxkite/boxkite/internal/upsdk"
	"github.com/boxkite/boxkite/internal/utils"
	"github.com/rjeczalik/notify"
)

const watchBufferSize = 64

// IngestOptions configure how files picked up from disk are queued.
type IngestOptions struct {
	TargetPath   string
	Policy       upsdk.StoragePolicy
	Ignore       []string // doublestar patterns matched against the relative path
	Overwrite    bool
	NeedsRefresh bool
}

func (opts *IngestOptions) ignored(relPath string) bool {
	for _, pattern := range opts.Ignore {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
		if ok, err := doublestar.Match(pattern, filepath.Base(relPath)); err == nil && ok {
			return true
		}
	}
	return false
}

// AddFile queues a single file. The relative path is just the base name.
func (o *Orchestrator) AddFile(path string, opts *IngestOptions) error {
	if !utils.FileExists(path) {
		return fmt.Errorf("not a file: %s", path)
	}

	source, err := OpenFileSource(path)
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	added := o.Add(&AddRequest{
		Name:         name,
		Source:       source,
		RelPath:      name,
		TargetPath:   opts.TargetPath,
		Policy:       opts.Policy,
		Overwrite:    opts.Overwrite,
		NeedsRefresh: opts.NeedsRefresh,
	})
	if added == 0 {
		source.Close()
		return fmt.Errorf("file not queued: %s", path)
	}
	return nil
}

// AddDir walks a directory tree and queues every file that survives the
// ignore patterns, preserving the folder structure in each item's relative
// path. Returns how many files were queued.
func (o *Orchestrator) AddDir(root string, opts *IngestOptions) (int, error) {
	if !utils.DirExists(root) {
		return 0, fmt.Errorf("not a directory: %s", root)
	}

	requests := make([]*AddRequest, 0, 16)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk dir: %w", err)
		}
		if d.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("rel path: %w", err)
		}
		relPath = filepath.ToSlash(relPath)

		if opts.ignored(relPath) {
			slog.Debug("upload ingest skipped", "reason", "ignore pattern", "path", relPath)
			return nil
		}

		source, err := OpenFileSource(path)
		if err != nil {
			return err
		}

		requests = append(requests, &AddRequest{
			Name:         filepath.Base(path),
			Source:       source,
			RelPath:      relPath,
			TargetPath:   opts.TargetPath,
			Policy:       opts.Policy,
			Overwrite:    opts.Overwrite,
			NeedsRefresh: opts.NeedsRefresh,
		})
		return nil
	})
	if err != nil {
		for _, request := range requests {
			if fileSource, ok := request.Source.(*FileSource); ok {
				fileSource.Close()
			}
		}
		return 0, err
	}

	return o.Add(requests...), nil
}

// Watch queues files created under root until the context is canceled. The
// same ignore patterns apply; directories are picked up by their contained
// file events.
func (o *Orchestrator) Watch(ctx context.Context, root string, opts *IngestOptions) error {
	if !utils.DirExists(root) {
		return fmt.Errorf("not a directory: %s", root)
	}

	events := make(chan notify.EventInfo, watchBufferSize)
	if err := notify.Watch(filepath.Join(root, "..."), events, notify.Create, notify.Rename); err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	defer notify.Stop(events)

	slog.Info("upload watch start", "dir", root)

	for {
		select {
		case <-ctx.Done():
			slog.Info("upload watch stop", "dir", root)
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				return nil
			}
			o.ingestWatchEvent(root, event.Path(), opts)
		}
	}
}

func (o *Orchestrator) ingestWatchEvent(root, path string, opts *IngestOptions) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		return
	}
	relPath = filepath.ToSlash(relPath)

	if opts.ignored(relPath) {
		return
	}

	source, err := OpenFileSource(path)
	if err != nil {
		slog.Warn("upload watch open failed", "path", path, "error", err)
		return
	}

	o.Add(&AddRequest{
		Name:         filepath.Base(path),
		Source:       source,
		RelPath:      relPath,
		TargetPath:   opts.TargetPath,
		Policy:       opts.Policy,
		Overwrite:    opts.Overwrite,
		NeedsRefresh: opts.NeedsRefresh,
	})
}
