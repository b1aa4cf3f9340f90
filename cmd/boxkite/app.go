package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/boxkite/boxkite/internal/uploader"
	"github.com/boxkite/boxkite/internal/upsdk"
	"github.com/boxkite/boxkite/internal/utils"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

type appConfig struct {
	ServerURL   string
	TargetPath  string
	Policy      string
	Concurrency int
	Overwrite   bool
	Watch       bool
	Ignore      []string
	Paths       []string
}

func (c *appConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server url is required")
	}

	switch upsdk.StoragePolicy(c.Policy) {
	case upsdk.PolicyRelay, upsdk.PolicyDirect:
	default:
		return fmt.Errorf("unknown storage policy %q", c.Policy)
	}

	for _, path := range c.Paths {
		if !utils.FileExists(path) && !utils.DirExists(path) {
			return fmt.Errorf("no such file or directory: %s", path)
		}
	}
	return nil
}

func runUpload(ctx context.Context, cfg *appConfig) error {
	sdk, err := upsdk.New(&upsdk.Config{BaseURL: cfg.ServerURL})
	if err != nil {
		return err
	}

	orch := uploader.New(sdk, uploader.Config{
		Concurrency:     cfg.Concurrency,
		GlobalOverwrite: cfg.Overwrite,
	})
	defer orch.Close()

	events, unsubscribe := orch.Subscribe()
	defer unsubscribe()

	opts := &uploader.IngestOptions{
		TargetPath: cfg.TargetPath,
		Policy:     upsdk.StoragePolicy(cfg.Policy),
		Ignore:     cfg.Ignore,
		Overwrite:  cfg.Overwrite,
	}

	queued := 0
	for _, path := range cfg.Paths {
		if utils.DirExists(path) {
			count, err := orch.AddDir(path, opts)
			if err != nil {
				return err
			}
			queued += count
		} else {
			if err := orch.AddFile(path, opts); err != nil {
				return err
			}
			queued++
		}
	}

	slog.Info("upload start", "server", cfg.ServerURL, "target", cfg.TargetPath, "files", queued)
	if queued == 0 && !cfg.Watch {
		return fmt.Errorf("nothing to upload")
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Watch {
		for _, path := range cfg.Paths {
			if !utils.DirExists(path) {
				continue
			}
			group.Go(func() error {
				return orch.Watch(groupCtx, path, opts)
			})
		}
	}

	group.Go(func() error {
		return reportEvents(groupCtx, orch, events, cfg.Watch)
	})

	err = group.Wait()
	if cfg.Watch && errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// reportEvents logs item transitions. In one-shot mode it returns once the
// queue drains, failing the run when any item ended in error or conflict. The
// ticker covers update events dropped by a full subscriber buffer.
func reportEvents(ctx context.Context, orch *uploader.Orchestrator, events <-chan uploader.Event, watch bool) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event := <-events:
			logEvent(event)
			if !watch && event.Type == uploader.EventItemUpdated && orch.Idle() {
				return summarize(orch)
			}

		case <-ticker.C:
			if !watch && orch.Idle() {
				return summarize(orch)
			}
		}
	}
}

func logEvent(event uploader.Event) {
	if event.Item == nil {
		return
	}
	item := event.Item

	switch {
	case event.Type == uploader.EventItemAdded:
		slog.Info("queued", "file", item.RelPath, "size", humanize.IBytes(uint64(item.Size)))
	case item.Status == uploader.StatusSuccess:
		slog.Info("uploaded", "file", item.RelPath, "size", humanize.IBytes(uint64(item.Size)))
	case item.Status == uploader.StatusError:
		slog.Error("failed", "file", item.RelPath, "error", item.Error)
	case item.Status == uploader.StatusConflict:
		slog.Warn("conflict", "file", item.RelPath, "hint", "re-run with --overwrite or rename the file")
	case item.Status == uploader.StatusUploading:
		slog.Debug("uploading", "file", item.RelPath, "progress", fmt.Sprintf("%d%%", item.Progress))
	}
}

func summarize(orch *uploader.Orchestrator) error {
	succeeded, failed, conflicted := 0, 0, 0
	for _, item := range orch.Items() {
		switch item.Status {
		case uploader.StatusSuccess:
			succeeded++
		case uploader.StatusError:
			failed++
		case uploader.StatusConflict:
			conflicted++
		}
	}

	slog.Info("upload done", "succeeded", succeeded, "failed", failed, "conflicts", conflicted)
	if failed > 0 || conflicted > 0 {
		return fmt.Errorf("%d upload(s) did not complete", failed+conflicted)
	}
	return nil
}
