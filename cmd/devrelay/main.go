package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/boxkite/boxkite/internal/relay"
	"github.com/boxkite/boxkite/internal/version"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const defaultAddr = "localhost:8022"

func main() {
	var addr string
	var dataDir string
	var chunkSize int64
	var externalURL string

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:     "devrelay",
		Short:   "Boxkite development upload relay",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := relay.New(&relay.Config{
				Addr:        addr,
				DataDir:     dataDir,
				ChunkSize:   chunkSize,
				ExternalURL: externalURL,
			})
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			return server.Start(cmd.Context())
		},
	}

	rootCmd.Flags().StringVarP(&addr, "bind", "b", defaultAddr, "Address to bind the relay")
	rootCmd.Flags().StringVarP(&dataDir, "data", "d", "./data", "Directory for committed entries and chunk spools")
	rootCmd.Flags().Int64Var(&chunkSize, "chunk-size", 0, "Chunk size in bytes handed to clients (0 = default)")
	rootCmd.Flags().StringVar(&externalURL, "external-url", "", "Base URL clients reach this relay on")

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
