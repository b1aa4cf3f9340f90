package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/boxkite/boxkite/internal/version"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _          = os.UserHomeDir()
	defaultServerURL = "http://localhost:8022"
	configFileName   = "config"
)

var rootCmd = &cobra.Command{
	Use:     "boxkite [paths...]",
	Short:   "Boxkite chunked upload CLI",
	Version: version.Detailed(),
	Args:    cobra.MinimumNArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &appConfig{
			ServerURL:   viper.GetString("server_url"),
			TargetPath:  viper.GetString("target_path"),
			Policy:      viper.GetString("policy"),
			Concurrency: viper.GetInt("concurrency"),
			Overwrite:   viper.GetBool("overwrite"),
			Watch:       viper.GetBool("watch"),
			Ignore:      viper.GetStringSlice("ignore"),
			Paths:       args,
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		cmd.SilenceUsage = true
		showBoxkiteHeader()

		defer slog.Info("Bye!")
		return runUpload(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("server", "s", defaultServerURL, "Upload server URL")
	rootCmd.Flags().StringP("target", "t", "/", "Destination directory on the server")
	rootCmd.Flags().StringP("policy", "p", "relay", "Storage policy (relay or direct)")
	rootCmd.Flags().IntP("concurrency", "n", 0, "Concurrent transfers (0 = default)")
	rootCmd.Flags().Bool("overwrite", false, "Overwrite existing entries instead of conflicting")
	rootCmd.Flags().BoolP("watch", "w", false, "Keep running and upload files as they appear")
	rootCmd.Flags().StringSlice("ignore", nil, "Glob patterns to skip (repeatable)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Boxkite config file")
}

func main() {
	// local overrides for development; missing file is fine
	_ = godotenv.Load()

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".boxkite"))
		viper.AddConfigPath(filepath.Join(home, ".config/boxkite"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("json")
	}

	if err := viper.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !enoent && !notFound {
			return fmt.Errorf("config read '%s': %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("target_path", cmd.Flags().Lookup("target"))
	viper.BindPFlag("policy", cmd.Flags().Lookup("policy"))
	viper.BindPFlag("concurrency", cmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("overwrite", cmd.Flags().Lookup("overwrite"))
	viper.BindPFlag("watch", cmd.Flags().Lookup("watch"))
	viper.BindPFlag("ignore", cmd.Flags().Lookup("ignore"))

	viper.SetEnvPrefix("BOXKITE")
	viper.AutomaticEnv()

	return nil
}

func showBoxkiteHeader() {
	color.New(color.FgHiCyan, color.Bold).
		Printf("Boxkite %s\n", version.Short())
}
