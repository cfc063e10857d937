package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/glyphrec/internal/config"
	"github.com/MrWong99/glyphrec/internal/version"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:   "glyphrec",
		Short: "Record Discord voice channels, one file per speaker",
		Long: "glyphrec joins a Discord voice channel on /record, captures every speaker " +
			"into a separate staging file and converts each one with ffmpeg on /stoprecord.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "environment files loaded before the configuration")

	rootCmd.AddCommand(newServeCmd(flags))
	rootCmd.AddCommand(newTranscodeCmd(flags))
	rootCmd.AddCommand(newSweepCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig loads the environment files and the validated configuration.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(f.configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", f.configPath)
	}
	return cfg, err
}

// readConfig is loadConfig without validation. A missing config file is
// not an error; tooling commands then run on defaults and the environment.
func (f *rootFlags) readConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(f.envFiles...); err != nil {
		return nil, err
	}
	path := f.configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		path = ""
	}
	return config.Read(path)
}

func newLogger(cfg config.ServerConfig, lv *slog.LevelVar) *slog.Logger {
	lv.Set(cfg.LogLevel.Level())
	opts := &slog.HandlerOptions{Level: lv}
	if cfg.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
