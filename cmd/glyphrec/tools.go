package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/glyphrec/internal/recorder"
	"github.com/MrWong99/glyphrec/internal/version"
)

func newTranscodeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "transcode <staging.pcm> <output>",
		Short: "Convert one raw staging file into an audio file",
		Long: "transcode converts a 48 kHz stereo s16le staging file with ffmpeg. " +
			"The output format follows the extension of <output>. The staging file is kept.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.readConfig()
			if err != nil {
				return err
			}
			ff := recorder.NewFFmpeg(recorder.FFmpegConfig{
				Binary:  cfg.Recording.FFmpegPath,
				Bitrate: cfg.Recording.Bitrate,
			})
			if err := ff.Check(cmd.Context()); err != nil {
				return err
			}
			if err := ff.Convert(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	}
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete staging files left behind by a crashed process",
		Long: "sweep removes every *.pcm file in recording.staging_dir. " +
			"Do not run it while serve is recording into the same directory.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.readConfig()
			if err != nil {
				return err
			}
			n, err := recorder.SweepStaging(cfg.Recording.StagingDir)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d staging file(s) from %s\n", n, cfg.Recording.StagingDir)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
