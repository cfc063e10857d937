package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/glyphrec/internal/app"
	"github.com/MrWong99/glyphrec/internal/config"
	"github.com/MrWong99/glyphrec/internal/discord"
	"github.com/MrWong99/glyphrec/internal/discord/commands"
	"github.com/MrWong99/glyphrec/internal/health"
	"github.com/MrWong99/glyphrec/internal/observe"
	"github.com/MrWong99/glyphrec/internal/resilience"
	"github.com/MrWong99/glyphrec/internal/version"
	"github.com/MrWong99/glyphrec/pkg/provider/tts"
	"github.com/MrWong99/glyphrec/pkg/provider/tts/elevenlabs"
)

// shutdownTimeout bounds closing the HTTP server and the telemetry
// exporters. Saving recordings is not bounded.
const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Discord and serve recording commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), flags.configPath, cfg)
		},
	}
}

func serve(ctx context.Context, configPath string, cfg *config.Config) error {
	// ── Logger ────────────────────────────────────────────────────────────────
	lv := new(slog.LevelVar)
	slog.SetDefault(newLogger(cfg.Server, lv))

	slog.Info("glyphrec starting",
		"version", version.Version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "glyphrec",
		ServiceVersion: version.Version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	// ── Speech provider (optional) ───────────────────────────────────────────
	var speech tts.Provider
	if cfg.TTS.Enabled() {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		p, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			return fmt.Errorf("create tts provider: %w", err)
		}
		speech = resilience.NewGuardedTTS(p, resilience.BreakerConfig{Name: "tts/" + cfg.TTS.Provider})
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discord.New(ctx, discord.Config{
		Token:   cfg.Discord.Token,
		GuildID: cfg.Discord.GuildID,
	})
	if err != nil {
		return err
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	application, err := app.New(cfg, app.Deps{
		Platform:       bot.Platform(),
		Directory:      bot.Platform(),
		TTS:            speech,
		SelfID:         bot.SelfID(),
		Checkers:       []health.Checker{health.Ready("discord", "gateway not connected", bot.Ready)},
		MetricsHandler: tel.MetricsHandler,
	}, app.WithLevelVar(lv))
	if err != nil {
		_ = bot.Close()
		return fmt.Errorf("initialise application: %w", err)
	}

	// ── Commands ──────────────────────────────────────────────────────────────
	commands.NewRecordCommands(bot.Router(), application.Recordings(),
		discord.NewPermissionChecker(cfg.Discord.RecorderRoleID), bot.VoiceChannel)
	if speaker := application.Speaker(); speaker != nil {
		commands.NewSpeakCommands(bot.Router(), speaker, bot.VoiceChannel, cfg.Discord.CommandChannelID)
		bot.OnMessage(commands.NewMentionHandler(speaker, bot.VoiceChannel, bot.SelfID).Handle)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(configPath, func(old, new *config.Config) {
		application.ApplyConfig(config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	go func() {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("discord bot error", "err", err)
		}
	}()

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	} else {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, saving recordings")

	// Recordings are saved before the gateway goes away so every open
	// stream still has its connection while it is flushed.
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		runErr = errors.Join(runErr, err)
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return runErr
}

// registerBuiltinProviders registers every compiled-in TTS provider.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterTTS("elevenlabs", func(c config.TTSConfig) (tts.Provider, error) {
		return elevenlabs.New(c.APIKey,
			elevenlabs.WithModel(c.Model),
			elevenlabs.WithOutputFormat(c.OutputFormat),
		)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        glyphrec startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Version", version.Version)
	printRow("Guild", orDefault(cfg.Discord.GuildID, "(global commands)"))
	printRow("Recordings", cfg.Recording.Dir)
	printRow("Format", cfg.Recording.Format)
	if cfg.Recording.MaxDuration > 0 {
		printRow("Max duration", cfg.Recording.MaxDuration.String())
	}
	if cfg.TTS.Enabled() {
		printRow("TTS", cfg.TTS.Provider)
	} else {
		printRow("TTS", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
