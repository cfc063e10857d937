package config

// ConfigDiff describes what changed between two configs.
// Hot-reloadable fields are reported individually; everything else that
// changed is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	IncludeBotsChanged bool
	NewIncludeBots     bool

	VoiceChanged bool
	NewVoiceID   string

	// RestartRequired names changed settings that only take effect after a
	// restart, as YAML paths (e.g. "discord.token").
	RestartRequired []string
}

// Changed reports whether d contains any difference.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.IncludeBotsChanged || d.VoiceChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Recording.IncludeBots != new.Recording.IncludeBots {
		d.IncludeBotsChanged = true
		d.NewIncludeBots = new.Recording.IncludeBots
	}
	if old.TTS.VoiceID != new.TTS.VoiceID {
		d.VoiceChanged = true
		d.NewVoiceID = new.TTS.VoiceID
	}

	restart := func(path string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, path)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.log_format", old.Server.LogFormat != new.Server.LogFormat)
	restart("discord", old.Discord != new.Discord)
	restart("recording.dir", old.Recording.Dir != new.Recording.Dir)
	restart("recording.staging_dir", old.Recording.StagingDir != new.Recording.StagingDir)
	restart("recording.format", old.Recording.Format != new.Recording.Format)
	restart("recording.ffmpeg_path", old.Recording.FFmpegPath != new.Recording.FFmpegPath)
	restart("recording.bitrate", old.Recording.Bitrate != new.Recording.Bitrate)
	restart("recording.join_timeout", old.Recording.JoinTimeout != new.Recording.JoinTimeout)
	restart("recording.max_duration", old.Recording.MaxDuration != new.Recording.MaxDuration)

	oldTTS, newTTS := old.TTS, new.TTS
	oldTTS.VoiceID, newTTS.VoiceID = "", ""
	restart("tts", oldTTS != newTTS)

	return d
}
