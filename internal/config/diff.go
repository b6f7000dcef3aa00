package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely applied without a restart are tracked: the
// next session picks them up, a session already in flight is never touched.
type ConfigDiff struct {
	LogLevelChanged    bool
	NewLogLevel        LogLevel
	ParticipantChanged bool
	StimulusChanged    bool
	SamplingChanged    bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ParticipantChanged || d.StimulusChanged || d.SamplingChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; server address,
// capture platform, and persistence layout changes require one.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Participant != new.Participant {
		d.ParticipantChanged = true
	}
	if old.Stimulus != new.Stimulus {
		d.StimulusChanged = true
	}
	if old.Sampling != new.Sampling {
		d.SamplingChanged = true
	}
	return d
}
