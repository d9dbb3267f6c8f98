package config

// Config holds all settings for the netops fetch CLI, grouped by tool.
type Config struct {
	Fetch FetchConfig `mapstructure:"fetch" validate:"required"`
}

// FetchConfig contains the settings driving the fetch tool's manager.
type FetchConfig struct {
	// LogLevel controls slog verbosity.
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// MaxConcurrent bounds how many transfers run at once. Zero means the
	// library default.
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"gte=0,lte=256"`

	// OutputDir is where finished downloads are moved.
	OutputDir string `mapstructure:"output_dir" validate:"required"`

	// JournalPath, when non-empty, enables the SQLite task journal.
	JournalPath string `mapstructure:"journal_path"`

	// TimeoutSeconds is the per-request HTTP timeout. Zero disables it.
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"gte=0"`
}
