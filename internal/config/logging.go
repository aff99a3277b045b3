package config

import (
	"github.com/rshade/epsscache/internal/logging"
)

// ToLoggingConfig converts config.LoggingConfig to logging.Config for use with
// the internal/logging package.
//
// The conversion applies these rules:
//   - Level, Format are copied directly ("text" is an alias for console)
//   - If File is set, Output becomes "file" and File is passed through
//   - If File is empty, Output defaults to "stderr"
func (lc LoggingConfig) ToLoggingConfig() logging.Config {
	output := logging.OutputStderr
	if lc.File != "" {
		output = logging.OutputFile
	}

	format := lc.Format
	if format == "text" {
		format = logging.FormatConsole
	}

	return logging.Config{
		Level:  lc.Level,
		Format: format,
		Output: output,
		File:   lc.File,
	}
}

// WithDebug returns a copy that logs at debug level to the console.
func (lc LoggingConfig) WithDebug() LoggingConfig {
	lc.Level = "debug"
	lc.Format = logging.FormatConsole
	lc.File = ""
	return lc
}
