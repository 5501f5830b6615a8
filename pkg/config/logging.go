package config

import (
	"io"

	"github.com/marmos91/dittodir/internal/logger"
)

// ConfigureLogging applies the logging section to the process logger. The
// returned closer releases the log file when output is a path.
func ConfigureLogging(cfg *LoggingConfig) (io.Closer, error) {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	return logger.SetOutput(cfg.Output)
}
