package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vetle/fleet/internal/config"
)

// SystemLogName is the rotating file the service logger writes under LOG_DIR.
const SystemLogName = "fleet-api.log"

// NewLogger creates a structured zerolog.Logger with service context fields
// from the config. When LOG_DIR is set, output is teed to a rotating file
// there so logs survive restarts and can be served over the logs API.
func NewLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogDir != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, SystemLogName),
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}

	ctx := zerolog.New(out).With().Timestamp()

	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}

	logger := ctx.Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return logger.Level(level)
}
