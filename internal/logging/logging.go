package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lorawan-server/lorawan-tester/internal/config"
)

// Setup configures the global zerolog logger. Console output goes to
// stderr; with a file path set, JSON lines are also written to a rotating
// file. The returned closer flushes that file.
func Setup(cfg config.LogConfig) io.Closer {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if cfg.Format == "json" {
		console = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	out := console
	if cfg.File.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    orDefault(cfg.File.MaxSize, 100),
			MaxBackups: orDefault(cfg.File.MaxBackups, 5),
			MaxAge:     orDefault(cfg.File.MaxAge, 30),
			Compress:   cfg.File.Compress,
		}
		out = zerolog.MultiLevelWriter(console, lj)
		closer = lj
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	if err != nil {
		log.Warn().Str("level", cfg.Level).Msg("Invalid log level, using info")
	}
	return closer
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
