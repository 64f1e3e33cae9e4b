package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

type Options struct {
	Level   string
	Format  string
	NoColor bool
	Out     io.Writer
}

// InitDefault sets up a console logger before configuration is read.
func InitDefault() {
	_ = Init(Options{Level: "info", Format: FormatConsole})
}

// Init configures the global logger. Loggers pulled from a context without one
// attached fall back to the global logger.
func Init(opts Options) error {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		if err == nil {
			err = fmt.Errorf("empty log level")
		}
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	switch strings.ToLower(opts.Format) {
	case FormatJSON:
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    opts.NoColor,
			TimeFormat: time.TimeOnly,
		}).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
	if opts.Level != "" && err != nil {
		return fmt.Errorf("invalid log level %q, using info", opts.Level)
	}
	return nil
}

// Fingerprint returns a short, stable identifier for a secret so it can be
// correlated in logs without being written out.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}
