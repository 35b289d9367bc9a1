// Package sysutil holds process-level helpers used by main: logger setup and
// small string utilities for resolving build metadata.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets and returns the global zerolog level named by lvl
// (case-insensitive, "warning" accepted). Blank or unknown names mean info.
func SetLogLevel(lvl string) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(lvl))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	return level
}

// SetupLogger installs the process logger. It writes JSON to w (stdout when
// nil), or a console format when pretty is set, stamps every entry with the
// service name and makes it the fallback for zerolog.Ctx on contexts that
// carry no request logger.
func SetupLogger(w io.Writer, level string, pretty bool, service string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out).With().Timestamp().Str("service", service).Logger()

	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}

// FirstNonEmpty returns the first non-blank string from a variadic list.
// If all values are blank, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
