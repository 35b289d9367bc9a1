package sysutil

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetLogLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	for in, want := range map[string]zerolog.Level{
		"trace":     zerolog.TraceLevel,
		"  DeBuG  ": zerolog.DebugLevel,
		"info":      zerolog.InfoLevel,
		"":          zerolog.InfoLevel,
		"Warning":   zerolog.WarnLevel,
		"warn":      zerolog.WarnLevel,
		"error":     zerolog.ErrorLevel,
		"fatal":     zerolog.FatalLevel,
		"panic":     zerolog.PanicLevel,
		"verbose":   zerolog.InfoLevel,
	} {
		if got := SetLogLevel(in); got != want || zerolog.GlobalLevel() != want {
			t.Errorf("SetLogLevel(%q) = %v (global %v), want %v", in, got, zerolog.GlobalLevel(), want)
		}
	}
}

func TestSetupLogger_JSONWithServiceAndContextFallback(t *testing.T) {
	origLevel := zerolog.GlobalLevel()
	origDefault := zerolog.DefaultContextLogger
	origGlobal := log.Logger
	t.Cleanup(func() {
		zerolog.SetGlobalLevel(origLevel)
		zerolog.DefaultContextLogger = origDefault
		log.Logger = origGlobal
	})

	var buf bytes.Buffer
	SetupLogger(&buf, "debug", false, "pegasus-test")

	zerolog.Ctx(context.Background()).Info().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "pegasus-test" || entry["message"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("level not applied: %v", zerolog.GlobalLevel())
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	origDefault := zerolog.DefaultContextLogger
	origGlobal := log.Logger
	t.Cleanup(func() {
		zerolog.DefaultContextLogger = origDefault
		log.Logger = origGlobal
	})

	var buf bytes.Buffer
	l := SetupLogger(&buf, "info", true, "svc")
	l.Info().Msg("console line")

	out := buf.String()
	if !strings.Contains(out, "console line") || strings.HasPrefix(out, "{") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{" ", "\t", "\n"}, ""},
		{[]string{"", "  v1.2.0  ", "dev"}, "  v1.2.0  "},
		{[]string{"v2", "dev"}, "v2"},
	}
	for _, tc := range cases {
		if got := FirstNonEmpty(tc.in...); got != tc.want {
			t.Errorf("FirstNonEmpty(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
