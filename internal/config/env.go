package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// lookup returns the trimmed value of k and whether it is non-empty.
func lookup(k string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(k))
	return v, v != ""
}

func envStr(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}

// envParse applies parse to the value of k, falling back to def when k is
// unset or unparsable.
func envParse[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func envInt(k string, def int) int { return envParse(k, def, strconv.Atoi) }

func envDur(k string, def time.Duration) time.Duration {
	return envParse(k, def, time.ParseDuration)
}

func envFloat(k string, def float64) float64 {
	return envParse(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func envBool(k string, def bool) bool {
	v, ok := lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}

// splitList splits a comma separated list, dropping blank items.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cleanBasePath returns p with one leading slash and no trailing slash; an
// empty path is the root.
func cleanBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
