// Package common holds the helpers shared by the CLI actions.
package common

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// Log formats accepted by --log-format.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// NewLogger builds the process logger on stderr. JSON is the default; text uses the
// console handler. quiet wins over verbose.
func NewLogger(format string, verbose, quiet bool) (*slog.Logger, error) {
	level := slog.LevelInfo
	switch {
	case quiet:
		level = slog.LevelError
	case verbose:
		level = slog.LevelDebug
	}

	switch strings.ToLower(format) {
	case "", LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
	case LogFormatText:
		handler := log.NewWithOptions(os.Stderr, log.Options{
			Level:           consoleLevel(level),
			ReportTimestamp: true,
		})
		return slog.New(handler), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (use: json or text)", format)
	}
}

func consoleLevel(level slog.Level) log.Level {
	switch level {
	case slog.LevelDebug:
		return log.DebugLevel
	case slog.LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// WriteFormatted encodes v as indented JSON or YAML.
func WriteFormatted(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (use: json or yaml)", format)
	}
}

var markdownLinkPattern = regexp.MustCompile(`^\[.*?\]\(([^\)]+)\)$`)

// SanitizeDomain reduces a pasted domain or URL to its host name. It removes surrounding
// whitespace, markdown link syntax, stray punctuation, a scheme, a path and a port.
func SanitizeDomain(raw string) string {
	cleaned := strings.TrimSpace(raw)

	// [text](https://example.org) -> https://example.org
	if matches := markdownLinkPattern.FindStringSubmatch(cleaned); len(matches) > 1 {
		cleaned = matches[1]
	}

	for _, char := range []string{",", ")", "}", "]", "\"", "'", ">", ";"} {
		cleaned = strings.TrimSuffix(cleaned, char)
	}
	for _, char := range []string{"(", "[", "<", "\"", "'"} {
		cleaned = strings.TrimPrefix(cleaned, char)
	}
	cleaned = strings.TrimSpace(cleaned)

	if strings.Contains(cleaned, "://") {
		if u, err := url.Parse(cleaned); err == nil && u.Host != "" {
			cleaned = u.Host
		}
	}
	if i := strings.IndexAny(cleaned, "/?#"); i >= 0 {
		cleaned = cleaned[:i]
	}
	if i := strings.LastIndexByte(cleaned, ':'); i >= 0 {
		cleaned = cleaned[:i]
	}
	return strings.ToLower(cleaned)
}
