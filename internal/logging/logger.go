// Package logging は zerolog ベースのロガーを構築します。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New はログレベルと出力形式からロガーを作成します。
// format が "json" 以外の場合はコンソール向けの整形出力になります。
func New(level, format, service string, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	var zl zerolog.Logger
	if strings.EqualFold(format, "json") {
		zl = zerolog.New(out)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	}

	return zl.Level(parseLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
