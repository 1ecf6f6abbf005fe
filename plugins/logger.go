package plugins

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tarungka/opwire/executor"
	"github.com/tarungka/opwire/internal/logger"
)

type loggerParams struct {
	Level  string            `koanf:"level"`
	Format string            `koanf:"format"`
	Fields map[string]string `koanf:"fields"`
}

// Logger sets level, format and static fields of the operator logger.
type Logger struct {
	name   string
	level  zerolog.Level
	format string
	fields map[string]string
	out    io.Writer
}

func NewLogger(name string, params map[string]any) (executor.Plugin, error) {
	p := loggerParams{Level: "info", Format: "json"}
	if err := decode(params, &p); err != nil {
		return nil, err
	}
	level, err := zerolog.ParseLevel(strings.ToLower(p.Level))
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", name, err)
	}
	switch p.Format {
	case "json", "console":
	default:
		return nil, fmt.Errorf("logger %s: unknown format %q", name, p.Format)
	}
	return &Logger{name: name, level: level, format: p.Format, fields: p.Fields, out: os.Stderr}, nil
}

func (l *Logger) Name() string { return l.name }

func (l *Logger) Logger(base zerolog.Logger) zerolog.Logger {
	out := base.Level(l.level)
	if l.format == "console" {
		out = out.Output(logger.Console(l.out))
	}
	if len(l.fields) > 0 {
		ctx := out.With()
		for k, v := range l.fields {
			ctx = ctx.Str(k, v)
		}
		out = ctx.Logger()
	}
	return out
}
