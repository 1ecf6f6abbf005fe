package logger

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KgoLogger routes franz-go client logs into zerolog.
type KgoLogger struct {
	l zerolog.Logger
}

func Kgo(l zerolog.Logger) *KgoLogger {
	return &KgoLogger{l: Component(l, "kgo")}
}

func (k *KgoLogger) Level() kgo.LogLevel {
	switch k.l.GetLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return kgo.LogLevelDebug
	case zerolog.InfoLevel:
		return kgo.LogLevelInfo
	case zerolog.WarnLevel:
		return kgo.LogLevelWarn
	case zerolog.Disabled:
		return kgo.LogLevelNone
	default:
		return kgo.LogLevelError
	}
}

func (k *KgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	var ev *zerolog.Event
	switch level {
	case kgo.LogLevelError:
		ev = k.l.Error()
	case kgo.LogLevelWarn:
		ev = k.l.Warn()
	case kgo.LogLevelInfo:
		ev = k.l.Info()
	case kgo.LogLevelDebug:
		ev = k.l.Debug()
	default:
		return
	}
	for i := 0; i+1 < len(keyvals); i += 2 {
		ev = ev.Interface(fmt.Sprint(keyvals[i]), keyvals[i+1])
	}
	ev.Msg(msg)
}

// BadgerLogger satisfies badger.Logger.
type BadgerLogger struct {
	l zerolog.Logger
}

func Badger(l zerolog.Logger) *BadgerLogger {
	return &BadgerLogger{l: Component(l, "badger")}
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error().Msg(trim(format, args))
}

func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn().Msg(trim(format, args))
}

func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug().Msg(trim(format, args))
}

func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Trace().Msg(trim(format, args))
}

// badger terminates its lines with a newline
func trim(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
