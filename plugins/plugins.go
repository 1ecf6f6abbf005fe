// Package plugins holds the plugin types that ship with opwire. Importing it
// registers them with the executor.
package plugins

import (
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/tarungka/opwire/executor"
)

const (
	LoggerType      = "logger"
	HealthcheckType = "healthcheck"
	JournalType     = "journal"
)

func init() {
	executor.RegisterPlugin(LoggerType, NewLogger)
	executor.RegisterPlugin(HealthcheckType, NewHealthcheck)
	executor.RegisterPlugin(JournalType, NewJournal)
}

func decode(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(params, ""), nil); err != nil {
		return err
	}
	return k.Unmarshal("", out)
}
