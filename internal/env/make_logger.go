package env

import (
	"fmt"

	zap "go.uber.org/zap"
)

// MakeLogger builds a JSON production logger at the named level, e.g.
// "debug", "info" or "warn". An empty level means info.
func MakeLogger(level string) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(lvl)
	logConfig.Encoding = "json"

	return logConfig.Build()
}
