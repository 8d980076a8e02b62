// Package logging provides the engine's zap logger and log sanitizers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the root logger for the given environment.
// "local" gets a human-readable development logger; everything else gets
// JSON production output. Components derive named loggers from the root.
func NewLogger(env string) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	if env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
