// Package logging constructs the service's zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a zap logger. Development mode uses the console encoder
// and debug level, production mode JSON at info level.
func New(development bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
