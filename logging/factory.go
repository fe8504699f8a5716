// SPDX-License-Identifier: MIT

package logging

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
)

var errUnknownLogLevel = errors.New("unknown log level")

// NewLoggerFactory builds a pion logger factory for the given level name
// (disable, error, warn, info, debug, trace).
func NewLoggerFactory(logLevel string) (*logging.DefaultLoggerFactory, error) {
	var level logging.LogLevel
	switch strings.ToLower(logLevel) {
	case "disable":
		level = logging.LogLevelDisabled
	case "error":
		level = logging.LogLevelError
	case "warn":
		level = logging.LogLevelWarn
	case "info":
		level = logging.LogLevelInfo
	case "debug":
		level = logging.LogLevelDebug
	case "trace":
		level = logging.LogLevelTrace
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownLogLevel, logLevel)
	}

	return &logging.DefaultLoggerFactory{
		Writer:          os.Stdout,
		DefaultLogLevel: level,
		ScopeLevels:     make(map[string]logging.LogLevel),
	}, nil
}
