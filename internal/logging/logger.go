// Package logging builds the process logger: logr on top of zap.
package logging

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels passed to logger.V().
const (
	DEFAULT = 0
	VERBOSE = 1
	DEBUG   = 2
	TRACE   = 3
)

var levelNames = map[string]int{
	"info":    DEFAULT,
	"default": DEFAULT,
	"verbose": VERBOSE,
	"debug":   DEBUG,
	"trace":   TRACE,
}

// ParseLevel accepts a level name or a non-negative verbosity number.
func ParseLevel(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DEFAULT, nil
	}
	if v, ok := levelNames[s]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return v, nil
}

// New returns a logger emitting everything up to verbosity, plus a flush
// function to call before exit.
func New(verbosity int, development bool) (logr.Logger, func() error, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	// zap levels run the other way: V(n) is zap level -n.
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(int8(-verbosity)))
	cfg.DisableStacktrace = !development

	z, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return logr.Discard(), nil, fmt.Errorf("build zap logger: %w", err)
	}
	return zapr.NewLogger(z), z.Sync, nil
}
