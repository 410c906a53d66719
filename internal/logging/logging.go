// Package logging builds the loggers used throughout the engine.
package logging

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/difflow/pkg/config"
)

// New creates a zap-backed logr logger from the log configuration, writing to stderr.
func New(c config.LogConfig) logr.Logger {
	return NewWithWriter(c, os.Stderr)
}

// NewWithWriter creates a logger writing to w.
func NewWithWriter(c config.LogConfig, w io.Writer) logr.Logger {
	opts := zap.Options{
		Development:     c.Development,
		DestWriter:      w,
		Level:           zapcore.Level(-c.Verbosity),
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}
	return zap.New(zap.UseFlagOptions(&opts)).WithName("difflow")
}
