// Package logging builds the zap logger shared by every cronwatch component.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// Standard field names for structured log entries.
const (
	FieldComponent = "component"
	FieldPath      = "path"
	FieldLine      = "line"
	FieldReason    = "reason"
	FieldExitCode  = "exit_code"
	FieldTick      = "tick"
	FieldError     = "error"
)

// New builds a SugaredLogger from cfg. Entries go to stderr and, when
// cfg.File is set, are appended to that file as well.
func New(cfg models.LogConfig) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	encoder := newEncoder(cfg.JSON)
	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		// The file always gets JSON so it can be grepped and parsed later.
		cores = append(cores, zapcore.NewCore(newEncoder(true), zapcore.AddSync(f), level))
	}

	return zap.New(zapcore.NewTee(cores...)).Sugar(), nil
}

// Nop returns a logger that discards everything. Used as the default for
// components constructed without a logger and in tests.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Component returns a child logger tagged with the component name.
func Component(log *zap.SugaredLogger, name string) *zap.SugaredLogger {
	if log == nil {
		log = Nop()
	}
	return log.With(FieldComponent, name)
}

func newEncoder(jsonOutput bool) zapcore.Encoder {
	if jsonOutput {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeCaller = nil
	cfg.CallerKey = ""
	return zapcore.NewConsoleEncoder(cfg)
}
