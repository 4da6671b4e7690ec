package logstream

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a production JSON logger that writes to stdout and
// appends to path. The returned close function syncs and closes the file.
func NewLogger(path string) (*zap.Logger, func() error, error) {
	if path == "" {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, nil, err
		}
		return logger, logger.Sync, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logstream.open_sink: %w", err)
	}
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(encoder.Clone(), zapcore.AddSync(file), level),
	)
	logger := zap.New(core, zap.AddCaller())
	closeLogger := func() error {
		_ = logger.Sync()
		return file.Close()
	}
	return logger, closeLogger, nil
}
