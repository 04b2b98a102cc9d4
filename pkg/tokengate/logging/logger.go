// Package logging provides a shared logger and log utilities to be used in all tokengate packages.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var (
	L *zap.Logger        = zap.NewNop()
	S *zap.SugaredLogger = L.Sugar()
)

// Initialize builds a logger at the given verbosity (0 is info, 1 is debug)
// and installs it as L and S.
func Initialize(v int) *zap.Logger {
	var (
		encoder zapcore.Encoder
		writer  zapcore.WriteSyncer
	)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		writer = zapcore.Lock(os.Stderr)
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "message",

			LevelKey:    "level",
			EncodeLevel: zapcore.CapitalColorLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.ISO8601TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		})
	} else {
		writer = zapcore.Lock(os.Stdout)
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	logger := newLogger(zap.NewAtomicLevelAt(zapcore.Level(-v)), encoder, writer)
	SetLogger(logger)
	return logger
}

// SetLogger replaces the package loggers.
func SetLogger(l *zap.Logger) {
	L = l
	S = l.Sugar()
}

func newLogger(lvl zapcore.LevelEnabler, encoder zapcore.Encoder, w io.Writer) *zap.Logger {
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	return zap.New(core, zap.AddCaller())
}
