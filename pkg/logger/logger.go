// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	LogContainer     logContainer
	loggerInit       sync.Once
	simpleLoggerInit sync.Once
)

type logContainer struct {
	mu           sync.Mutex
	sink         zapcore.WriteSyncer
	logger       *zap.Logger
	simpleLogger *zap.SugaredLogger
}

// SetSink redirects all diagnostic output to w. It must be called before
// the first logger is handed out; later calls have no effect. Diagnostics
// never affect control flow, so embedders are free to discard them.
func (l *logContainer) SetSink(w zapcore.WriteSyncer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = w
}

// GetLogger returns the pointer to the logger and creates one if none exists
func (l *logContainer) GetLogger() *zap.Logger {
	loggerInit.Do(func() {
		l.logger = zap.New(l.getCore())
	})
	return l.logger
}

// GetSimpleLogger returns the pointer to the sugared logger and creates one
// if none exists
func (l *logContainer) GetSimpleLogger() *zap.SugaredLogger {
	simpleLoggerInit.Do(func() {
		logger := zap.New(l.getCore())
		l.simpleLogger = logger.Sugar()
	})
	return l.simpleLogger
}

// String mirrors zap.String
func (l *logContainer) String(key string, val string) zap.Field {
	return zap.String(key, val)
}

// Int mirrors zap.Int
func (l *logContainer) Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func getConsoleEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func (l *logContainer) getCore() zapcore.Core {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.sink
	if w == nil {
		w = zapcore.AddSync(os.Stderr)
	}
	return zapcore.NewCore(getConsoleEncoder(), w, zapcore.DebugLevel)
}
