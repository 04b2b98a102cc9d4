package logging

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type gormLogger struct {
	l     *zap.SugaredLogger
	level logger.LogLevel
}

// ToGormLogger adapts a zap logger for use as gorm's logger.
func ToGormLogger(l *zap.SugaredLogger) logger.Interface {
	return &gormLogger{l: l, level: logger.Warn}
}

func (l *gormLogger) LogMode(ll logger.LogLevel) logger.Interface {
	return &gormLogger{l: l.l, level: ll}
}

func (l *gormLogger) Info(ctx context.Context, s string, args ...interface{}) {
	if l.level >= logger.Info {
		l.l.Infof(s, args...)
	}
}

func (l *gormLogger) Warn(ctx context.Context, s string, args ...interface{}) {
	if l.level >= logger.Warn {
		l.l.Warnf(s, args...)
	}
}

func (l *gormLogger) Error(ctx context.Context, s string, args ...interface{}) {
	if l.level >= logger.Error {
		l.l.Errorf(s, args...)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	// record-not-found is an expected outcome of token lookups
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) || l.level < logger.Error {
		return
	}
	sql, rows := fc()
	l.l.Errorw("query failed", "error", err, "sql", sql, "rows", rows, "elapsed", time.Since(begin))
}
