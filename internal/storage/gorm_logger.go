package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	logx "medremind/pkg/logx"
)

const slowQueryThreshold = 200 * time.Millisecond

// gormLogger routes gorm's logging into logx.
type gormLogger struct {
	log   logx.Logger
	level gormlogger.LogLevel
}

func newGormLogger(log logx.Logger) gormlogger.Interface {
	return &gormLogger{log: log.With(logx.String("comp", "gorm")), level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log.Error("gorm query error", logx.Duration("elapsed", elapsed), logx.Int64("rows", rows), logx.String("sql", sql), logx.Err(err))
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Warn("gorm slow query", logx.Duration("elapsed", elapsed), logx.Int64("rows", rows), logx.String("sql", sql))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("gorm query", logx.Duration("elapsed", elapsed), logx.Int64("rows", rows), logx.String("sql", sql))
	}
}
