package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// seriesTables hold observation time series. Chunked upserts into them are
// large by nature, so they get their own slow threshold.
var seriesTables = []string{"observations", "qc_messages", "obs_agg_"}

// GormLoggerConfig configures the GORM zap logger.
type GormLoggerConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// SeriesSlowThreshold applies to observation and aggregate tables.
	// Zero falls back to SlowThreshold.
	SeriesSlowThreshold  time.Duration
	IgnoreRecordNotFound bool
	// MaxSQLLength truncates logged statements; a full observation chunk
	// renders to megabytes of SQL.
	MaxSQLLength int
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        500 * time.Millisecond,
		SeriesSlowThreshold:  5 * time.Second,
		IgnoreRecordNotFound: true,
		MaxSQLLength:         2048,
	}
}

// GormLogger routes GORM output through the context logger.
type GormLogger struct {
	cfg GormLoggerConfig
}

func NewGormLogger(cfg GormLoggerConfig) *GormLogger {
	return &GormLogger{cfg: cfg}
}

func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.cfg.Level = level
	return &next
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, zap.InfoLevel, msg, data)
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, zap.WarnLevel, msg, data)
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, zap.ErrorLevel, msg, data)
}

func (l *GormLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if l.cfg.Level < min {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	if ce := FromContext(ctx).Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs failed statements, statements over their table's slow
// threshold, and everything else at debug when the level is Info.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	if err != nil && l.cfg.Level >= gormlogger.Error {
		if !errors.Is(err, gormlogger.ErrRecordNotFound) || !l.cfg.IgnoreRecordNotFound {
			stmt := parseStatement(fc)
			l.write(ctx, zap.ErrorLevel, stmt, elapsed, zap.Error(err))
			return
		}
	}
	if l.cfg.Level < gormlogger.Warn {
		return
	}

	stmt := parseStatement(fc)
	threshold := l.slowThreshold(stmt.table)
	switch {
	case threshold > 0 && elapsed > threshold:
		l.write(ctx, zap.WarnLevel, stmt, elapsed, zap.Int64("slow_threshold_ms", threshold.Milliseconds()))
	case l.cfg.Level >= gormlogger.Info:
		l.write(ctx, zap.DebugLevel, stmt, elapsed)
	}
}

// ParamsFilter drops bound values from logged SQL.
func (l *GormLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *GormLogger) slowThreshold(table string) time.Duration {
	if isSeriesTable(table) && l.cfg.SeriesSlowThreshold > 0 {
		return l.cfg.SeriesSlowThreshold
	}
	return l.cfg.SlowThreshold
}

func (l *GormLogger) write(ctx context.Context, level zapcore.Level, stmt statement, elapsed time.Duration, extra ...zap.Field) {
	ce := FromContext(ctx).Check(level, "gorm.query")
	if ce == nil {
		return
	}
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("operation", stmt.operation),
		zap.String("table", stmt.table),
		zap.Bool("series", isSeriesTable(stmt.table)),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.String("sql", truncateSQL(stmt.sql, l.cfg.MaxSQLLength)),
	}
	if stmt.rows >= 0 {
		fields = append(fields, zap.Int64("rows", stmt.rows))
	}
	ce.Write(append(fields, extra...)...)
}

type statement struct {
	sql       string
	operation string
	table     string
	rows      int64
}

func parseStatement(fc func() (string, int64)) statement {
	sql, rows := fc()
	sql = strings.TrimSpace(sql)
	op := operationFromSQL(sql)
	return statement{sql: sql, operation: op, table: tableFromSQL(sql, op), rows: rows}
}

func isSeriesTable(table string) bool {
	for _, prefix := range seriesTables {
		if strings.HasPrefix(table, prefix) {
			return true
		}
	}
	return false
}

func operationFromSQL(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		switch token = strings.Trim(token, "();"); token {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return token
		}
	}
	return "UNKNOWN"
}

func truncateSQL(sql string, max int) string {
	if max <= 0 || len(sql) <= max {
		return sql
	}
	return sql[:max] + "...(truncated)"
}

// tableFromSQL returns the first table named after FROM, INTO or UPDATE.
func tableFromSQL(sql, operation string) string {
	keyword := "FROM"
	switch operation {
	case "INSERT":
		keyword = "INTO"
	case "UPDATE":
		keyword = "UPDATE"
	}
	tokens := strings.Fields(sql)
	for i, token := range tokens {
		if strings.EqualFold(token, keyword) && i+1 < len(tokens) {
			return strings.Trim(tokens[i+1], "\"`();")
		}
	}
	return ""
}

var _ gormlogger.Interface = (*GormLogger)(nil)
