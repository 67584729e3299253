package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bodyf1rst/billing-backend/pkg/logger"
)

const maxLoggedSQL = 512

// queryLog routes GORM diagnostics into the service logger. Only failed
// statements and statements slower than slow are written; not-found lookups
// are normal control flow for the billing repositories and stay quiet.
type queryLog struct {
	logg *logger.Logger
	slow time.Duration
}

func newQueryLog(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLog{logg: logg, slow: slow}
}

func (q *queryLog) LogMode(gormlogger.LogLevel) gormlogger.Interface { return q }

func (q *queryLog) Info(context.Context, string, ...any) {}

func (q *queryLog) Warn(ctx context.Context, msg string, args ...any) {
	q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
}

func (q *queryLog) Error(ctx context.Context, msg string, args ...any) {
	q.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
}

func (q *queryLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := q.slow > 0 && elapsed >= q.slow
	if !failed && !slow {
		return
	}

	stmt, rows := fc()
	if len(stmt) > maxLoggedSQL {
		stmt = stmt[:maxLoggedSQL]
	}
	logCtx := q.logg.WithFields(ctx, map[string]any{
		"sql":         stmt,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	if failed {
		q.logg.Error(logCtx, "query failed", err)
		return
	}
	q.logg.Warn(logCtx, "slow query")
}
