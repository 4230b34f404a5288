package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives one callback per executed query. main wires a
// Prometheus histogram here; the tracer itself stays metrics-agnostic.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

type observerBox struct{ QueryObserver }

var observer atomic.Pointer[observerBox]

// SetQueryObserver installs the process-wide query observer. Passing nil
// removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerBox{QueryObserver: o})
}

func currentObserver() QueryObserver {
	box := observer.Load()
	if box == nil {
		return nil
	}
	return box.QueryObserver
}

// ReqDBStats accumulates query counts and time for one request. Attach
// it with NewReqDBStatsContext before the handler runs; every query the
// tracer sees on that context lands here.
type ReqDBStats struct {
	mu            sync.Mutex
	QueryCount    int
	TotalDuration time.Duration
	ErrorCount    int
}

// AddQuery records one executed query.
func (s *ReqDBStats) AddQuery(dur time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueryCount++
	s.TotalDuration += dur
	if err != nil {
		s.ErrorCount++
	}
}

// Snapshot returns a consistent copy of the counters.
func (s *ReqDBStats) Snapshot() (queries int, total time.Duration, errCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.QueryCount, s.TotalDuration, s.ErrorCount
}

type reqStatsKey struct{}
type httpMethodKey struct{}
type queryInfoKey struct{}

// queryInfo carries what TraceQueryStart saw through to TraceQueryEnd.
type queryInfo struct {
	sql   string
	args  []any
	start time.Time
}

// NewReqDBStatsContext attaches an empty ReqDBStats to the context.
func NewReqDBStatsContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, reqStatsKey{}, &ReqDBStats{})
}

// ReqDBStatsFromContext returns the request's ReqDBStats, if attached.
func ReqDBStatsFromContext(ctx context.Context) (*ReqDBStats, bool) {
	s, ok := ctx.Value(reqStatsKey{}).(*ReqDBStats)
	return s, ok
}

// WithHTTPMethod stashes the HTTP method for query metric labelling.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, httpMethodKey{}, method)
}

func methodLabel(ctx context.Context) string {
	if m, ok := ctx.Value(httpMethodKey{}).(string); ok {
		return m
	}
	return "UNKNOWN"
}

func routeLabel(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

// logQuerySlowerThan suppresses log lines for queries faster than this.
// Zero logs every query. Failed queries are always logged.
const logQuerySlowerThan = 0 * time.Millisecond

// logTracer is a pgx.QueryTracer that logs each query, feeds the
// per-request stats and the observer, and delegates span handling to an
// inner tracer (otelpgx).
type logTracer struct {
	inner pgx.QueryTracer
}

func wrapQueryTracer(inner pgx.QueryTracer) pgx.QueryTracer {
	return logTracer{inner: inner}
}

func (t logTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	info := &queryInfo{sql: data.SQL, args: data.Args, start: time.Now()}

	// The inner tracer opens its span before we annotate the context.
	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	return context.WithValue(ctx, queryInfoKey{}, info)
}

func (t logTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	// Close the span first so its duration excludes our bookkeeping.
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	info, _ := ctx.Value(queryInfoKey{}).(*queryInfo)
	if info == nil {
		info = &queryInfo{}
	}
	var dur time.Duration
	if !info.start.IsZero() {
		dur = time.Since(info.start)
	}

	if s, ok := ReqDBStatsFromContext(ctx); ok {
		s.AddQuery(dur, data.Err)
	}

	if obs := currentObserver(); obs != nil && dur > 0 {
		outcome := "ok"
		if data.Err != nil {
			outcome = "error"
		}
		obs.ObserveQuery(ctx, methodLabel(ctx), routeLabel(ctx), outcome, dur)
	}

	if logQuerySlowerThan > 0 && dur < logQuerySlowerThan && data.Err == nil {
		return
	}

	fields := []any{
		"db.statement", info.sql,
		"db.args", info.args,
		"db.duration", dur.Seconds(),
	}

	if tag := strings.TrimSpace(data.CommandTag.String()); tag != "" {
		if parts := strings.Fields(tag); len(parts) > 0 {
			fields = append(fields, "db.operation.name", strings.ToUpper(parts[0]))
		}
		fields = append(fields, "pg.command_tag", tag)
		if rows := data.CommandTag.RowsAffected(); rows >= 0 {
			fields = append(fields, "db.rows", rows)
		}
	}

	L := log.FromContext(ctx)
	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields,
				"db.error_code", pgErr.Code,
				"db.error_constraint", pgErr.ConstraintName,
			)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Info(ctx, "db query", fields...)
}
