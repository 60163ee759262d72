package postgres

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

type ctxKey string

const ctxKeyHTTPMethod ctxKey = "http.method"

var queryObserver atomic.Pointer[observerHolder]

type observerHolder struct{ QueryObserver }

// QueryObserver receives per-query timings (wired by main for Prometheus).
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a plain function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

// SetQueryObserver installs the process-wide observer. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		queryObserver.Store(nil)
		return
	}
	queryObserver.Store(&observerHolder{QueryObserver: o})
}

// WithHTTPMethod records the inbound HTTP method so query metrics can be labelled by it.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyHTTPMethod, method)
}

func observe(ctx context.Context, dur time.Duration, err error) {
	h := queryObserver.Load()
	if h == nil || dur <= 0 {
		return
	}
	method, _ := ctx.Value(ctxKeyHTTPMethod).(string)
	if method == "" {
		method = "UNKNOWN"
	}
	route := "unknown"
	if rc := chi.RouteContext(ctx); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.ObserveQuery(ctx, method, route, outcome, dur)
}
