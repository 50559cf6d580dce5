// Package stats keeps the hub's counters and serves them as JSON on
// /debug/vars.
package stats

import (
	"expvar"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const pendingUpdates = 512

type Recorder interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// Registry applies counter updates on its own goroutine so callers on the
// hub's hot path never contend on the counters.
type Registry struct {
	log     zerolog.Logger
	vars    *expvar.Map
	updates chan delta
	done    chan struct{}
}

type delta struct {
	name string
	n    int64
}

func NewRegistry(mux *http.ServeMux, logger zerolog.Logger) *Registry {
	reg := &Registry{
		log:     logger.With().Str("component", "stats").Logger(),
		vars:    new(expvar.Map).Init(),
		updates: make(chan delta, pendingUpdates),
		done:    make(chan struct{}),
	}

	started := time.Now()
	reg.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(started).Milliseconds()
	}))
	mux.Handle("GET /debug/vars", reg)

	return reg
}

// ServeHTTP writes every counter under a single "roomsync" key.
func (reg *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if _, err := fmt.Fprintf(w, "{%q: %s}\n", "roomsync", reg.vars.String()); err != nil {
		reg.log.Debug().Err(err).Msg("write stats")
	}
}

func (reg *Registry) RegisterMetric(name string) {
	reg.vars.Set(name, new(expvar.Int))
}

func (reg *Registry) Incr(name string) {
	reg.updates <- delta{name: name, n: 1}
}

func (reg *Registry) Decr(name string) {
	reg.updates <- delta{name: name, n: -1}
}

// Value reads a counter. Unknown names read as zero.
func (reg *Registry) Value(name string) int64 {
	if counter, ok := reg.vars.Get(name).(*expvar.Int); ok {
		return counter.Value()
	}
	return 0
}

func (reg *Registry) Run() {
	go func() {
		defer close(reg.done)
		for d := range reg.updates {
			reg.apply(d)
		}
	}()
}

func (reg *Registry) apply(d delta) {
	counter, ok := reg.vars.Get(d.name).(*expvar.Int)
	if !ok {
		reg.log.Warn().Str("metric", d.name).Msg("update of unregistered metric")
		return
	}
	counter.Add(d.n)
}

// Stop applies the updates already queued and stops the registry.
func (reg *Registry) Stop() {
	close(reg.updates)
	<-reg.done
}
