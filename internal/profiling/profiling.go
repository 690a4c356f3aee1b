// Package profiling exposes Go runtime diagnostics for the agent. The
// pprof handlers mount on the existing metrics mux rather than a
// separate listener, so one loopback port serves both concerns.
package profiling

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"
)

// Register mounts the standard pprof handlers under /debug/pprof/.
func Register(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// RuntimeSnapshot is a point-in-time view of the Go runtime, logged
// periodically so long-running agents leave a memory trail in the logs.
type RuntimeSnapshot struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapObjects uint64
	NumGC       uint32
	Timestamp   time.Time
}

// Snapshot reads current runtime statistics.
func Snapshot() RuntimeSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return RuntimeSnapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   m.HeapAlloc,
		HeapObjects: m.HeapObjects,
		NumGC:       m.NumGC,
		Timestamp:   time.Now(),
	}
}
