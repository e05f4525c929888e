// Package diag provides the human-readable stderr tracing gated by
// ME_DSL_TRACE, in the same spirit as the teacher's CLI output: short
// prefixed lines, no structured logging framework.
package diag

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Event is one structured trace occurrence, mirrored to stderr as a
// human-readable line and, when a Sink is attached, fanned out as JSON
// to internal/traceserver's websocket feed.
type Event struct {
	Kind     string    `json:"kind"`
	Key      string    `json:"key,omitempty"`
	Class    string    `json:"class,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Duration string    `json:"duration,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives every Event a Tracer produces, regardless of whether
// stderr tracing itself is enabled — the live feed is independent of
// ME_DSL_TRACE (§4.10 of the originating spec).
type Sink interface {
	Publish(Event)
}

// Tracer emits "[jit] ..." lines to an output writer when enabled, and
// optionally republishes every event to an attached Sink.
type Tracer struct {
	enabled bool
	out     io.Writer
	tty     bool
	sink    Sink
}

// SetSink attaches (or, passed nil, detaches) a Sink. Safe to call at
// any point in the Tracer's lifetime; not safe to call concurrently
// with trace-emitting methods (set it once at startup).
func (t *Tracer) SetSink(sink Sink) {
	t.sink = sink
}

func (t *Tracer) publish(kind string, key uint64, class, reason string, dur time.Duration) {
	if t == nil || t.sink == nil {
		return
	}
	ev := Event{Kind: kind, Class: class, Reason: reason, Time: time.Now()}
	if key != 0 {
		ev.Key = fmt.Sprintf("%016x", key)
	}
	if dur != 0 {
		ev.Duration = dur.String()
	}
	t.sink.Publish(ev)
}

// New builds a Tracer writing to w, active only when enabled is true.
func New(enabled bool, w io.Writer) *Tracer {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Tracer{enabled: enabled, out: w, tty: tty}
}

// NewStderr is the common case: trace to os.Stderr when enabled.
func NewStderr(enabled bool) *Tracer {
	return New(enabled, os.Stderr)
}

// Enabled reports whether this tracer actually writes anything.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Tracer) Printf(format string, args ...interface{}) {
	if !t.Enabled() {
		return
	}
	fmt.Fprintf(t.out, "[jit] "+format+"\n", args...)
}

// CacheHit logs a positive-cache hit.
func (t *Tracer) CacheHit(key uint64) {
	t.Printf("cache hit key=%016x", key)
	t.publish("cache_hit", key, "", "", 0)
}

// CacheMiss logs falling through a cache tier.
func (t *Tracer) CacheMiss(tier string, key uint64) {
	t.Printf("%s miss key=%016x", tier, key)
	t.publish("cache_miss", key, "", tier, 0)
}

// Cooldown logs a negative-cache short-circuit, with a humanized
// duration the way a person reads it ("9 seconds") rather than raw
// nanoseconds.
func (t *Tracer) Cooldown(key uint64, class string, remaining time.Duration) {
	t.Printf("key=%016x short-circuited by negative cache (%s), retry in %s", key, class, humanize.RelTime(time.Now(), time.Now().Add(remaining), "", ""))
	t.publish("cooldown", key, class, "", remaining)
}

// ArtifactWritten logs a successful disk-artifact write with a
// humanized byte size.
func (t *Tracer) ArtifactWritten(key uint64, path string, size int64) {
	t.Printf("wrote artifact key=%016x path=%s size=%s", key, path, humanize.Bytes(uint64(size)))
	t.publish("artifact_written", key, "", path, 0)
}

// CompileFailed logs a classified compile failure.
func (t *Tracer) CompileFailed(key uint64, class string, err error) {
	t.Printf("compile failed key=%016x class=%s err=%v", key, class, err)
	t.publish("compile_failed", key, class, err.Error(), 0)
}

// Fallback logs a kernel execution failure falling back to the
// interpreter for the remainder of a block.
func (t *Tracer) Fallback(key uint64, reason string) {
	t.Printf("key=%016x falling back to interpreter: %s", key, reason)
	t.publish("fallback", key, "", reason, 0)
}
