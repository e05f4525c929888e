// Package ledger is an optional, pure-Go (cgo-free, via
// modernc.org/sqlite) write-behind log of compile attempts. It is
// never consulted on the hot compile path — only written to, and
// asynchronously at that — so a slow or unavailable disk can never
// slow down or fail a compile. Enabled via ME_DSL_JIT_LEDGER.
package ledger

import (
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"medsl/internal/dsltypes"
)

const schema = `
CREATE TABLE IF NOT EXISTS compile_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cache_key TEXT NOT NULL,
	ir_fingerprint TEXT NOT NULL,
	outcome TEXT NOT NULL,
	failure_class TEXT NOT NULL,
	backend TEXT NOT NULL,
	duration_ns INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_compile_events_key ON compile_events(cache_key);
`

// Event is one row appended to the ledger.
type Event struct {
	CacheKey      uint64
	IRFingerprint uint64
	Outcome       string // "compiled" or "failed"
	FailureClass  dsltypes.FailureClass
	Backend       string
	Duration      time.Duration
	RecordedAt    time.Time
}

// Ledger wraps a *sql.DB plus an unbuffered-enough async write queue.
type Ledger struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
}

// Open opens (creating if needed) the SQLite database at path and
// starts its background writer goroutine.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply ledger schema")
	}
	l := &Ledger{db: db, events: make(chan Event, 256), done: make(chan struct{})}
	go l.run()
	return l, nil
}

func (l *Ledger) run() {
	defer close(l.done)
	stmt, err := l.db.Prepare(`INSERT INTO compile_events
		(cache_key, ir_fingerprint, outcome, failure_class, backend, duration_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return
	}
	defer stmt.Close()
	for ev := range l.events {
		stmt.Exec(
			keyHex(ev.CacheKey), keyHex(ev.IRFingerprint), ev.Outcome, ev.FailureClass.String(),
			ev.Backend, ev.Duration.Nanoseconds(), ev.RecordedAt.Unix(),
		)
	}
}

func keyHex(k uint64) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hexdigits[k&0xf]
		k >>= 4
	}
	return string(b)
}

// Record enqueues ev for asynchronous persistence. Never blocks for
// long: if the internal queue is full the event is dropped rather
// than backing up the caller's compile path.
func (l *Ledger) Record(ev Event) {
	select {
	case l.events <- ev:
	default:
	}
}

// Query returns every recorded event for cacheKey, most recent first.
func (l *Ledger) Query(cacheKey uint64) ([]Event, error) {
	rows, err := l.db.Query(`SELECT ir_fingerprint, outcome, failure_class, backend, duration_ns, recorded_at
		FROM compile_events WHERE cache_key = ? ORDER BY id DESC`, keyHex(cacheKey))
	if err != nil {
		return nil, errors.Wrap(err, "query ledger")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var fpHex, outcome, class, backend string
		var durNs, recAt int64
		if err := rows.Scan(&fpHex, &outcome, &class, &backend, &durNs, &recAt); err != nil {
			return nil, errors.Wrap(err, "scan ledger row")
		}
		fp, _ := strconv.ParseUint(fpHex, 16, 64)
		fc := dsltypes.FailureUnclassified
		for c := dsltypes.FailureNone; c <= dsltypes.FailureUnclassified; c++ {
			if c.String() == class {
				fc = c
				break
			}
		}
		out = append(out, Event{
			CacheKey:      cacheKey,
			IRFingerprint: fp,
			Outcome:       outcome,
			FailureClass:  fc,
			Backend:       backend,
			Duration:      time.Duration(durNs),
			RecordedAt:    time.Unix(recAt, 0),
		})
	}
	return out, rows.Err()
}

// Close stops the writer goroutine and closes the database.
func (l *Ledger) Close() error {
	close(l.events)
	<-l.done
	return l.db.Close()
}
