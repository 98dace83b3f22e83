// Package journal persists control loop runs to sqlite: one row per run
// and one per completed cycle. Writes happen on a background goroutine so
// recording never stalls the control loop.
package journal

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/snow.eliminator/internal/control"
	"github.com/banshee-data/snow.eliminator/internal/monitoring"
)

// DefaultQueueSize bounds the number of events waiting to be written.
const DefaultQueueSize = 1024

// pragmas are applied to every pooled connection through the DSN.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

// Journal is an open run journal.
type Journal struct {
	db   *sql.DB
	path string
	logf func(format string, v ...interface{})

	mu      sync.RWMutex // guards closed and sends on events
	closed  bool
	events  chan interface{}
	dropped atomic.Int64
	written chan struct{}
}

// syncEvent is answered by the writer once everything queued before it
// has been written.
type syncEvent struct{ done chan struct{} }

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string) (*Journal, error) {
	return OpenWithQueue(path, DefaultQueueSize)
}

// OpenWithQueue is Open with a custom event queue size.
func OpenWithQueue(path string, queueSize int) (*Journal, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{
		db:      db,
		path:    path,
		logf:    monitoring.Prefixed("[journal]"),
		events:  make(chan interface{}, queueSize),
		written: make(chan struct{}),
	}
	go j.write()
	return j, nil
}

// DB exposes the underlying database for read-only tooling.
func (j *Journal) DB() *sql.DB { return j.db }

// Path returns the database file path.
func (j *Journal) Path() string { return j.path }

// Dropped returns how many events were discarded because the queue was full.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

// enqueue queues ev without blocking. It reports whether ev was queued.
func (j *Journal) enqueue(ev interface{}) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return false
	}
	select {
	case j.events <- ev:
		return true
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logf("⚠️ queue full, %d events dropped", n)
		}
		return false
	}
}

// Sync blocks until every event queued before the call has been written.
func (j *Journal) Sync() {
	done := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return
	}
	j.events <- syncEvent{done: done}
	j.mu.RUnlock()
	<-done
}

// Close flushes queued events and closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.events)
	j.mu.Unlock()

	<-j.written
	return j.db.Close()
}

func (j *Journal) write() {
	defer close(j.written)
	for ev := range j.events {
		var err error
		switch e := ev.(type) {
		case control.RunInfo:
			err = j.insertRun(e)
		case control.CycleReport:
			err = j.insertCycle(e)
		case control.Termination:
			err = j.finishRun(e)
		case syncEvent:
			close(e.done)
		}
		if err != nil {
			j.logf("failed to record %T: %v", ev, err)
		}
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9)).UTC()
}

func (j *Journal) insertRun(info control.RunInfo) error {
	settings, err := json.Marshal(info.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = j.db.Exec(
		`INSERT INTO runs (run_id, started_at, settings_json) VALUES (?, ?, ?)`,
		info.RunID, unixSeconds(info.StartedAt), string(settings),
	)
	return err
}

func (j *Journal) insertCycle(c control.CycleReport) error {
	var decision sql.NullString
	if c.Evaluated {
		decision = sql.NullString{String: c.Decision.String(), Valid: true}
	}
	_, err := j.db.Exec(
		`INSERT INTO cycles (
			run_id, seq, at, proximity, evaluated, decision, drive, heater, sprayer,
			points, valid_points, forward_points, mean_quality, min_forward_mm, mean_forward_mm
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Seq, unixSeconds(c.At), c.Proximity, c.Evaluated, decision,
		c.Command.Drive.String(), c.Command.Heater, c.Command.Sprayer,
		c.Summary.Points, c.Summary.ValidPoints, c.Summary.ForwardPoints,
		c.Summary.MeanQuality, c.Summary.MinForwardDistance, c.Summary.MeanForwardDist,
	)
	return err
}

func (j *Journal) finishRun(t control.Termination) error {
	var errText sql.NullString
	if t.Err != nil {
		errText = sql.NullString{String: t.Err.Error(), Valid: true}
	}
	res, err := j.db.Exec(
		`UPDATE runs SET ended_at = ?, cause = ?, cycles = ?, error = ? WHERE run_id = ?`,
		unixSeconds(t.EndedAt), t.Cause.String(), t.Cycles, errText, t.RunID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.New("run " + t.RunID + " not found")
	}
	return nil
}
