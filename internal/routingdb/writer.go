package routingdb

import (
	"database/sql"
	"log/slog"
	"sync"
)

// writer serialises all mutations through one goroutine so WAL mode
// never sees competing writers. Jobs are closures; errors are logged,
// not returned, because stats recording must never fail a request.
type writer struct {
	jobs chan func(db *sql.DB) error
	done chan struct{}
	once sync.Once
}

const writerQueueDepth = 256

func newWriter(db *sql.DB) *writer {
	w := &writer{
		jobs: make(chan func(db *sql.DB) error, writerQueueDepth),
		done: make(chan struct{}),
	}
	go func() {
		defer close(w.done)
		for job := range w.jobs {
			if err := job(db); err != nil {
				slog.Error("routing db write failed", "err", err)
			}
		}
	}()
	return w
}

// submit enqueues a write, blocking when the queue is full so bursts
// apply backpressure rather than dropping rows.
func (w *writer) submit(job func(db *sql.DB) error) {
	select {
	case <-w.done:
	default:
		w.jobs <- job
	}
}

// submitWait enqueues a write and blocks until it has been applied.
// Used where read-your-write matters (prefs updates).
func (w *writer) submitWait(job func(db *sql.DB) error) error {
	errCh := make(chan error, 1)
	w.submit(func(db *sql.DB) error {
		err := job(db)
		errCh <- err
		return err
	})
	return <-errCh
}

func (w *writer) stop() {
	w.once.Do(func() {
		close(w.jobs)
		<-w.done
	})
}
