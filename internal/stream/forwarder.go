package stream

import (
	"io"
	"net/http"
	"sync"
)

// Forwarder writes frames to w from its own goroutine through an unbounded
// queue, so producers never block on a slow or absent reader. Frames are
// written in push order. After the first write error the remaining frames
// are dropped.
type Forwarder struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	err    error
	done   chan struct{}
}

func NewForwarder(w io.Writer) *Forwarder {
	f := &Forwarder{w: w, done: make(chan struct{})}
	f.flusher, _ = w.(http.Flusher)
	f.cond = sync.NewCond(&f.mu)
	go f.run()
	return f
}

// Push enqueues a frame. It never blocks on the writer.
func (f *Forwarder) Push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.queue = append(f.queue, frame)
	f.cond.Signal()
}

// Close stops accepting frames, waits until the queue is drained and
// returns the first write error.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.cond.Signal()
	f.mu.Unlock()

	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Forwarder) run() {
	defer close(f.done)
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 && f.closed {
			f.mu.Unlock()
			return
		}
		batch := f.queue
		f.queue = nil
		failed := f.err != nil
		f.mu.Unlock()

		if failed {
			continue
		}
		for _, frame := range batch {
			if _, err := f.w.Write(frame); err != nil {
				f.mu.Lock()
				f.err = err
				f.mu.Unlock()
				break
			}
		}
		if f.flusher != nil {
			f.flusher.Flush()
		}
	}
}
