package player

import (
	"errors"
	"slices"
	"sync"
	"time"
)

var (
	errIdleTimeout = errors.New("idle timeout")
	errStopped     = errors.New("stopped")
)

// songQueue is an unbounded FIFO with a blocking, bounded-wait pop. notify is
// a single-slot wake-up: any number of pushes between two pops collapse into
// one pending signal, and pop re-checks the slice after every wake.
type songQueue struct {
	mu     sync.Mutex
	items  []Song
	notify chan struct{}
}

func newSongQueue() *songQueue {
	return &songQueue{notify: make(chan struct{}, 1)}
}

func (q *songQueue) push(s Song) int {
	q.mu.Lock()
	q.items = append(q.items, s)
	n := len(q.items)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return n
}

func (q *songQueue) tryPop() (Song, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Song{}, false
	}
	s := q.items[0]
	q.items[0] = Song{}
	q.items = q.items[1:]
	return s, true
}

// pop waits up to timeout for the next song. It returns errStopped as soon as
// done is closed and errIdleTimeout when the window passes with nothing queued.
func (q *songQueue) pop(done <-chan struct{}, timeout time.Duration) (Song, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return Song{}, errStopped
		default:
		}
		if s, ok := q.tryPop(); ok {
			return s, nil
		}
		select {
		case <-q.notify:
		case <-done:
			return Song{}, errStopped
		case <-timer.C:
			return Song{}, errIdleTimeout
		}
	}
}

func (q *songQueue) clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()

	select {
	case <-q.notify:
	default:
	}
}

func (q *songQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *songQueue) list() []Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}
