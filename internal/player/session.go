package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

const (
	DefaultIdleTimeout = 300 * time.Second
	DefaultSettleDelay = 200 * time.Millisecond
	DefaultVolume      = 0.5
)

type Options struct {
	// IdleTimeout is how long the loop waits on an empty queue before it
	// leaves voice and retires the session.
	IdleTimeout time.Duration
	// SettleDelay is the pause between a completion and the next dequeue, so a
	// transport that briefly still reports "playing" is not re-polled hot.
	SettleDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	return o
}

// Session is one guild's playback state plus its player loop.
//
// All fields under mu are shared between the loop goroutine and control
// calls. running only ever goes true -> false; once false the session is
// retired and the registry replaces it on the next enqueue.
type Session struct {
	id      string
	guildID string
	opts    Options
	log     *slog.Logger
	onExit  func(*Session)

	// connectMu serializes the first connect so concurrent enqueues join once.
	connectMu sync.Mutex

	mu          sync.Mutex
	queue       *songQueue
	current     *Song
	transport   Transport
	volume      float64
	running     bool
	loopStarted bool

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newSession(guildID string, volume float64, opts Options, onExit func(*Session)) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		guildID: guildID,
		opts:    opts.withDefaults(),
		log:     slog.With("guildID", guildID, "session", id),
		onExit:  onExit,
		queue:   newSongQueue(),
		volume:  clampVolume(volume),
		running: true,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string      { return s.id }
func (s *Session) GuildID() string { return s.guildID }

// Done is closed once the player loop has exited (or the session was retired
// before a loop was ever started).
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// attach connects the session to channelID if it has no transport yet and
// starts the player loop. It is a no-op for an already connected session.
func (s *Session) attach(ctx context.Context, c Connector, channelID string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.transport != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	tr, err := c.Connect(ctx, s.guildID, channelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	if tr == nil {
		return fmt.Errorf("%w: connector returned no transport", ErrConnect)
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		// stopped while we were joining
		if err := tr.Disconnect(); err != nil {
			s.log.Warn("disconnect after aborted join failed", "err", err)
		}
		return errSessionClosed
	}
	s.transport = tr
	start := !s.loopStarted
	s.loopStarted = true
	s.mu.Unlock()

	s.log.Info("joined voice", "channelID", channelID)
	if start {
		go s.run()
	}
	return nil
}

func (s *Session) push(song Song) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0, errSessionClosed
	}
	return s.queue.push(song), nil
}

func (s *Session) skip() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.transport == nil || !s.transport.IsPlaying() {
		return ErrNothingPlaying
	}
	// Stop fires the completion callback, which advances the loop.
	s.transport.Stop()
	return nil
}

func (s *Session) pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.transport == nil || !s.transport.IsPlaying() {
		return ErrInvalidState
	}
	s.transport.Pause()
	return nil
}

func (s *Session) resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.transport == nil || !s.transport.IsPaused() {
		return ErrInvalidState
	}
	s.transport.Resume()
	return nil
}

func (s *Session) setVolume(v float64) {
	s.mu.Lock()
	s.volume = clampVolume(v)
	s.mu.Unlock()
}

func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Current returns the track loaded into the transport, if any.
func (s *Session) Current() (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Song{}, false
	}
	return *s.current, true
}

func (s *Session) Queued() []Song {
	return s.queue.list()
}

func (s *Session) Status() PlayerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.transport == nil || s.current == nil:
		return StatusIdle
	case s.transport.IsPaused():
		return StatusPaused
	case s.transport.IsPlaying():
		return StatusPlaying
	default:
		return StatusIdle
	}
}

// stop empties the queue, halts playback, disconnects and retires the
// session. It acts directly on the transport, whatever state the loop is in;
// the loop only notices through stopCh and exits on its own.
func (s *Session) stop() {
	s.mu.Lock()
	s.running = false
	s.queue.clear()
	s.current = nil
	tr := s.transport
	s.transport = nil
	if !s.loopStarted {
		s.loopStarted = true
		close(s.done)
	}
	s.mu.Unlock()

	s.closeStop()
	if tr == nil {
		return
	}
	if tr.IsPlaying() || tr.IsPaused() {
		tr.Stop()
	}
	if tr.IsConnected() {
		if err := tr.Disconnect(); err != nil {
			s.log.Warn("voice disconnect failed", "err", err)
		}
	}
	s.log.Info("session stopped")
}

func (s *Session) closeStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the player loop: WaitingForTrack -> Loading -> Playing -> (settle)
// -> WaitingForTrack, until stop, idle timeout or a lost transport.
func (s *Session) run() {
	defer close(s.done)
	defer func() {
		if s.onExit != nil {
			s.onExit(s)
		}
	}()
	s.log.Debug("player loop started")
	defer s.log.Debug("player loop exited")

	for s.isRunning() {
		song, err := s.queue.pop(s.stopCh, s.opts.IdleTimeout)
		if err != nil {
			if errors.Is(err, errIdleTimeout) && !s.retireIdle() {
				// a song slipped in as the timer fired
				continue
			}
			return
		}

		if !s.playOne(song) {
			return
		}

		select {
		case <-time.After(s.opts.SettleDelay):
		case <-s.stopCh:
			return
		}
	}
}

// retireIdle handles the idle timeout. It reports false if the queue turned
// out to be non-empty, in which case the loop keeps going.
func (s *Session) retireIdle() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	if s.queue.len() > 0 {
		s.mu.Unlock()
		return false
	}
	s.running = false
	tr := s.transport
	s.transport = nil
	s.mu.Unlock()

	s.closeStop()
	s.log.Info("idle timeout, leaving voice", "after", s.opts.IdleTimeout)
	if tr != nil && tr.IsConnected() {
		if err := tr.Disconnect(); err != nil {
			s.log.Warn("voice disconnect failed", "err", err)
		}
	}
	return true
}

// playOne loads song into the transport and waits for its completion. It
// returns false when the loop must exit.
func (s *Session) playOne(song Song) bool {
	// advance signal for this track only; a late callback from an earlier
	// track lands in its own channel and is never read
	completed := make(chan error, 1)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.current = &song
	tr := s.transport
	if tr == nil || !tr.IsConnected() {
		// the loop never reconnects; a later enqueue builds a fresh session
		s.running = false
		s.current = nil
		s.transport = nil
		s.mu.Unlock()
		s.closeStop()
		s.log.Warn("voice transport lost, stopping player loop", "title", song.Title)
		return false
	}
	src := stream.NewSource(song.StreamURL, s.volume)
	src.Headers = song.Headers
	tr.Play(src, func(err error) {
		select {
		case completed <- err:
		default:
		}
	})
	s.mu.Unlock()

	s.log.Info("now playing", "title", song.Title, "requester", song.Requester)

	select {
	case err := <-completed:
		if err != nil {
			s.log.Warn("playback error", "title", song.Title, "err", err)
		} else {
			s.log.Debug("track finished", "title", song.Title)
		}
	case <-s.stopCh:
	}

	s.mu.Lock()
	s.current = nil
	running := s.running
	s.mu.Unlock()
	return running
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
