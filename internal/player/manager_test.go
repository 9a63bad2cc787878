package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

func TestEnqueuePlaysInOrder(t *testing.T) {
	m, conn := newTestManager(testOpts)

	enqueue(t, m, testGuild, "Song A")
	enqueue(t, m, testGuild, "Song B")

	if n := conn.connects(testGuild); n != 1 {
		t.Fatalf("expected one connect, got %d", n)
	}
	tr := conn.last(testGuild)

	expectStarted(t, tr, "Song A")
	if cur, status, ok := m.NowPlaying(testGuild); !ok || cur.Title != "Song A" || status != StatusPlaying {
		t.Fatalf("now playing = %+v %v %v", cur, status, ok)
	}
	tr.finish(nil)
	expectStarted(t, tr, "Song B")
	tr.finish(nil)

	eventually(t, "queue drained", func() bool {
		_, status, ok := m.NowPlaying(testGuild)
		return !ok && status == StatusIdle && len(m.Queue(testGuild)) == 0
	})
	// back to waiting, not retired
	if m.Peek(testGuild) == nil {
		t.Fatal("session should stay alive while waiting for tracks")
	}
	if _, d := tr.counts(); d != 0 {
		t.Errorf("transport should stay connected, disconnects=%d", d)
	}
}

func TestEnqueueFIFO(t *testing.T) {
	m, conn := newTestManager(testOpts)

	titles := make([]string, 10)
	for i := range titles {
		titles[i] = fmt.Sprintf("track %d", i)
		enqueue(t, m, testGuild, titles[i])
	}

	tr := conn.last(testGuild)
	for _, title := range titles {
		expectStarted(t, tr, title)
		tr.finish(nil)
	}
}

func TestConcurrentEnqueueSingleLoop(t *testing.T) {
	m, conn := newTestManager(testOpts)
	conn.delay = 20 * time.Millisecond

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Enqueue(context.Background(), EnqueueRequest{
				GuildID: testGuild, ChannelID: "voice-1", Query: fmt.Sprintf("q%d", i),
			})
			if err != nil {
				t.Errorf("Enqueue: %v", err)
			}
		}()
	}
	wg.Wait()

	if c := conn.connects(testGuild); c != 1 {
		t.Fatalf("expected exactly one connect, got %d", c)
	}
	if c := m.Count(); c != 1 {
		t.Fatalf("expected one session, got %d", c)
	}

	tr := conn.last(testGuild)
	select {
	case <-tr.started:
	case <-time.After(2 * time.Second):
		t.Fatal("nothing started")
	}
	// only one loop: one track in flight, the rest still queued
	expectNothingStarted(t, tr)
	if q := len(m.Queue(testGuild)); q != n-1 {
		t.Fatalf("expected %d queued, got %d", n-1, q)
	}
}

func TestSkip(t *testing.T) {
	m, conn := newTestManager(testOpts)

	if err := m.Skip(testGuild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("skip without session: expected ErrNothingPlaying, got %v", err)
	}

	enqueue(t, m, testGuild, "A")
	enqueue(t, m, testGuild, "B")
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")

	if err := m.Skip(testGuild); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	expectStarted(t, tr, "B")

	if err := m.Skip(testGuild); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	eventually(t, "idle after last skip", func() bool {
		_, status, ok := m.NowPlaying(testGuild)
		return !ok && status == StatusIdle
	})
	if err := m.Skip(testGuild); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("skip while idle: expected ErrNothingPlaying, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	m, conn := newTestManager(testOpts)

	if err := m.Pause(testGuild); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("pause without session: expected ErrInvalidState, got %v", err)
	}

	enqueue(t, m, testGuild, "A")
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")

	if err := m.Resume(testGuild); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("resume while playing: expected ErrInvalidState, got %v", err)
	}
	if err := m.Pause(testGuild); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, status, _ := m.NowPlaying(testGuild); status != StatusPaused {
		t.Fatalf("expected paused, got %v", status)
	}
	if err := m.Pause(testGuild); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("double pause: expected ErrInvalidState, got %v", err)
	}
	if err := m.Resume(testGuild); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, status, _ := m.NowPlaying(testGuild); status != StatusPlaying {
		t.Fatalf("expected playing, got %v", status)
	}
}

func TestStop(t *testing.T) {
	t.Run("NoSession", func(t *testing.T) {
		m, _ := newTestManager(testOpts)
		if err := m.Stop(testGuild); !errors.Is(err, ErrNoActiveSession) {
			t.Fatalf("expected ErrNoActiveSession, got %v", err)
		}
	})

	t.Run("WhilePlaying", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		enqueue(t, m, testGuild, "A")
		enqueue(t, m, testGuild, "B")
		tr := conn.last(testGuild)
		expectStarted(t, tr, "A")
		s := m.Peek(testGuild)

		if err := m.Stop(testGuild); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		waitClosed(t, s.Done(), "loop exit")

		stops, disconnects := tr.counts()
		if stops != 1 || disconnects != 1 {
			t.Errorf("expected one stop and one disconnect, got %d/%d", stops, disconnects)
		}
		if len(s.Queued()) != 0 {
			t.Error("queue should be empty after stop")
		}
		if m.Peek(testGuild) != nil || m.Count() != 0 {
			t.Error("session should be removed after stop")
		}
		expectNothingStarted(t, tr)
	})

	t.Run("WhilePaused", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		enqueue(t, m, testGuild, "A")
		tr := conn.last(testGuild)
		expectStarted(t, tr, "A")
		if err := m.Pause(testGuild); err != nil {
			t.Fatal(err)
		}
		s := m.Peek(testGuild)

		if err := m.Stop(testGuild); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		waitClosed(t, s.Done(), "loop exit")
		if _, d := tr.counts(); d != 1 {
			t.Errorf("expected one disconnect, got %d", d)
		}
	})

	t.Run("WhileWaiting", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		enqueue(t, m, testGuild, "A")
		tr := conn.last(testGuild)
		expectStarted(t, tr, "A")
		tr.finish(nil)
		eventually(t, "idle", func() bool {
			_, _, ok := m.NowPlaying(testGuild)
			return !ok
		})
		s := m.Peek(testGuild)

		if err := m.Stop(testGuild); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		waitClosed(t, s.Done(), "loop exit")
		if _, d := tr.counts(); d != 1 {
			t.Errorf("expected one disconnect, got %d", d)
		}
	})
}

func TestIdleTimeoutRetiresSession(t *testing.T) {
	m, conn := newTestManager(Options{IdleTimeout: 50 * time.Millisecond, SettleDelay: 5 * time.Millisecond})

	enqueue(t, m, testGuild, "A")
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")
	first := m.Peek(testGuild)
	tr.finish(nil)

	waitClosed(t, first.Done(), "idle exit")
	if _, d := tr.counts(); d != 1 {
		t.Fatalf("expected one disconnect after idle timeout, got %d", d)
	}
	eventually(t, "session removed", func() bool { return m.Count() == 0 })
	if m.Peek(testGuild) != nil {
		t.Fatal("retired session still visible")
	}

	enqueue(t, m, testGuild, "B")
	second := m.Peek(testGuild)
	if second == nil || second.ID() == first.ID() {
		t.Fatal("expected a fresh session after idle timeout")
	}
	if c := conn.connects(testGuild); c != 2 {
		t.Fatalf("expected a second connect, got %d", c)
	}
	expectStarted(t, conn.last(testGuild), "B")
}

func TestEnqueueErrors(t *testing.T) {
	t.Run("CallerNotInVoice", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		_, err := m.Enqueue(context.Background(), EnqueueRequest{GuildID: testGuild, Query: "A"})
		if !errors.Is(err, ErrCallerNotInVoice) {
			t.Fatalf("expected ErrCallerNotInVoice, got %v", err)
		}
		if conn.connects(testGuild) != 0 || m.Count() != 0 {
			t.Error("no session should be created")
		}
	})

	t.Run("ConnectFailure", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		conn.err = errors.New("missing permissions")
		_, err := m.Enqueue(context.Background(), EnqueueRequest{GuildID: testGuild, ChannelID: "voice-1", Query: "A"})
		if !errors.Is(err, ErrConnect) {
			t.Fatalf("expected ErrConnect, got %v", err)
		}
		if m.Count() != 0 {
			t.Errorf("failed connect should not leave a session, count=%d", m.Count())
		}

		conn.mu.Lock()
		conn.err = nil
		conn.mu.Unlock()
		enqueue(t, m, testGuild, "A")
		expectStarted(t, conn.last(testGuild), "A")
	})

	t.Run("ResolveFailureLeavesQueue", func(t *testing.T) {
		m, conn := newTestManager(testOpts)
		enqueue(t, m, testGuild, "A")
		enqueue(t, m, testGuild, "B")
		expectStarted(t, conn.last(testGuild), "A")

		_, err := m.Enqueue(context.Background(), EnqueueRequest{GuildID: testGuild, ChannelID: "voice-1", Query: "bad link"})
		if !errors.Is(err, ErrExtraction) {
			t.Fatalf("expected ErrExtraction, got %v", err)
		}
		q := m.Queue(testGuild)
		if len(q) != 1 || q[0].Title != "B" {
			t.Fatalf("queue changed after failed resolve: %+v", q)
		}
	})
}

func TestPlaybackErrorAdvances(t *testing.T) {
	m, conn := newTestManager(testOpts)
	enqueue(t, m, testGuild, "A")
	enqueue(t, m, testGuild, "B")
	tr := conn.last(testGuild)

	expectStarted(t, tr, "A")
	tr.finish(errors.New("stream reset"))
	expectStarted(t, tr, "B")
}

func TestLostTransportRetiresSession(t *testing.T) {
	m, conn := newTestManager(testOpts)
	enqueue(t, m, testGuild, "A")
	enqueue(t, m, testGuild, "B")
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")
	s := m.Peek(testGuild)

	tr.setConnected(false)
	tr.finish(nil)

	waitClosed(t, s.Done(), "loop exit")
	expectNothingStarted(t, tr)
	eventually(t, "session removed", func() bool { return m.Count() == 0 })
}

func TestVolume(t *testing.T) {
	conn := newFakeConnector()
	settings := &fakeSettings{volumes: map[string]float64{testGuild: 0.3}}
	m := NewManager(conn, fakeResolver{}, settings, testOpts)

	ctx := context.Background()
	if err := m.SetVolume(ctx, testGuild, 0.5); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}

	enqueue(t, m, testGuild, "A")
	enqueue(t, m, testGuild, "B")
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")
	if v := tr.lastSource().Volume; v != 0.3 {
		t.Fatalf("expected guild default volume 0.3, got %v", v)
	}

	for _, bad := range []float64{-0.1, 1.01} {
		if err := m.SetVolume(ctx, testGuild, bad); !errors.Is(err, ErrInvalidVolume) {
			t.Fatalf("SetVolume(%v): expected ErrInvalidVolume, got %v", bad, err)
		}
	}
	if err := m.SetVolume(ctx, testGuild, 0.8); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if v, _ := settings.DefaultVolume(ctx, testGuild); v != 0.8 {
		t.Errorf("volume not persisted, got %v", v)
	}

	tr.finish(nil)
	expectStarted(t, tr, "B")
	if src := tr.lastSource(); src.Volume != 0.8 {
		t.Errorf("next track should use the new volume, got %v", src.Volume)
	}
}

func TestHandleDisconnect(t *testing.T) {
	m, conn := newTestManager(testOpts)
	enqueue(t, m, testGuild, "A")
	expectStarted(t, conn.last(testGuild), "A")
	s := m.Peek(testGuild)

	m.HandleDisconnect(testGuild)
	waitClosed(t, s.Done(), "loop exit")
	if m.Count() != 0 {
		t.Fatalf("expected no sessions, got %d", m.Count())
	}
	m.HandleDisconnect("unknown-guild")
}

func TestShutdown(t *testing.T) {
	m, conn := newTestManager(testOpts)
	enqueue(t, m, "g1", "A")
	enqueue(t, m, "g2", "B")
	expectStarted(t, conn.last("g1"), "A")
	expectStarted(t, conn.last("g2"), "B")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, g := range []string{"g1", "g2"} {
		if _, d := conn.last(g).counts(); d != 1 {
			t.Errorf("%s: expected one disconnect, got %d", g, d)
		}
	}
	if m.Count() != 0 {
		t.Errorf("expected no sessions, got %d", m.Count())
	}
}

func TestGuildsAreIndependent(t *testing.T) {
	m, conn := newTestManager(testOpts)
	enqueue(t, m, "g1", "A")
	enqueue(t, m, "g2", "B")
	expectStarted(t, conn.last("g1"), "A")
	expectStarted(t, conn.last("g2"), "B")

	if err := m.Stop("g1"); err != nil {
		t.Fatal(err)
	}
	if _, status, ok := m.NowPlaying("g2"); !ok || status != StatusPlaying {
		t.Fatalf("stopping g1 affected g2: %v %v", status, ok)
	}
}

func TestEnqueueAfterStopDuringResolve(t *testing.T) {
	conn := newFakeConnector()
	res := newGatedResolver()
	m := NewManager(conn, res, &fakeSettings{}, testOpts)

	type result struct {
		song Song
		err  error
	}
	out := make(chan result, 1)
	go func() {
		song, err := m.Enqueue(context.Background(), EnqueueRequest{GuildID: testGuild, ChannelID: "voice-1", Query: "A"})
		out <- result{song, err}
	}()

	<-res.entered
	first := m.Peek(testGuild)
	if first == nil {
		t.Fatal("expected a live session while resolving")
	}
	if err := m.Stop(testGuild); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(res.release)

	var r result
	select {
	case r = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue never returned")
	}
	if r.err != nil || r.song.Title != "A" {
		t.Fatalf("Enqueue = %+v, %v", r.song, r.err)
	}

	s := m.Peek(testGuild)
	if s == nil || s.ID() == first.ID() {
		t.Fatal("song should land on a fresh session")
	}
	if n := conn.connects(testGuild); n != 2 {
		t.Fatalf("expected two connects, got %d", n)
	}
	if _, d := conn.nth(testGuild, 0).counts(); d != 1 {
		t.Errorf("stopped transport: expected one disconnect, got %d", d)
	}
	expectStarted(t, conn.last(testGuild), "A")
}

func TestStopDuringConnect(t *testing.T) {
	m, conn := newTestManager(testOpts)
	conn.delay = 100 * time.Millisecond

	errc := make(chan error, 1)
	go func() {
		_, err := m.Enqueue(context.Background(), EnqueueRequest{GuildID: testGuild, ChannelID: "voice-1", Query: "A"})
		errc <- err
	}()

	select {
	case <-conn.dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("connect never began")
	}
	first := m.Peek(testGuild)
	if first == nil {
		t.Fatal("expected a live session while connecting")
	}
	if err := m.Stop(testGuild); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitClosed(t, first.Done(), "retired session")

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue never returned")
	}

	if n := conn.connects(testGuild); n != 2 {
		t.Fatalf("expected a second connect for the fresh session, got %d", n)
	}
	late := conn.nth(testGuild, 0)
	if stops, d := late.counts(); d != 1 || stops != 0 {
		t.Errorf("late transport: expected one disconnect and no stop, got %d/%d", stops, d)
	}
	if late.IsConnected() {
		t.Error("late transport should be disconnected")
	}
	expectNothingStarted(t, late)

	if s := m.Peek(testGuild); s == nil || s.ID() == first.ID() {
		t.Fatal("expected a fresh session after the aborted join")
	}
	expectStarted(t, conn.last(testGuild), "A")
}

type headerResolver struct{}

func (headerResolver) Resolve(_ context.Context, q string) (stream.Track, error) {
	return stream.Track{
		Title:     q,
		StreamURL: "https://stream/" + q,
		Headers:   map[string]string{"Referer": "https://origin/" + q},
	}, nil
}

func TestEnqueueCarriesStreamHeaders(t *testing.T) {
	conn := newFakeConnector()
	m := NewManager(conn, headerResolver{}, &fakeSettings{}, testOpts)

	song := enqueue(t, m, testGuild, "A")
	if song.Headers["Referer"] != "https://origin/A" {
		t.Fatalf("song lost its headers: %+v", song)
	}
	tr := conn.last(testGuild)
	expectStarted(t, tr, "A")
	if got := tr.lastSource().Headers["Referer"]; got != "https://origin/A" {
		t.Errorf("source headers = %q", got)
	}
}
