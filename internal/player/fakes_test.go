package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sonroyaalmerol/kumaplay/internal/stream"
)

type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	playing     bool
	paused      bool
	onComplete  func(error)
	sources     []stream.Source
	stops       int
	disconnects int

	started chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, started: make(chan string, 64)}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing && !f.paused
}

func (f *fakeTransport) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing && f.paused
}

func (f *fakeTransport) Play(src stream.Source, onComplete func(error)) {
	f.mu.Lock()
	f.playing = true
	f.paused = false
	f.onComplete = onComplete
	f.sources = append(f.sources, src)
	f.mu.Unlock()
	f.started <- src.URL
}

func (f *fakeTransport) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeTransport) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeTransport) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.finish(nil)
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

// finish ends the current track as if the stream ran out (or failed).
func (f *fakeTransport) finish(err error) {
	f.mu.Lock()
	cb := f.onComplete
	f.onComplete = nil
	f.playing = false
	f.paused = false
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) counts() (stops, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops, f.disconnects
}

func (f *fakeTransport) lastSource() stream.Source {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sources[len(f.sources)-1]
}

type fakeConnector struct {
	mu         sync.Mutex
	delay      time.Duration
	err        error
	transports map[string][]*fakeTransport

	// dialing receives the guild ID as each Connect begins
	dialing chan string
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{transports: make(map[string][]*fakeTransport), dialing: make(chan string, 16)}
}

func (c *fakeConnector) Connect(ctx context.Context, guildID, channelID string) (Transport, error) {
	select {
	case c.dialing <- guildID:
	default:
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	tr := newFakeTransport()
	c.transports[guildID] = append(c.transports[guildID], tr)
	return tr, nil
}

func (c *fakeConnector) connects(guildID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transports[guildID])
}

func (c *fakeConnector) nth(guildID string, i int) *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transports[guildID][i]
}

func (c *fakeConnector) last(guildID string) *fakeTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	trs := c.transports[guildID]
	if len(trs) == 0 {
		return nil
	}
	return trs[len(trs)-1]
}

// fakeResolver maps a query to a track whose URL is "https://stream/<query>".
// Queries starting with "bad" fail extraction.
type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, q string) (stream.Track, error) {
	if strings.HasPrefix(q, "bad") {
		return stream.Track{}, errors.Join(stream.ErrExtraction, errors.New("video unavailable"))
	}
	return stream.Track{Title: q, StreamURL: "https://stream/" + q}, nil
}

// gatedResolver blocks every Resolve until release is closed.
type gatedResolver struct {
	entered chan string
	release chan struct{}
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{entered: make(chan string, 16), release: make(chan struct{})}
}

func (r *gatedResolver) Resolve(ctx context.Context, q string) (stream.Track, error) {
	r.entered <- q
	select {
	case <-r.release:
	case <-ctx.Done():
		return stream.Track{}, ctx.Err()
	}
	return fakeResolver{}.Resolve(ctx, q)
}

type fakeSettings struct {
	mu      sync.Mutex
	volumes map[string]float64
}

func (f *fakeSettings) DefaultVolume(_ context.Context, guildID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.volumes[guildID]; ok {
		return v, nil
	}
	return DefaultVolume, nil
}

func (f *fakeSettings) SetDefaultVolume(_ context.Context, guildID string, v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.volumes == nil {
		f.volumes = make(map[string]float64)
	}
	f.volumes[guildID] = v
	return nil
}

const testGuild = "guild-1"

var testOpts = Options{IdleTimeout: time.Minute, SettleDelay: 5 * time.Millisecond}

func newTestManager(opts Options) (*Manager, *fakeConnector) {
	conn := newFakeConnector()
	return NewManager(conn, fakeResolver{}, &fakeSettings{}, opts), conn
}

func enqueue(t *testing.T, m *Manager, guildID, query string) Song {
	t.Helper()
	song, err := m.Enqueue(context.Background(), EnqueueRequest{
		GuildID:   guildID,
		ChannelID: "voice-1",
		Requester: "alice",
		Query:     query,
	})
	if err != nil {
		t.Fatalf("Enqueue(%q): %v", query, err)
	}
	return song
}

func expectStarted(t *testing.T, tr *fakeTransport, want string) {
	t.Helper()
	select {
	case got := <-tr.started:
		if got != "https://stream/"+want {
			t.Fatalf("expected %q to start, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("%q never started", want)
	}
}

func expectNothingStarted(t *testing.T, tr *fakeTransport) {
	t.Helper()
	select {
	case got := <-tr.started:
		t.Fatalf("unexpected playback of %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}
