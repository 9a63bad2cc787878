package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Manager is the process-wide session registry and the control surface the
// command handlers call into. Sessions are created lazily by Enqueue, one per
// guild; a retired session is replaced, never revived.
type Manager struct {
	sessions  sync.Map // guildID -> *Session
	count     atomic.Int64
	connector Connector
	resolver  Resolver
	settings  SettingsStore
	opts      Options
}

func NewManager(connector Connector, resolver Resolver, settings SettingsStore, opts Options) *Manager {
	return &Manager{
		connector: connector,
		resolver:  resolver,
		settings:  settings,
		opts:      opts.withDefaults(),
	}
}

type EnqueueRequest struct {
	GuildID string
	// ChannelID is the voice channel the caller currently occupies; empty
	// when the caller is not in voice.
	ChannelID string
	Requester string
	Query     string
}

// Peek returns the guild's live session, or nil.
func (m *Manager) Peek(guildID string) *Session {
	v, ok := m.sessions.Load(guildID)
	if !ok {
		return nil
	}
	s := v.(*Session)
	if !s.alive() {
		return nil
	}
	return s
}

// Count reports how many sessions are registered.
func (m *Manager) Count() int {
	return int(m.count.Load())
}

func (m *Manager) getOrCreate(ctx context.Context, guildID string) *Session {
	var fresh *Session
	for {
		v, ok := m.sessions.Load(guildID)
		if ok {
			cur := v.(*Session)
			if cur.alive() {
				return cur
			}
			if fresh == nil {
				fresh = m.newSession(ctx, guildID)
			}
			if m.sessions.CompareAndSwap(guildID, cur, fresh) {
				slog.Debug("replaced retired session", "guildID", guildID, "old", cur.id, "new", fresh.id)
				return fresh
			}
			continue
		}

		if fresh == nil {
			fresh = m.newSession(ctx, guildID)
		}
		if _, loaded := m.sessions.LoadOrStore(guildID, fresh); !loaded {
			m.count.Add(1)
			slog.Debug("created session", "guildID", guildID, "session", fresh.id)
			return fresh
		}
	}
}

func (m *Manager) newSession(ctx context.Context, guildID string) *Session {
	vol := DefaultVolume
	if m.settings != nil {
		v, err := m.settings.DefaultVolume(ctx, guildID)
		if err != nil {
			slog.Warn("load default volume failed", "guildID", guildID, "err", err)
		} else {
			vol = v
		}
	}
	return newSession(guildID, vol, m.opts, m.forget)
}

// forget drops s from the registry if it is still the registered session.
func (m *Manager) forget(s *Session) {
	if m.sessions.CompareAndDelete(s.guildID, s) {
		m.count.Add(-1)
	}
}

func (m *Manager) attach(ctx context.Context, req EnqueueRequest) (*Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		s := m.getOrCreate(ctx, req.GuildID)
		err := s.attach(ctx, m.connector, req.ChannelID)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, errSessionClosed):
			continue
		case errors.Is(err, ErrConnect):
			s.mu.Lock()
			unused := !s.loopStarted
			s.mu.Unlock()
			if unused {
				s.stop()
				m.forget(s)
			}
			return nil, err
		default:
			return nil, err
		}
	}
	return nil, ErrNoActiveSession
}

// Enqueue connects to the caller's channel if needed, resolves the query and
// appends the song. A resolve failure leaves the queue untouched.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (Song, error) {
	if req.ChannelID == "" {
		return Song{}, ErrCallerNotInVoice
	}

	s, err := m.attach(ctx, req)
	if err != nil {
		slog.Warn("voice connect failed", "guildID", req.GuildID, "channelID", req.ChannelID, "err", err)
		return Song{}, err
	}

	track, err := m.resolver.Resolve(ctx, req.Query)
	if err != nil {
		slog.Debug("resolve query failed", "guildID", req.GuildID, "query", req.Query, "err", err)
		return Song{}, err
	}

	song := Song{Title: track.Title, StreamURL: track.StreamURL, Headers: track.Headers, Requester: req.Requester}
	n, err := s.push(song)
	if errors.Is(err, errSessionClosed) {
		// retired while we were resolving; start over on a fresh session
		if s, err = m.attach(ctx, req); err != nil {
			return Song{}, err
		}
		n, err = s.push(song)
	}
	if err != nil {
		return Song{}, err
	}

	slog.Info("enqueued song", "guildID", req.GuildID, "session", s.id, "title", song.Title, "position", n)
	return song, nil
}

func (m *Manager) Skip(guildID string) error {
	s := m.Peek(guildID)
	if s == nil {
		return ErrNothingPlaying
	}
	return s.skip()
}

func (m *Manager) Pause(guildID string) error {
	s := m.Peek(guildID)
	if s == nil {
		return ErrInvalidState
	}
	return s.pause()
}

func (m *Manager) Resume(guildID string) error {
	s := m.Peek(guildID)
	if s == nil {
		return ErrInvalidState
	}
	return s.resume()
}

func (m *Manager) Stop(guildID string) error {
	s := m.Peek(guildID)
	if s == nil {
		return ErrNoActiveSession
	}
	s.stop()
	m.forget(s)
	return nil
}

// SetVolume changes the volume for tracks started from now on and stores it
// as the guild default.
func (m *Manager) SetVolume(ctx context.Context, guildID string, volume float64) error {
	if volume < 0 || volume > 1 {
		return ErrInvalidVolume
	}
	s := m.Peek(guildID)
	if s == nil {
		return ErrNoActiveSession
	}
	s.setVolume(volume)
	if m.settings != nil {
		if err := m.settings.SetDefaultVolume(ctx, guildID, volume); err != nil {
			slog.Warn("persist default volume failed", "guildID", guildID, "err", err)
		}
	}
	return nil
}

// NowPlaying returns the current track and the transport state.
func (m *Manager) NowPlaying(guildID string) (Song, PlayerStatus, bool) {
	s := m.Peek(guildID)
	if s == nil {
		return Song{}, StatusIdle, false
	}
	cur, ok := s.Current()
	return cur, s.Status(), ok
}

// Volume reports the guild's current playback volume, or the default when it
// has no session.
func (m *Manager) Volume(guildID string) float64 {
	s := m.Peek(guildID)
	if s == nil {
		return DefaultVolume
	}
	return s.Volume()
}

func (m *Manager) Queue(guildID string) []Song {
	s := m.Peek(guildID)
	if s == nil {
		return nil
	}
	return s.Queued()
}

// HandleDisconnect retires the guild's session after the transport reported
// that the bot left voice.
func (m *Manager) HandleDisconnect(guildID string) {
	s := m.Peek(guildID)
	if s == nil {
		return
	}
	slog.Info("voice disconnected externally", "guildID", guildID, "session", s.id)
	s.stop()
	m.forget(s)
}

// Shutdown stops every session and waits for their loops to exit or ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	var all []*Session
	m.sessions.Range(func(_, v any) bool {
		all = append(all, v.(*Session))
		return true
	})
	for _, s := range all {
		s.stop()
		m.forget(s)
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
