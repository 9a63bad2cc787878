package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// opusSink is the part of a discord voice connection the transport drives.
type opusSink interface {
	Ready() bool
	Speaking(bool)
	Send(ctx context.Context, pkt []byte) error
	Disconnect() error
}

type frameEncoder interface {
	Encode(pcm []byte, onPacket opusPacketHandler) error
	Flush(onPacket opusPacketHandler) error
	Close()
}

// VoiceTransport plays one Source at a time into a voice connection.
type VoiceTransport struct {
	sink       opusSink
	openPCM    func(ctx context.Context, src Source) (io.ReadCloser, error)
	newEncoder func() (frameEncoder, error)
	bufPackets int

	mu      sync.Mutex
	gen     uint64
	playing bool
	paused  bool
	resume  chan struct{}
	cancel  context.CancelFunc
	ended   chan struct{}
}

func newVoiceTransport(sink opusSink) *VoiceTransport {
	return &VoiceTransport{
		sink: sink,
		openPCM: func(ctx context.Context, src Source) (io.ReadCloser, error) {
			return openPCM(ctx, src)
		},
		newEncoder: func() (frameEncoder, error) { return newOpusEncoder() },
		bufPackets: 50,
	}
}

func (t *VoiceTransport) IsConnected() bool { return t.sink.Ready() }

func (t *VoiceTransport) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing && !t.paused
}

func (t *VoiceTransport) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing && t.paused
}

// Play starts src in the background, replacing whatever was playing.
// onComplete runs exactly once: nil after the end of the stream or Stop, the
// failure otherwise.
func (t *VoiceTransport) Play(src Source, onComplete func(error)) {
	t.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	ended := make(chan struct{})

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.playing = true
	t.paused = false
	t.cancel = cancel
	t.ended = ended
	t.mu.Unlock()

	go func() {
		defer close(ended)
		err := t.playback(ctx, src)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		cancel()

		t.mu.Lock()
		if t.gen == gen {
			t.playing = false
			t.paused = false
			t.cancel = nil
		}
		t.mu.Unlock()

		if onComplete != nil {
			onComplete(err)
		}
	}()
}

func (t *VoiceTransport) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing || t.paused {
		return
	}
	t.paused = true
	t.resume = make(chan struct{})
}

func (t *VoiceTransport) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.playing || !t.paused {
		return
	}
	t.paused = false
	close(t.resume)
}

// Stop ends the current playback and waits for its completion callback.
func (t *VoiceTransport) Stop() {
	t.mu.Lock()
	cancel, ended := t.cancel, t.ended
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-ended
}

func (t *VoiceTransport) Disconnect() error {
	t.Stop()
	return t.sink.Disconnect()
}

// waitResumed blocks while paused.
func (t *VoiceTransport) waitResumed(ctx context.Context) error {
	t.mu.Lock()
	paused, ch := t.paused, t.resume
	t.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *VoiceTransport) playback(ctx context.Context, src Source) error {
	pcm, err := t.openPCM(ctx, src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer pcm.Close()

	enc, err := t.newEncoder()
	if err != nil {
		return err
	}
	defer enc.Close()

	buf := newOpusBuffer(t.bufPackets)
	defer buf.Close()

	encErr := make(chan error, 1)
	go func() {
		encErr <- encodeInto(ctx, NewVolumeReader(pcm, src.Volume), enc, buf)
	}()

	sendErr := t.send(ctx, buf)
	buf.Close()
	err = <-encErr
	if sendErr != nil {
		return sendErr
	}
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

// encodeInto reads 20 ms PCM frames, encodes them and fills buf until the
// source ends. A short final frame is padded with silence.
func encodeInto(ctx context.Context, r io.Reader, enc frameEncoder, buf *opusBuffer) error {
	defer buf.MarkEOS()

	push := func(pkt []byte) error {
		if !buf.Push(pkt) {
			return context.Canceled
		}
		return nil
	}

	frame := make([]byte, pcmFrameBytes)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := io.ReadFull(r, frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			clear(frame[n:])
			err = nil
		}
		if err != nil {
			return fmt.Errorf("read pcm: %w", err)
		}
		if err := enc.Encode(frame, push); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return fmt.Errorf("encode: %w", err)
		}
		if n < pcmFrameBytes {
			break
		}
	}
	if err := enc.Flush(push); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

func (t *VoiceTransport) send(ctx context.Context, buf *opusBuffer) error {
	t.sink.Speaking(true)
	defer t.sink.Speaking(false)

	for {
		if err := t.waitResumed(ctx); err != nil {
			return err
		}
		pkt, ok := buf.Pop()
		if !ok {
			return ctx.Err()
		}
		if err := t.sink.Send(ctx, pkt); err != nil {
			return err
		}
	}
}

// discordSink adapts a discordgo voice connection.
type discordSink struct {
	vc *discordgo.VoiceConnection
}

func (d discordSink) Ready() bool {
	d.vc.RLock()
	defer d.vc.RUnlock()
	return d.vc.Ready
}

func (d discordSink) Speaking(b bool) {
	if err := d.vc.Speaking(b); err != nil {
		slog.Debug("voice speaking update failed", "guildID", d.vc.GuildID, "err", err)
	}
}

func (d discordSink) Send(ctx context.Context, pkt []byte) error {
	select {
	case d.vc.OpusSend <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("opus send timeout")
	}
}

func (d discordSink) Disconnect() error {
	return d.vc.Disconnect()
}

// DiscordConnector joins voice channels over a bot session.
type DiscordConnector struct {
	Session *discordgo.Session
	// ReadyTimeout bounds the wait for the voice connection to become usable.
	ReadyTimeout time.Duration
}

func (c *DiscordConnector) Connect(ctx context.Context, guildID, channelID string) (*VoiceTransport, error) {
	vc, err := c.Session.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("join voice channel: %w", err)
	}

	timeout := c.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sink := discordSink{vc: vc}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for !sink.Ready() {
		select {
		case <-ctx.Done():
			_ = vc.Disconnect()
			return nil, fmt.Errorf("voice connection not ready: %w", ctx.Err())
		case <-tick.C:
		}
	}
	return newVoiceTransport(sink), nil
}
