package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/sonroyaalmerol/kumaplay/internal/utils"
)

const (
	sampleRate    = 48000
	channels      = 2
	frameSamples  = 960 // 20 ms per channel at 48 kHz
	pcmFrameBytes = frameSamples * channels * 2
)

// pcmStream demuxes and decodes the best audio stream of a URL and exposes
// it as interleaved s16le stereo PCM at 48 kHz.
type pcmStream struct {
	fc     *astiav.FormatContext
	st     *astiav.Stream
	dec    *astiav.CodecContext
	swr    *astiav.SoftwareResampleContext
	src    *astiav.Frame
	dst    *astiav.Frame
	pkt    *astiav.Packet
	pr     *io.PipeReader
	pw     *io.PipeWriter
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// inputDictionary turns "-key value" input options into demuxer/protocol
// options and adds browser-like HTTP headers.
func inputDictionary(src Source) (*astiav.Dictionary, error) {
	opts, err := ParseOptions(src.BeforeOptions)
	if err != nil {
		return nil, err
	}
	dict := astiav.NewDictionary()
	for _, o := range opts {
		if err := dict.Set(o.Key, o.Value, 0); err != nil {
			dict.Free()
			return nil, fmt.Errorf("set input option %s: %w", o.Key, err)
		}
	}
	if err := dict.Set("headers", utils.BuildFFmpegHeaders(src.Headers), 0); err != nil {
		slog.Debug("http headers not applied", "url", src.URL, "err", err)
	}
	return dict, nil
}

func checkOutputOptions(src Source) error {
	opts, err := ParseOptions(src.Options)
	if err != nil {
		return err
	}
	for _, o := range opts {
		switch o.Key {
		case "vn":
			// only the audio stream is ever decoded
		default:
			slog.Debug("ignoring output option", "option", o.Key, "value", o.Value)
		}
	}
	return nil
}

func openPCM(ctx context.Context, src Source) (*pcmStream, error) {
	if err := checkOutputOptions(src); err != nil {
		return nil, err
	}
	dict, err := inputDictionary(src)
	if err != nil {
		return nil, err
	}
	defer dict.Free()

	p := &pcmStream{done: make(chan struct{})}
	ok := false
	defer func() {
		if !ok {
			p.free()
		}
	}()

	if p.fc = astiav.AllocFormatContext(); p.fc == nil {
		return nil, errors.New("alloc format context")
	}
	if err := p.fc.OpenInput(src.URL, nil, dict); err != nil {
		p.fc.Free()
		p.fc = nil
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := p.fc.FindStreamInfo(nil); err != nil {
		return nil, fmt.Errorf("find stream info: %w", err)
	}

	st, codec, err := p.fc.FindBestStream(astiav.MediaTypeAudio, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("find audio stream: %w", err)
	}
	if st == nil || codec == nil {
		return nil, errors.New("no audio stream")
	}
	p.st = st

	if p.dec = astiav.AllocCodecContext(codec); p.dec == nil {
		return nil, errors.New("alloc decoder")
	}
	if err := st.CodecParameters().ToCodecContext(p.dec); err != nil {
		return nil, fmt.Errorf("decoder params: %w", err)
	}
	p.dec.SetTimeBase(st.TimeBase())
	if err := p.dec.Open(codec, nil); err != nil {
		return nil, fmt.Errorf("open decoder: %w", err)
	}

	if p.swr = astiav.AllocSoftwareResampleContext(); p.swr == nil {
		return nil, errors.New("alloc resampler")
	}
	p.src = astiav.AllocFrame()
	p.dst = astiav.AllocFrame()
	p.pkt = astiav.AllocPacket()
	if p.src == nil || p.dst == nil || p.pkt == nil {
		return nil, errors.New("alloc frames")
	}

	ok = true
	p.pr, p.pw = io.Pipe()
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
	return p, nil
}

func (p *pcmStream) Read(b []byte) (int, error) { return p.pr.Read(b) }

// Close stops decoding and releases the ffmpeg contexts once the decode
// goroutine is gone.
func (p *pcmStream) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		_ = p.pr.Close()
		<-p.done
		p.free()
	})
	return nil
}

func (p *pcmStream) free() {
	if p.pkt != nil {
		p.pkt.Free()
	}
	if p.src != nil {
		p.src.Free()
	}
	if p.dst != nil {
		p.dst.Free()
	}
	if p.swr != nil {
		p.swr.Free()
	}
	if p.dec != nil {
		p.dec.Free()
	}
	if p.fc != nil {
		p.fc.CloseInput()
		p.fc.Free()
	}
}

func (p *pcmStream) run(ctx context.Context) {
	defer close(p.done)
	p.pw.CloseWithError(p.decode(ctx))
}

// decode returns nil at end of input, which the reader sees as io.EOF.
func (p *pcmStream) decode(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		p.pkt.Unref()
		if err := p.fc.ReadFrame(p.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				if err := p.dec.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
					return fmt.Errorf("flush decoder: %w", err)
				}
				return p.drain()
			}
			if errors.Is(err, astiav.ErrEagain) {
				continue
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if p.pkt.StreamIndex() != p.st.Index() {
			continue
		}

		if err := p.dec.SendPacket(p.pkt); err != nil && !errors.Is(err, astiav.ErrEagain) {
			return fmt.Errorf("send packet: %w", err)
		}
		if err := p.drain(); err != nil {
			return err
		}
	}
}

// drain writes every frame the decoder has ready.
func (p *pcmStream) drain() error {
	for {
		p.src.Unref()
		if err := p.dec.ReceiveFrame(p.src); err != nil {
			if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
				return nil
			}
			return fmt.Errorf("receive frame: %w", err)
		}
		if err := p.writeFrame(); err != nil {
			return err
		}
	}
}

func (p *pcmStream) writeFrame() error {
	in := p.src.NbSamples()
	if in <= 0 || p.src.SampleRate() <= 0 {
		return nil
	}
	out := int(astiav.RescaleQ(int64(in), astiav.NewRational(1, p.src.SampleRate()), astiav.NewRational(1, sampleRate)))
	// headroom for samples the resampler carries over between frames
	out += 32

	p.dst.Unref()
	p.dst.SetChannelLayout(astiav.ChannelLayoutStereo)
	p.dst.SetSampleFormat(astiav.SampleFormatS16)
	p.dst.SetSampleRate(sampleRate)
	p.dst.SetNbSamples(out)
	if err := p.dst.AllocBuffer(0); err != nil {
		return fmt.Errorf("alloc pcm buffer: %w", err)
	}
	if err := p.swr.ConvertFrame(p.src, p.dst); err != nil {
		return fmt.Errorf("resample: %w", err)
	}

	n := p.dst.NbSamples() * channels * 2
	if n <= 0 {
		return nil
	}
	data, err := p.dst.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("pcm bytes: %w", err)
	}
	if n > len(data) {
		n = len(data)
	}
	_, err = p.pw.Write(data[:n])
	return err
}
