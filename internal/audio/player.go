package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/rbright/kiroku/internal/media"
	"github.com/rbright/kiroku/internal/playback"
)

const (
	positionTick    = 100 * time.Millisecond
	playbackLatency = 0.1
)

// Player plays a decoded WAV rendition through one Pulse playback stream.
// It implements playback.Backend.
type Player struct {
	sinkID string

	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.PlaybackStream
	rate    int
	playing bool
	opened  bool

	// pcmMu guards the sample cursor; the Pulse reader callback takes it, so
	// stream calls must never be made while holding it.
	pcmMu   sync.Mutex
	samples []int16
	cursor  int

	events    chan playback.BackendEvent
	stopTick  chan struct{}
	closeOnce sync.Once
}

// NewPlayer returns a player targeting sinkID, or the default sink when empty.
func NewPlayer(sinkID string) *Player {
	p := &Player{
		sinkID:   sinkID,
		events:   make(chan playback.BackendEvent, 32),
		stopTick: make(chan struct{}),
	}
	go p.tickLoop()
	return p
}

func (p *Player) Events() <-chan playback.BackendEvent {
	return p.events
}

// Open decodes path and rewinds to the start. Stereo input is downmixed.
func (p *Player) Open(path string) (int64, error) {
	wav, err := media.ReadWAV(path)
	if err != nil {
		return 0, err
	}
	if wav.SampleRate <= 0 {
		return 0, fmt.Errorf("wav %q has no sample rate", path)
	}
	samples := wav.Mono()

	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.playing = false
	p.rate = wav.SampleRate
	p.opened = true
	p.mu.Unlock()
	if stream != nil {
		stream.Stop()
		stream.Close()
	}

	p.pcmMu.Lock()
	p.samples = samples
	p.cursor = 0
	p.pcmMu.Unlock()

	return int64(len(samples)) * 1000 / int64(wav.SampleRate), nil
}

func (p *Player) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return errors.New("no rendition opened")
	}
	if p.playing {
		return nil
	}
	if p.stream == nil {
		stream, err := p.newStreamLocked()
		if err != nil {
			return &playback.PlaybackError{Recoverable: true, Err: err}
		}
		p.stream = stream
	}
	p.stream.Start()
	p.playing = true
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil && p.playing {
		p.stream.Stop()
	}
	p.playing = false
	return nil
}

func (p *Player) Stop() error {
	if err := p.Pause(); err != nil {
		return err
	}
	p.pcmMu.Lock()
	p.cursor = 0
	p.pcmMu.Unlock()
	return nil
}

func (p *Player) Seek(ms int64) error {
	p.mu.Lock()
	rate := p.rate
	p.mu.Unlock()
	if rate <= 0 {
		return errors.New("no rendition opened")
	}

	p.pcmMu.Lock()
	defer p.pcmMu.Unlock()
	p.cursor = clampCursor(ms*int64(rate)/1000, len(p.samples))
	return nil
}

func (p *Player) Position() int64 {
	p.mu.Lock()
	rate := p.rate
	p.mu.Unlock()
	if rate <= 0 {
		return 0
	}
	p.pcmMu.Lock()
	defer p.pcmMu.Unlock()
	return int64(p.cursor) * 1000 / int64(rate)
}

// Close releases the stream and the Pulse connection.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopTick)

		p.mu.Lock()
		stream, client := p.stream, p.client
		p.stream, p.client = nil, nil
		p.playing = false
		p.mu.Unlock()

		if stream != nil {
			stream.Stop()
			stream.Close()
		}
		if client != nil {
			client.Close()
		}
	})
	return nil
}

func (p *Player) newStreamLocked() (*pulse.PlaybackStream, error) {
	if p.client == nil {
		client, err := newClient()
		if err != nil {
			return nil, err
		}
		p.client = client
	}

	options := []pulse.PlaybackOption{
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(p.rate),
		pulse.PlaybackLatency(playbackLatency),
		pulse.PlaybackMediaName("kiroku review"),
	}
	if p.sinkID != "" {
		sink, err := p.client.SinkByID(p.sinkID)
		if err != nil {
			return nil, fmt.Errorf("resolve sink %q: %w", p.sinkID, err)
		}
		options = append(options, pulse.PlaybackSink(sink))
	}

	stream, err := p.client.NewPlayback(pulse.Int16Reader(p.fill), options...)
	if err != nil {
		// A broken connection is dropped so the next attempt reconnects.
		p.client.Close()
		p.client = nil
		return nil, fmt.Errorf("create pulse playback stream: %w", err)
	}
	return stream, nil
}

// fill is the Pulse reader callback.
func (p *Player) fill(buf []int16) (int, error) {
	p.pcmMu.Lock()
	defer p.pcmMu.Unlock()
	if p.cursor >= len(p.samples) {
		return 0, pulse.EndOfData
	}
	n := copy(buf, p.samples[p.cursor:])
	p.cursor += n
	if p.cursor >= len(p.samples) {
		return n, pulse.EndOfData
	}
	return n, nil
}

func (p *Player) tickLoop() {
	ticker := time.NewTicker(positionTick)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopTick:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Player) tick() {
	p.mu.Lock()
	playing, stream := p.playing, p.stream
	p.mu.Unlock()
	if !playing || stream == nil {
		return
	}

	if err := stream.Error(); err != nil {
		p.mu.Lock()
		if p.stream == stream {
			p.stream = nil
			p.playing = false
		}
		p.mu.Unlock()
		stream.Close()
		p.send(playback.BackendEvent{Kind: playback.BackendError, Err: err, Recoverable: true})
		return
	}

	position := p.Position()
	p.pcmMu.Lock()
	atEnd := len(p.samples) > 0 && p.cursor >= len(p.samples)
	p.pcmMu.Unlock()

	p.sendPosition(position)
	if atEnd {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
		stream.Stop()
		p.send(playback.BackendEvent{Kind: playback.BackendEndOfMedia, PositionMS: position})
	}
}

func (p *Player) sendPosition(ms int64) {
	select {
	case p.events <- playback.BackendEvent{Kind: playback.BackendPosition, PositionMS: ms}:
	default:
	}
}

func (p *Player) send(ev playback.BackendEvent) {
	select {
	case p.events <- ev:
	case <-p.stopTick:
	}
}

func clampCursor(cursor int64, length int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > int64(length) {
		return length
	}
	return int(cursor)
}
