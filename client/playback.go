package client

import (
	"sync"
	"time"
)

// Sink consumes scheduled PCM buffers. Implementations write them to an
// actual audio device honoring the start times; NopSink discards them for
// headless use.
type Sink interface {
	// Play starts the buffer at the given wall-clock time.
	Play(samples []float32, rate int, start time.Time)
	// Stop cuts anything currently sounding.
	Stop()
}

// NopSink discards audio. Scheduling bookkeeping still runs so completion
// events fire at realistic times.
type NopSink struct{}

func (NopSink) Play([]float32, int, time.Time) {}
func (NopSink) Stop()                          {}

// Interval is one scheduled playback window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Player schedules incoming audio buffers back to back so chunked delivery
// sounds like one continuous utterance. Each buffer starts at the later of
// "now" and the previous buffer's end, so there is never a gap or an overlap.
type Player struct {
	sink       Sink
	now        func() time.Time
	onComplete func()

	mu      sync.Mutex
	gen     int // bumped on Interrupt to invalidate outstanding timers
	lastEnd time.Time
	active  int
}

// NewPlayer creates a player over the given sink. onComplete fires when the
// queue is empty and nothing is still sounding; it may fire multiple times
// across a session (once per drained burst).
func NewPlayer(sink Sink, onComplete func()) *Player {
	if sink == nil {
		sink = NopSink{}
	}
	return &Player{
		sink:       sink,
		now:        time.Now,
		onComplete: onComplete,
	}
}

// Enqueue schedules one buffer and returns its playback interval.
func (p *Player) Enqueue(samples []float32, rate int) Interval {
	if rate <= 0 || len(samples) == 0 {
		return Interval{}
	}
	duration := time.Duration(float64(len(samples)) / float64(rate) * float64(time.Second))

	p.mu.Lock()
	start := p.now()
	if p.lastEnd.After(start) {
		start = p.lastEnd
	}
	end := start.Add(duration)
	p.lastEnd = end
	p.active++
	gen := p.gen
	p.mu.Unlock()

	p.sink.Play(samples, rate, start)

	time.AfterFunc(end.Sub(p.now()), func() {
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		p.active--
		drained := p.active == 0
		p.mu.Unlock()

		if drained && p.onComplete != nil {
			p.onComplete()
		}
	})

	return Interval{Start: start, End: end}
}

// Playing reports whether any buffer is queued or still sounding.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active > 0
}

// Interrupt clears the queue and stops anything sounding. Buffers already
// handed to the sink are cut; their completion timers are invalidated.
func (p *Player) Interrupt() {
	p.mu.Lock()
	p.gen++
	p.active = 0
	p.lastEnd = time.Time{}
	p.mu.Unlock()

	p.sink.Stop()
}
