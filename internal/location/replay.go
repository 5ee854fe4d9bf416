package location

import (
	"context"
	"sync"
	"time"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

const defaultBackgroundBatch = 10

// Replay plays a recorded track back as a Source. Foreground and background
// subscriptions share one cursor so switching modes continues the track.
type Replay struct {
	mu        sync.Mutex
	samples   []gps.Sample
	next      int
	speed     float64
	batchSize int
	shift     int64
}

// NewReplay replays samples at speed times real time. speed <= 0 delivers as
// fast as the consumer reads. Timestamps are shifted so the first sample is
// stamped with the current time.
func NewReplay(samples []gps.Sample, speed float64) *Replay {
	r := &Replay{samples: samples, speed: speed, batchSize: defaultBackgroundBatch}
	if len(samples) > 0 && samples[0].HasTimestamp() {
		r.shift = time.Now().UnixMilli() - samples[0].TimestampMs
	}
	return r
}

func (r *Replay) SetBackgroundBatch(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	r.batchSize = n
	r.mu.Unlock()
}

func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples) - r.next
}

func (r *Replay) Subscribe(ctx context.Context, mode Mode) (Subscription, error) {
	ctx, cancel := context.WithCancel(ctx)
	sub := &replaySub{
		ch:     make(chan []gps.Sample),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.play(ctx, mode, sub)
	return sub, nil
}

func (r *Replay) play(ctx context.Context, mode Mode, sub *replaySub) {
	defer close(sub.done)
	defer close(sub.ch)

	prev := int64(0)
	for {
		batch, start := r.take(mode)
		if len(batch) == 0 {
			return
		}
		last := batch[len(batch)-1].TimestampMs
		if wait := r.delay(prev, last); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				r.unread(start, len(batch))
				return
			case <-t.C:
			}
		}
		select {
		case sub.ch <- batch:
			prev = last
		case <-ctx.Done():
			r.unread(start, len(batch))
			return
		}
	}
}

func (r *Replay) take(mode Mode) ([]gps.Sample, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 1
	if mode == ModeBackground {
		n = r.batchSize
	}
	start := r.next
	end := min(start+n, len(r.samples))
	batch := make([]gps.Sample, 0, end-start)
	for _, s := range r.samples[start:end] {
		if s.HasTimestamp() {
			s.TimestampMs += r.shift
		}
		batch = append(batch, s)
	}
	r.next = end
	return batch, start
}

// unread puts back a batch that was never delivered, unless another
// subscription has moved the cursor since.
func (r *Replay) unread(start, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next == start+n {
		r.next = start
	}
}

func (r *Replay) delay(prev, next int64) time.Duration {
	if r.speed <= 0 || prev == 0 || next <= prev {
		return 0
	}
	return time.Duration(float64(next-prev)/r.speed) * time.Millisecond
}

type replaySub struct {
	ch     chan []gps.Sample
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *replaySub) Batches() <-chan []gps.Sample {
	return s.ch
}

func (s *replaySub) Stop() {
	s.cancel()
	<-s.done
}
