package location

import (
	"context"
	"sync"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// Feed is an in-memory Source whose samples are pushed by the caller. It backs
// simulators and tests.
type Feed struct {
	mu     sync.Mutex
	subs   map[Mode]*feedSub
	denied map[Mode]bool
	opened map[Mode]int
}

func NewFeed() *Feed {
	return &Feed{
		subs:   map[Mode]*feedSub{},
		denied: map[Mode]bool{},
		opened: map[Mode]int{},
	}
}

// Deny makes future subscriptions for mode fail with ErrPermissionDenied.
func (f *Feed) Deny(mode Mode, denied bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[mode] = denied
}

func (f *Feed) Subscribe(_ context.Context, mode Mode) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[mode] {
		return nil, ErrPermissionDenied
	}
	if old := f.subs[mode]; old != nil {
		old.stop()
	}
	sub := &feedSub{
		feed: f,
		mode: mode,
		ch:   make(chan []gps.Sample),
		quit: make(chan struct{}),
	}
	f.subs[mode] = sub
	f.opened[mode]++
	return sub, nil
}

// Push delivers one batch to the active subscription for mode. It blocks until
// the batch is taken and reports false when nobody is subscribed.
func (f *Feed) Push(mode Mode, batch ...gps.Sample) bool {
	f.mu.Lock()
	sub := f.subs[mode]
	f.mu.Unlock()
	if sub == nil {
		return false
	}
	select {
	case sub.ch <- batch:
		return true
	case <-sub.quit:
		return false
	}
}

func (f *Feed) Active(mode Mode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[mode] != nil
}

func (f *Feed) Opened(mode Mode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened[mode]
}

type feedSub struct {
	feed *Feed
	mode Mode
	ch   chan []gps.Sample
	quit chan struct{}
	once sync.Once
}

func (s *feedSub) Batches() <-chan []gps.Sample {
	return s.ch
}

func (s *feedSub) Stop() {
	s.feed.mu.Lock()
	if s.feed.subs[s.mode] == s {
		delete(s.feed.subs, s.mode)
	}
	s.feed.mu.Unlock()
	s.stop()
}

func (s *feedSub) stop() {
	s.once.Do(func() { close(s.quit) })
}
