package location

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
)

// Batch is a foreground delivery tagged with the subscription generation it
// came from. Consumers drop batches whose generation is no longer current.
type Batch struct {
	Gen     uint64
	Samples []gps.Sample
}

type running struct {
	sub  Subscription
	quit chan struct{}
	done chan struct{}
}

func (r *running) stop() {
	close(r.quit)
	r.sub.Stop()
	<-r.done
}

// Coordinator owns the foreground and background subscriptions. Its methods
// are meant to be called from a single goroutine (the session loop); the
// forwarders it starts run on their own.
type Coordinator struct {
	source         Source
	task           *BackgroundTask
	store          *buffer.Store
	keepBackground bool
	out            chan<- Batch

	gen        uint64
	mode       Mode
	fg         *running
	bg         *running
	foreground atomic.Bool
}

// NewCoordinator delivers foreground batches to out. With keepBackground the
// background subscription survives foregrounding, but its batches are ignored
// while the foreground one is live.
func NewCoordinator(source Source, task *BackgroundTask, store *buffer.Store, out chan<- Batch, keepBackground bool) *Coordinator {
	return &Coordinator{
		source:         source,
		task:           task,
		store:          store,
		keepBackground: keepBackground,
		out:            out,
	}
}

func (c *Coordinator) Generation() uint64 {
	return c.gen
}

func (c *Coordinator) Mode() Mode {
	return c.mode
}

func (c *Coordinator) Foreground() bool {
	return c.fg != nil
}

func (c *Coordinator) Background() bool {
	return c.bg != nil
}

// StartForeground opens the foreground subscription if it is not already
// running.
func (c *Coordinator) StartForeground(ctx context.Context) error {
	c.mode = ModeForeground
	if c.fg != nil {
		return nil
	}
	sub, err := c.source.Subscribe(ctx, ModeForeground)
	if err != nil {
		return fmt.Errorf("foreground subscribe: %w", err)
	}
	c.gen++
	r := &running{sub: sub, quit: make(chan struct{}), done: make(chan struct{})}
	c.fg = r
	c.foreground.Store(true)
	go c.forward(r, c.gen)
	return nil
}

// ToBackground makes sure a background subscription exists before the
// foreground one is torn down. If the background one cannot be opened the
// foreground subscription is left running.
func (c *Coordinator) ToBackground(ctx context.Context) error {
	if err := c.ensureBackground(ctx); err != nil {
		return err
	}
	c.stopForeground()
	c.mode = ModeBackground
	return nil
}

// ToForeground stops background acquisition (unless it is kept alive),
// reconciles the background buffer and restarts foreground acquisition. The
// reconciled points are returned even when the foreground restart fails.
func (c *Coordinator) ToForeground(ctx context.Context) (buffer.Reconciled, error) {
	if !c.keepBackground {
		c.stopBackground()
	}
	c.foreground.Store(true)

	rec, err := buffer.Reconcile(ctx, c.store)
	if err != nil {
		log.Printf("reconcile error: %v", err)
	}
	if err := c.StartForeground(ctx); err != nil {
		return rec, err
	}
	return rec, nil
}

// Stop tears down both subscriptions and waits for their forwarders.
func (c *Coordinator) Stop() {
	c.stopForeground()
	c.stopBackground()
}

func (c *Coordinator) ensureBackground(ctx context.Context) error {
	if c.bg != nil {
		c.foreground.Store(false)
		return nil
	}
	sub, err := c.source.Subscribe(ctx, ModeBackground)
	if err != nil {
		return fmt.Errorf("background subscribe: %w", err)
	}
	r := &running{sub: sub, quit: make(chan struct{}), done: make(chan struct{})}
	c.bg = r
	c.foreground.Store(false)
	go c.process(r)
	return nil
}

func (c *Coordinator) stopForeground() {
	if c.fg == nil {
		return
	}
	c.fg.stop()
	c.fg = nil
}

func (c *Coordinator) stopBackground() {
	if c.bg == nil {
		return
	}
	c.bg.stop()
	c.bg = nil
}

func (c *Coordinator) forward(r *running, gen uint64) {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			return
		case samples, ok := <-r.sub.Batches():
			if !ok {
				return
			}
			select {
			case c.out <- Batch{Gen: gen, Samples: samples}:
			case <-r.quit:
				return
			}
		}
	}
}

// process runs background batches to completion; stopping waits for the one in
// progress so reconciliation never sees a half-written buffer.
func (c *Coordinator) process(r *running) {
	defer close(r.done)
	ctx := context.Background()
	for {
		select {
		case <-r.quit:
			return
		case samples, ok := <-r.sub.Batches():
			if !ok {
				return
			}
			if c.foreground.Load() {
				continue
			}
			if _, err := c.task.Process(ctx, samples); err != nil {
				log.Printf("background batch error: %v", err)
			}
		}
	}
}
