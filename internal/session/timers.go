package session

import "time"

// timers are the four session tickers. They start and stop together.
type timers struct {
	duration *time.Ticker
	sync     *time.Ticker
	persist  *time.Ticker
	signal   *time.Ticker
}

func startTimers(cfg Config) *timers {
	return &timers{
		duration: time.NewTicker(durationTick),
		sync:     time.NewTicker(cfg.SyncInterval),
		persist:  time.NewTicker(cfg.PersistInterval),
		signal:   time.NewTicker(cfg.SignalCheckInterval),
	}
}

func (tm *timers) stop() {
	if tm == nil {
		return
	}
	tm.duration.Stop()
	tm.sync.Stop()
	tm.persist.Stop()
	tm.signal.Stop()
}

// channels returns nil channels when no timers run, so a select on them blocks.
func (tm *timers) channels() (duration, sync, persist, signal <-chan time.Time) {
	if tm == nil {
		return nil, nil, nil, nil
	}
	return tm.duration.C, tm.sync.C, tm.persist.C, tm.signal.C
}
