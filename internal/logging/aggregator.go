package logging

import (
	"log/slog"
	"sync"
	"time"
)

// tally accumulates one component/event pair between flushes. Sessions
// fire hook notifications and transcript changes far too often to log
// each one, so we count them and note when the burst started and ended.
type tally struct {
	count int64
	first time.Time
	last  time.Time
	attrs []slog.Attr
}

// Aggregator turns high-frequency traffic into periodic summary records.
// A nil logger makes it a sink that counts and discards.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tallies map[string]*tally

	done chan struct{}
	wg   sync.WaitGroup
}

func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tallies:  make(map[string]*tally),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop. Safe to skip entirely; Stop still works.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go a.run()
}

// Stop halts the flush loop and emits whatever is still pending.
func (a *Aggregator) Stop() {
	close(a.done)
	a.wg.Wait()
	a.flush(time.Now())
}

// Record counts one occurrence of event within component. Attrs from the
// latest call win; they carry context like the session id that triggered
// the burst, not per-occurrence data.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	now := time.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	key := component + "/" + event
	t, ok := a.tallies[key]
	if !ok {
		t = &tally{first: now}
		a.tallies[key] = t
	}
	t.count++
	t.last = now
	if len(fields) > 0 {
		t.attrs = fields
	}
}

func (a *Aggregator) run() {
	defer a.wg.Done()
	tick := time.NewTicker(a.interval)
	defer tick.Stop()

	for {
		select {
		case now := <-tick.C:
			a.flush(now)
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) flush(now time.Time) {
	a.mu.Lock()
	pending := a.tallies
	a.tallies = make(map[string]*tally)
	a.mu.Unlock()

	if a.logger == nil || len(pending) == 0 {
		return
	}

	for key, t := range pending {
		span := t.last.Sub(t.first)
		attrs := []any{
			slog.String("traffic", key),
			slog.Int64("count", t.count),
			slog.Duration("span", span.Round(time.Millisecond)),
			slog.Duration("idle", now.Sub(t.last).Round(time.Millisecond)),
		}
		for _, f := range t.attrs {
			attrs = append(attrs, f)
		}
		a.logger.Info("traffic_summary", attrs...)
	}
}
