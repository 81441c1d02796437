// Package tally counts events per kind over a bounded collection window.
package tally

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRunning is returned when RunFor is called while another window is active.
var ErrRunning = errors.New("collection window already running")

// Collector accumulates per-kind counters. Record is safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	counts map[uint64]uint64
	total  uint64

	running atomic.Bool
}

// New creates an empty collector
func New() *Collector {
	return &Collector{
		counts: make(map[uint64]uint64),
	}
}

// Record increments the counter for kind, creating it at 1 if absent.
func (c *Collector) Record(kind uint64) {
	c.mu.Lock()
	c.counts[kind]++
	c.total++
	c.mu.Unlock()
}

// Total returns the number of Record calls observed so far.
func (c *Collector) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Snapshot returns a consistent copy of all counters in ascending kind order.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	snap := make(Snapshot, 0, len(c.counts))
	for kind, n := range c.counts {
		snap = append(snap, Entry{Kind: kind, Count: n})
	}
	c.mu.Unlock()

	snap.Sort()
	return snap
}

// RunFor consumes src until d elapses or src is exhausted, recording every
// event item. Timeout is a normal termination. A failure item aborts the
// window and its error is returned unchanged with a nil snapshot.
func (c *Collector) RunFor(d time.Duration, src Source) (Snapshot, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}
	defer c.running.Store(false)

	timer := time.NewTimer(d)
	defer timer.Stop()

	items := src.Items()
	for {
		select {
		case <-timer.C:
			log.Debug().Dur("window", d).Uint64("total", c.Total()).Msg("Collection window expired")
			return c.Snapshot(), nil

		case item, ok := <-items:
			if !ok {
				log.Debug().Uint64("total", c.Total()).Msg("Event source exhausted")
				return c.Snapshot(), nil
			}

			switch item.Type {
			case ItemEvent:
				c.Record(item.Kind)
			case ItemFailure:
				return nil, item.Err
			default:
				log.Trace().Str("item", item.String()).Msg("Skipping non-event item")
			}
		}
	}
}
