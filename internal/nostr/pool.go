package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/kindtally/internal/eventbus"
	"github.com/dokzlo13/kindtally/internal/tally"
)

// ErrNoRelays is returned when a pool is created without relays
var ErrNoRelays = errors.New("no relays configured")

// Pool subscribes to several relays at once and exposes their events as a
// single tally.Source. Events delivered by more than one relay are counted once.
// A pool serves a single window: once its source closes it cannot be restarted.
type Pool struct {
	relays []*Relay
	bus    *eventbus.Bus

	out       chan tally.Item
	startOnce sync.Once

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewPool creates a pool over relays. A nil bus disables status publishing.
func NewPool(relays []*Relay, bus *eventbus.Bus) (*Pool, error) {
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}
	return &Pool{
		relays: relays,
		bus:    bus,
		out:    make(chan tally.Item),
		seen:   make(map[string]struct{}),
	}, nil
}

// Items implements tally.Source. The channel closes once every relay has stopped.
func (p *Pool) Items() <-chan tally.Item {
	return p.out
}

// Relays returns the relay addresses in the pool
func (p *Pool) Relays() []string {
	urls := make([]string, len(p.relays))
	for i, r := range p.relays {
		urls[i] = r.URL()
	}
	return urls
}

// Start runs every relay in the background until ctx is done. Cancelling ctx
// closes the source. If every relay gives up, a failure item carrying all
// relay errors is delivered before the source closes. Only the first call
// has any effect.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() { p.start(ctx) })
}

func (p *Pool) start(ctx context.Context) {
	var (
		g      errgroup.Group
		errMu  sync.Mutex
		failed []error
	)

	for _, r := range p.relays {
		g.Go(func() error {
			err := r.Run(ctx, func(n Notification) { p.handle(ctx, n) })
			if err != nil {
				p.publish(eventbus.Event{Type: eventbus.EventTypeFailed, Relay: r.URL(), Err: err})
				errMu.Lock()
				failed = append(failed, err)
				errMu.Unlock()
			}
			return err
		})
	}

	go func() {
		defer close(p.out)

		if err := g.Wait(); err != nil && len(failed) == len(p.relays) {
			p.send(ctx, tally.Failure(fmt.Errorf("all relays failed: %w", errors.Join(failed...))))
		}
		log.Debug().Int("relays", len(p.relays)).Msg("Relay pool stopped")
	}()
}

func (p *Pool) handle(ctx context.Context, n Notification) {
	switch n.Type {
	case NotificationEvent:
		if !p.firstSighting(n.Event.ID) {
			p.send(ctx, tally.Other("duplicate event "+n.Event.ID+" from "+n.Relay))
			return
		}
		p.send(ctx, tally.Event(uint64(n.Event.Kind)))

	case NotificationConnected:
		p.publish(eventbus.Event{Type: eventbus.EventTypeConnected, Relay: n.Relay})

	case NotificationDisconnected:
		p.publish(eventbus.Event{Type: eventbus.EventTypeDisconnected, Relay: n.Relay, Err: n.Err})

	case NotificationEOSE:
		p.publish(eventbus.Event{Type: eventbus.EventTypeEOSE, Relay: n.Relay})
		p.send(ctx, tally.Other("end of stored events from "+n.Relay))

	case NotificationNotice:
		p.publish(eventbus.Event{Type: eventbus.EventTypeNotice, Relay: n.Relay, Message: n.Message})
		p.send(ctx, tally.Other("notice from "+n.Relay+": "+n.Message))

	case NotificationClosed:
		p.publish(eventbus.Event{Type: eventbus.EventTypeClosed, Relay: n.Relay, Message: n.Message})
		p.send(ctx, tally.Other("subscription closed by "+n.Relay))

	case NotificationMalformed:
		log.Debug().Err(n.Err).Str("relay", n.Relay).Msg("Skipping malformed frame")
		p.send(ctx, tally.Other("malformed frame from "+n.Relay))

	default:
		p.send(ctx, tally.Other(n.Type.String()+" from "+n.Relay+": "+n.Message))
	}
}

// firstSighting records id and reports whether it had not been seen before
func (p *Pool) firstSighting(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.seen[id]; ok {
		return false
	}
	p.seen[id] = struct{}{}
	return true
}

func (p *Pool) send(ctx context.Context, item tally.Item) {
	select {
	case p.out <- item:
	case <-ctx.Done():
	}
}

func (p *Pool) publish(event eventbus.Event) {
	if p.bus != nil {
		p.bus.Publish(event)
	}
}
