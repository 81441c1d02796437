package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kindtally/internal/eventbus"
)

// Relay states reported by RelayTracker
const (
	RelayStateConnecting   = "connecting"
	RelayStateConnected    = "connected"
	RelayStateDisconnected = "disconnected"
	RelayStateFailed       = "failed"
)

// RelayState is the last known status of one relay
type RelayState struct {
	Relay      string    `json:"relay"`
	State      string    `json:"state"`
	Since      time.Time `json:"since"`
	StoredDone bool      `json:"stored_done"` // relay sent EOSE for the current subscription
	Notices    int       `json:"notices"`
	LastNotice string    `json:"last_notice,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// RelayTracker follows relay status events from the bus.
type RelayTracker struct {
	mu     sync.Mutex
	relays map[string]*RelayState
}

// NewRelayTracker creates a tracker for urls and subscribes it to bus.
func NewRelayTracker(urls []string, bus *eventbus.Bus) *RelayTracker {
	t := &RelayTracker{relays: make(map[string]*RelayState, len(urls))}
	for _, url := range urls {
		t.relays[url] = &RelayState{Relay: url, State: RelayStateConnecting, Since: now()}
	}
	if bus != nil {
		bus.SubscribeAll(t.handle)
	}
	return t
}

func (t *RelayTracker) handle(e eventbus.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.relays[e.Relay]
	if !ok {
		st = &RelayState{Relay: e.Relay}
		t.relays[e.Relay] = st
	}

	switch e.Type {
	case eventbus.EventTypeConnected:
		st.State = RelayStateConnected
		st.Since = now()
		st.StoredDone = false

	case eventbus.EventTypeDisconnected:
		st.State = RelayStateDisconnected
		st.Since = now()
		if e.Err != nil {
			st.LastError = e.Err.Error()
		}

	case eventbus.EventTypeFailed:
		st.State = RelayStateFailed
		st.Since = now()
		if e.Err != nil {
			st.LastError = e.Err.Error()
		}

	case eventbus.EventTypeEOSE:
		st.StoredDone = true
		log.Debug().Str("relay", e.Relay).Msg("Relay finished sending stored events")

	case eventbus.EventTypeNotice:
		st.Notices++
		st.LastNotice = e.Message
		log.Info().Str("relay", e.Relay).Str("notice", e.Message).Msg("Relay notice")

	case eventbus.EventTypeClosed:
		st.LastNotice = e.Message
		log.Warn().Str("relay", e.Relay).Str("reason", e.Message).Msg("Relay closed subscription")
	}
}

// Connected returns the number of relays with a live subscription
func (t *RelayTracker) Connected() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, st := range t.relays {
		if st.State == RelayStateConnected {
			n++
		}
	}
	return n
}

// Snapshot returns a copy of all relay states ordered by address
func (t *RelayTracker) Snapshot() []RelayState {
	t.mu.Lock()
	states := make([]RelayState, 0, len(t.relays))
	for _, st := range t.relays {
		states = append(states, *st)
	}
	t.mu.Unlock()

	sort.Slice(states, func(i, j int) bool { return states[i].Relay < states[j].Relay })
	return states
}
