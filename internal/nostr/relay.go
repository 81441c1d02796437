package nostr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// maxFrameSize bounds a single relay frame; long-form events easily exceed the 32KiB default.
const maxFrameSize = 4 << 20

// RelayConfig contains configuration for relay connection and reconnection.
type RelayConfig struct {
	DialTimeout   time.Duration // Timeout for the websocket handshake
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
}

// DefaultRelayConfig returns sensible defaults for relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		DialTimeout:   10 * time.Second,
		MinBackoff:    1 * time.Second,
		MaxBackoff:    30 * time.Second,
		Multiplier:    2.0,
		MaxReconnects: 0, // infinite
	}
}

// NotificationType tags the variant carried by a Notification
type NotificationType int

const (
	NotificationEvent NotificationType = iota
	NotificationConnected
	NotificationDisconnected
	NotificationEOSE
	NotificationNotice
	NotificationClosed
	NotificationMalformed
	NotificationOther
)

func (t NotificationType) String() string {
	switch t {
	case NotificationEvent:
		return "event"
	case NotificationConnected:
		return "connected"
	case NotificationDisconnected:
		return "disconnected"
	case NotificationEOSE:
		return "eose"
	case NotificationNotice:
		return "notice"
	case NotificationClosed:
		return "closed"
	case NotificationMalformed:
		return "malformed"
	default:
		return "other"
	}
}

// Notification is something a relay reported to its subscriber
type Notification struct {
	Type    NotificationType
	Relay   string
	Event   *Event
	Message string
	Err     error
}

// Relay holds one subscription against a single relay, reconnecting as needed.
type Relay struct {
	url     string
	filter  Filter
	config  RelayConfig
	limiter *rate.Limiter

	// newest created_at of a complete stored replay or a live event, used
	// to resume after a reconnect
	newest int64
}

// NewRelay creates a relay subscription. A nil limiter disables dial rate limiting.
func NewRelay(url string, filter Filter, config RelayConfig, limiter *rate.Limiter) *Relay {
	return &Relay{
		url:     url,
		filter:  filter,
		config:  config,
		limiter: limiter,
	}
}

// URL returns the relay address
func (r *Relay) URL() string {
	return r.url
}

// Run subscribes to the relay and reports notifications until ctx is done.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded.
func (r *Relay) Run(ctx context.Context, notify func(Notification)) error {
	retryCount := 0
	currentBackoff := r.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := r.connect(ctx, notify)
		if ctx.Err() != nil {
			return nil
		}

		if connected {
			// Reset retry count and backoff after a successful subscription
			retryCount = 0
			currentBackoff = r.config.MinBackoff
		}

		notify(Notification{Type: NotificationDisconnected, Relay: r.url, Err: err})

		retryCount++

		if r.config.MaxReconnects > 0 && retryCount > r.config.MaxReconnects {
			log.Error().
				Str("relay", r.url).
				Int("max_reconnects", r.config.MaxReconnects).
				Msg("Relay: max reconnects exceeded, giving up")
			return fmt.Errorf("%s: %w: %v", r.url, ErrMaxReconnectsExceeded, err)
		}

		log.Warn().
			Err(err).
			Str("relay", r.url).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", r.config.MaxReconnects).
			Msg("Relay disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		// Calculate next backoff with multiplier, capped at max
		nextBackoff := time.Duration(float64(currentBackoff) * r.config.Multiplier)
		if nextBackoff > r.config.MaxBackoff {
			nextBackoff = r.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// connect runs one connection. connected reports whether the subscription was established.
func (r *Relay) connect(ctx context.Context, notify func(Notification)) (connected bool, err error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.config.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, r.url, &websocket.DialOptions{
		HTTPHeader: http.Header{"User-Agent": []string{"kindtally"}},
	})
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: unexpected status code %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	subID := uuid.NewString()
	filter := r.filter
	if r.newest > 0 {
		filter = filter.WithSince(r.newest)
	}

	if err := wsjson.Write(ctx, conn, []any{"REQ", subID, filter}); err != nil {
		return false, fmt.Errorf("send REQ: %w", err)
	}

	log.Info().Str("relay", r.url).Str("sub_id", subID).Msg("Subscribed to relay")
	notify(Notification{Type: NotificationConnected, Relay: r.url})

	// Reads outlive ctx so CLOSE can still be sent on the open connection
	readCtx, cancelRead := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRead()

	unsubscribed := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(unsubscribed)
		r.unsubscribe(conn, subID)
		cancelRead()
	})

	err = r.readLoop(readCtx, conn, subID, notify)
	if !stop() {
		<-unsubscribed
		return true, nil
	}
	return true, err
}

// readLoop reports frames until the connection fails. Stored events may
// arrive in any order, so their newest created_at only becomes the resume
// point once EOSE confirms the replay is complete.
func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn, subID string, notify func(Notification)) error {
	replaying := true
	var replayNewest int64

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				return fmt.Errorf("relay closed connection: %v", status)
			}
			return err
		}

		if typ != websocket.MessageText {
			log.Trace().Str("relay", r.url).Msg("Ignoring binary frame")
			continue
		}

		msg, err := ParseMessage(data)
		if err != nil {
			notify(Notification{Type: NotificationMalformed, Relay: r.url, Message: err.Error(), Err: err})
			continue
		}

		switch msg.Type {
		case MessageEvent:
			if msg.SubID != subID {
				notify(Notification{Type: NotificationOther, Relay: r.url, Message: "event for stale subscription " + msg.SubID})
				continue
			}
			if replaying {
				replayNewest = max(replayNewest, msg.Event.CreatedAt)
			} else {
				r.newest = max(r.newest, msg.Event.CreatedAt)
			}
			notify(Notification{Type: NotificationEvent, Relay: r.url, Event: msg.Event})

		case MessageEOSE:
			if replaying && msg.SubID == subID {
				replaying = false
				r.newest = max(r.newest, replayNewest)
			}
			notify(Notification{Type: NotificationEOSE, Relay: r.url})

		case MessageNotice:
			notify(Notification{Type: NotificationNotice, Relay: r.url, Message: msg.Text})

		case MessageClosed:
			notify(Notification{Type: NotificationClosed, Relay: r.url, Message: msg.Text})
			if msg.SubID == subID {
				return fmt.Errorf("subscription closed by relay: %s", msg.Text)
			}

		default:
			notify(Notification{Type: NotificationOther, Relay: r.url, Message: msg.Label})
		}
	}
}

// unsubscribe tells the relay we are done and closes the connection.
func (r *Relay) unsubscribe(conn *websocket.Conn, subID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, []any{"CLOSE", subID}); err != nil {
		log.Debug().Err(err).Str("relay", r.url).Msg("Failed to send CLOSE")
		return
	}
	log.Debug().Str("relay", r.url).Str("sub_id", subID).Msg("Sent CLOSE")
	conn.Close(websocket.StatusNormalClosure, "")
}
