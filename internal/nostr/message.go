// Package nostr implements the subset of the NIP-01 relay protocol needed to
// subscribe to events from a set of relays and stream their kinds.
package nostr

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrShortFrame   = errors.New("frame has too few elements")
	ErrInvalidEvent = errors.New("invalid event")
)

// Filter is a NIP-01 subscription filter
type Filter struct {
	Since *int64 `json:"since,omitempty"`
	Kinds []int  `json:"kinds,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// WithSince returns a copy of the filter starting at since
func (f Filter) WithSince(since int64) Filter {
	f.Since = &since
	if f.Kinds != nil {
		f.Kinds = append([]int(nil), f.Kinds...)
	}
	return f
}

// MessageType is the label of a relay-to-client frame
type MessageType string

const (
	MessageEvent   MessageType = "EVENT"
	MessageEOSE    MessageType = "EOSE"
	MessageNotice  MessageType = "NOTICE"
	MessageClosed  MessageType = "CLOSED"
	MessageOK      MessageType = "OK"
	MessageAuth    MessageType = "AUTH"
	MessageUnknown MessageType = ""
)

// Message is a decoded relay-to-client frame
type Message struct {
	Type  MessageType
	Label string // raw label, kept for unknown frames
	SubID string
	Event *Event
	Text  string // NOTICE/CLOSED/OK message, AUTH challenge
	OK    bool
}

// ParseMessage decodes a single relay frame. Unknown labels are not an error.
func ParseMessage(data []byte) (Message, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if len(raw) == 0 {
		return Message{}, ErrEmptyFrame
	}

	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return Message{}, fmt.Errorf("decode frame label: %w", err)
	}

	msg := Message{Type: MessageType(label), Label: label}

	switch msg.Type {
	case MessageEvent:
		if len(raw) < 3 {
			return Message{}, fmt.Errorf("%s: %w", label, ErrShortFrame)
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return Message{}, fmt.Errorf("decode subscription id: %w", err)
		}
		var ev Event
		if err := json.Unmarshal(raw[2], &ev); err != nil {
			return Message{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		if err := ev.Validate(); err != nil {
			return Message{}, err
		}
		msg.Event = &ev

	case MessageEOSE:
		if len(raw) < 2 {
			return Message{}, fmt.Errorf("%s: %w", label, ErrShortFrame)
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return Message{}, fmt.Errorf("decode subscription id: %w", err)
		}

	case MessageNotice, MessageAuth:
		if len(raw) < 2 {
			return Message{}, fmt.Errorf("%s: %w", label, ErrShortFrame)
		}
		if err := json.Unmarshal(raw[1], &msg.Text); err != nil {
			return Message{}, fmt.Errorf("decode %s text: %w", label, err)
		}

	case MessageClosed:
		if len(raw) < 2 {
			return Message{}, fmt.Errorf("%s: %w", label, ErrShortFrame)
		}
		if err := json.Unmarshal(raw[1], &msg.SubID); err != nil {
			return Message{}, fmt.Errorf("decode subscription id: %w", err)
		}
		if len(raw) >= 3 {
			_ = json.Unmarshal(raw[2], &msg.Text)
		}

	case MessageOK:
		if len(raw) < 3 {
			return Message{}, fmt.Errorf("%s: %w", label, ErrShortFrame)
		}
		// Event id goes into SubID; OK frames answer publishes, which we never send
		_ = json.Unmarshal(raw[1], &msg.SubID)
		_ = json.Unmarshal(raw[2], &msg.OK)
		if len(raw) >= 4 {
			_ = json.Unmarshal(raw[3], &msg.Text)
		}

	default:
		msg.Type = MessageUnknown
	}

	return msg, nil
}
