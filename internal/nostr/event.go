package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

var (
	ErrMissingKind  = errors.New("missing kind")
	ErrIDMismatch   = errors.New("id does not match event hash")
	ErrBadSignature = errors.New("bad signature")
)

// Event is a nostr event as delivered by a relay
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int64      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// UnmarshalJSON decodes an event and rejects one without a kind, which
// would otherwise decode as kind 0.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var wire struct {
		plain
		Kind *int64 `json:"kind"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Kind == nil {
		return ErrMissingKind
	}
	*e = Event(wire.plain)
	e.Kind = *wire.Kind
	return nil
}

// Validate checks the event shape, that the id is the hash of the event and
// that the signature is valid for the pubkey.
func (e *Event) Validate() error {
	if !isHex(e.ID, 32) {
		return fmt.Errorf("%w: id %q is not 32 bytes of hex", ErrInvalidEvent, e.ID)
	}
	if !isHex(e.PubKey, 32) {
		return fmt.Errorf("%w: pubkey %q is not 32 bytes of hex", ErrInvalidEvent, e.PubKey)
	}
	if !isHex(e.Sig, 64) {
		return fmt.Errorf("%w: sig is not 64 bytes of hex", ErrInvalidEvent)
	}
	if e.Kind < 0 {
		return fmt.Errorf("%w: negative kind %d", ErrInvalidEvent, e.Kind)
	}
	if err := e.CheckID(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := e.CheckSignature(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

// Hash returns the sha256 of the canonical serialization
func (e *Event) Hash() [32]byte {
	return sha256.Sum256(e.Serialize())
}

// CheckID reports whether the id matches the event contents
func (e *Event) CheckID() error {
	hash := e.Hash()
	if hex.EncodeToString(hash[:]) != e.ID {
		return ErrIDMismatch
	}
	return nil
}

// CheckSignature verifies the schnorr signature over the event hash
func (e *Event) CheckSignature() error {
	pkBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrBadSignature, err)
	}
	pub, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return fmt.Errorf("%w: pubkey: %v", ErrBadSignature, err)
	}

	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	hash := e.Hash()
	if !sig.Verify(hash[:], pub) {
		return ErrBadSignature
	}
	return nil
}

// Sign sets PubKey, ID and Sig from key
func (e *Event) Sign(key *btcec.PrivateKey) error {
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(key.PubKey()))

	hash := e.Hash()
	sig, err := schnorr.Sign(key, hash[:])
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	e.ID = hex.EncodeToString(hash[:])
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Serialize returns the NIP-01 form [0,pubkey,created_at,kind,tags,content]
// that the id is computed over.
func (e *Event) Serialize() []byte {
	buf := make([]byte, 0, 128+len(e.Content))

	buf = append(buf, "[0,"...)
	buf = appendString(buf, e.PubKey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, e.CreatedAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, e.Kind, 10)
	buf = append(buf, ",["...)
	for i, tag := range e.Tags {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '[')
		for j, s := range tag {
			if j > 0 {
				buf = append(buf, ',')
			}
			buf = appendString(buf, s)
		}
		buf = append(buf, ']')
	}
	buf = append(buf, "],"...)
	buf = appendString(buf, e.Content)
	buf = append(buf, ']')

	return buf
}

const hexDigits = "0123456789abcdef"

// appendString writes s as a JSON string with only the escapes NIP-01 allows;
// encoding/json would also escape <, > and & and change the hash.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xF])
			} else {
				dst = append(dst, c)
			}
		}
	}
	return append(dst, '"')
}

func isHex(s string, size int) bool {
	if len(s) != 2*size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
