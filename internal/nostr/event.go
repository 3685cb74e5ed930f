// Package nostr implements the signed-event codec used by the ledger,
// publisher and ingestor: canonical id hashing, BIP-340 signing and
// verification of events, and the npub display encoding.
package nostr

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"github.com/alfredjeanlab/zapline/internal/schnorr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Event kinds handled by this service.
const (
	KindTextNote        = 1
	KindZapRequest      = 9734
	KindZapReceipt      = 9735
	KindLongFormArticle = 30023
)

// Event is a signed protocol event. Treat it as a value: changing any field
// after signing invalidates the id or the signature.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// ComputeID recomputes the canonical id from the event's fields.
func (ev Event) ComputeID() string {
	return CalculateEventID(ev.PubKey, ev.CreatedAt, ev.Kind, ev.Tags, ev.Content)
}

// MarshalJSON writes the wire form with the same string escaping as the id
// preimage, so relays see exactly the bytes that were hashed.
func (ev Event) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 256+len(ev.Content))
	buf = append(buf, `{"id":`...)
	buf = appendString(buf, ev.ID)
	buf = append(buf, `,"pubkey":`...)
	buf = appendString(buf, ev.PubKey)
	buf = append(buf, `,"created_at":`...)
	buf = strconv.AppendInt(buf, ev.CreatedAt, 10)
	buf = append(buf, `,"kind":`...)
	buf = strconv.AppendInt(buf, int64(ev.Kind), 10)
	buf = append(buf, `,"tags":`...)
	buf = appendTags(buf, ev.Tags)
	buf = append(buf, `,"content":`...)
	buf = appendString(buf, ev.Content)
	buf = append(buf, `,"sig":`...)
	buf = appendString(buf, ev.Sig)
	buf = append(buf, '}')
	return buf, nil
}

// rawEvent distinguishes missing fields from zero values.
type rawEvent struct {
	ID        *string `json:"id"`
	PubKey    *string `json:"pubkey"`
	CreatedAt *int64  `json:"created_at"`
	Kind      *int    `json:"kind"`
	Tags      *Tags   `json:"tags"`
	Content   *string `json:"content"`
	Sig       *string `json:"sig"`
}

// ParseEvent decodes a raw event and checks that the structural fields
// (id, pubkey, created_at, kind, tags, content) are present and well typed.
// The signature is optional and not checked here.
func ParseEvent(data []byte) (Event, error) {
	const op = "nostr.ParseEvent"
	var raw rawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	switch {
	case raw.ID == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing id")
	case raw.PubKey == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing pubkey")
	case raw.CreatedAt == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing created_at")
	case raw.Kind == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing kind")
	case raw.Tags == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing tags")
	case raw.Content == nil:
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "missing content")
	}
	if !IsHex32(*raw.ID) {
		return Event{}, zaperr.Newf(zaperr.KindMalformedInput, op, "id %q is not 32-byte lowercase hex", *raw.ID)
	}
	if !IsHex32(*raw.PubKey) {
		return Event{}, zaperr.Newf(zaperr.KindMalformedInput, op, "pubkey %q is not 32-byte lowercase hex", *raw.PubKey)
	}
	if *raw.CreatedAt < 0 {
		return Event{}, zaperr.New(zaperr.KindMalformedInput, op, "negative created_at")
	}

	ev := Event{
		ID:        *raw.ID,
		PubKey:    *raw.PubKey,
		CreatedAt: *raw.CreatedAt,
		Kind:      *raw.Kind,
		Tags:      *raw.Tags,
		Content:   *raw.Content,
	}
	if raw.Sig != nil {
		ev.Sig = *raw.Sig
	}
	return ev, nil
}

// VerifySignedEvent checks the id and then the signature. An id mismatch is
// KindInvalidEvent; a bad signature is KindSignatureInvalid.
func VerifySignedEvent(ev Event) error {
	const op = "nostr.VerifySignedEvent"
	computed := ev.ComputeID()
	if subtle.ConstantTimeCompare([]byte(computed), []byte(ev.ID)) != 1 {
		return zaperr.Newf(zaperr.KindInvalidEvent, op, "id %s does not match content", ev.ID)
	}

	id, _ := hex.DecodeString(computed)
	pub, err := decodeHex(ev.PubKey, schnorr.PublicKeySize)
	if err != nil {
		return zaperr.Wrap(zaperr.KindSignatureInvalid, op, err)
	}
	sig, err := decodeHex(ev.Sig, schnorr.SignatureSize)
	if err != nil {
		return zaperr.Wrap(zaperr.KindSignatureInvalid, op, err)
	}
	if !schnorr.Verify(id, pub, sig) {
		return zaperr.Newf(zaperr.KindSignatureInvalid, op, "signature does not verify for event %s", ev.ID)
	}
	return nil
}

// IsHex32 reports whether s is 64 lowercase hex characters.
func IsHex32(s string) bool {
	return isLowerHex(s, 32)
}

func isLowerHex(s string, size int) bool {
	if len(s) != size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func decodeHex(s string, size int) ([]byte, error) {
	if !isLowerHex(s, size) {
		return nil, zaperr.Newf(zaperr.KindMalformedInput, "nostr.decodeHex", "expected %d-byte lowercase hex", size)
	}
	return hex.DecodeString(s)
}
