package nostr

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/alfredjeanlab/zapline/internal/schnorr"
	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// Keys is an immutable signing identity.
type Keys struct {
	secret [schnorr.SecretKeySize]byte
	public [schnorr.PublicKeySize]byte
	aux    io.Reader
}

// ParseSecretKey builds Keys from a 32-byte hex secret key. Failures are
// KindConfiguration since keys only come from startup configuration.
func ParseSecretKey(secretHex string) (Keys, error) {
	const op = "nostr.ParseSecretKey"
	raw, err := hex.DecodeString(strings.TrimSpace(secretHex))
	if err != nil {
		return Keys{}, zaperr.Wrap(zaperr.KindConfiguration, op, err)
	}
	if len(raw) != schnorr.SecretKeySize {
		return Keys{}, zaperr.Newf(zaperr.KindConfiguration, op, "secret key must be %d bytes, got %d", schnorr.SecretKeySize, len(raw))
	}
	pub, err := schnorr.PublicKey(raw)
	if err != nil {
		return Keys{}, zaperr.Wrap(zaperr.KindConfiguration, op, err)
	}
	var k Keys
	copy(k.secret[:], raw)
	k.public = pub
	return k, nil
}

// GenerateKeys returns a fresh random identity.
func GenerateKeys() (Keys, error) {
	var sk [schnorr.SecretKeySize]byte
	for {
		if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
			return Keys{}, fmt.Errorf("reading randomness: %w", err)
		}
		// Retry the negligible out-of-range case.
		if k, err := ParseSecretKey(hex.EncodeToString(sk[:])); err == nil {
			return k, nil
		}
	}
}

// IsZero reports whether k is the zero value rather than a parsed key.
func (k Keys) IsZero() bool { return k.public == [schnorr.PublicKeySize]byte{} }

// WithAuxSource returns a copy of k that draws BIP-340 aux randomness from r.
// Passing a reader of zeros makes signing fully deterministic.
func (k Keys) WithAuxSource(r io.Reader) Keys {
	k.aux = r
	return k
}

// PublicKeyHex returns the x-only public key as lowercase hex.
func (k Keys) PublicKeyHex() string { return hex.EncodeToString(k.public[:]) }

// SecretKeyHex returns the secret key as lowercase hex.
func (k Keys) SecretKeyHex() string { return hex.EncodeToString(k.secret[:]) }

// Npub returns the bech32 display form of the public key.
func (k Keys) Npub() string {
	npub, err := EncodeNpub(k.PublicKeyHex())
	if err != nil {
		// A 32-byte key always encodes.
		panic(err)
	}
	return npub
}

// SignEvent builds and signs an event. The tags are copied.
func (k Keys) SignEvent(createdAt int64, kind int, tags Tags, content string) (Event, error) {
	if tags == nil {
		tags = Tags{}
	}
	ev := Event{
		PubKey:    k.PublicKeyHex(),
		CreatedAt: createdAt,
		Kind:      kind,
		Tags:      tags.Clone(),
		Content:   content,
	}
	ev.ID = ev.ComputeID()
	id, err := hex.DecodeString(ev.ID)
	if err != nil {
		return Event{}, err
	}

	aux := make([]byte, schnorr.AuxRandSize)
	src := k.aux
	if src == nil {
		src = rand.Reader
	}
	if _, err := io.ReadFull(src, aux); err != nil {
		return Event{}, fmt.Errorf("reading aux randomness: %w", err)
	}

	sig, err := schnorr.Sign(id, k.secret[:], aux)
	if err != nil {
		return Event{}, err
	}
	ev.Sig = hex.EncodeToString(sig[:])
	return ev, nil
}
