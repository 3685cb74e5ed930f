package nostr

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/alfredjeanlab/zapline/internal/zaperr"
)

// NpubPrefix is the bech32 human-readable part for public keys.
const NpubPrefix = "npub"

// EncodeNpub returns the npub form of a 32-byte hex public key. The result is
// for display only; protocol identity is always the hex key.
func EncodeNpub(pubkeyHex string) (string, error) {
	const op = "nostr.EncodeNpub"
	raw, err := decodeHex(pubkeyHex, 32)
	if err != nil {
		return "", zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	s, err := bech32.Encode(NpubPrefix, data)
	if err != nil {
		return "", zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	return s, nil
}

// DecodeNpub returns the lowercase hex public key encoded in npub. It rejects
// other prefixes, bad checksums and payloads that are not 32 bytes.
func DecodeNpub(npub string) (string, error) {
	const op = "nostr.DecodeNpub"
	hrp, data, err := bech32.Decode(npub)
	if err != nil {
		return "", zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	if hrp != NpubPrefix {
		return "", zaperr.Newf(zaperr.KindMalformedInput, op, "prefix %q, want %q", hrp, NpubPrefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", zaperr.Wrap(zaperr.KindMalformedInput, op, err)
	}
	if len(raw) != 32 {
		return "", zaperr.Newf(zaperr.KindMalformedInput, op, "payload is %d bytes, want 32", len(raw))
	}
	return hex.EncodeToString(raw), nil
}
