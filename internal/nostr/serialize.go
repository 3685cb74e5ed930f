package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

const hexDigits = "0123456789abcdef"

// Serialize returns the canonical id preimage
// [0,"<pubkey>",<created_at>,<kind>,<tags>,"<content>"] as compact UTF-8 JSON.
//
// Strings are escaped the way the relay network expects: only the quote,
// the backslash and C0 control characters are escaped. encoding/json is not
// used because it also escapes <, >, & and U+2028/U+2029, which would change
// the id.
func Serialize(pubkey string, createdAt int64, kind int, tags Tags, content string) []byte {
	buf := make([]byte, 0, 128+len(content))
	buf = append(buf, "[0,"...)
	buf = appendString(buf, pubkey)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, createdAt, 10)
	buf = append(buf, ',')
	buf = strconv.AppendInt(buf, int64(kind), 10)
	buf = append(buf, ',')
	buf = appendTags(buf, tags)
	buf = append(buf, ',')
	buf = appendString(buf, content)
	buf = append(buf, ']')
	return buf
}

// CalculateEventID returns the lowercase hex SHA-256 of the canonical
// serialization.
func CalculateEventID(pubkey string, createdAt int64, kind int, tags Tags, content string) string {
	sum := sha256.Sum256(Serialize(pubkey, createdAt, kind, tags, content))
	return hex.EncodeToString(sum[:])
}

func appendTags(buf []byte, tags Tags) []byte {
	buf = append(buf, '[')
	for i, tag := range tags {
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
	return append(buf, ']')
}

func appendString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf = append(buf, '\\', '"')
		case '\\':
			buf = append(buf, '\\', '\\')
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		case '\b':
			buf = append(buf, '\\', 'b')
		case '\f':
			buf = append(buf, '\\', 'f')
		default:
			if c < 0x20 {
				buf = append(buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
			} else {
				buf = append(buf, c)
			}
		}
	}
	return append(buf, '"')
}
