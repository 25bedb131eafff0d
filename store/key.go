package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Token escapes an id for use as one segment of a key, so prefix+Token(id)
// is always a valid key. Every byte outside [-/_a-zA-Z0-9] is written as
// =XX, dots included, so the segment never splits or ends a key.
func Token(id string) string {
	return escape(id, false)
}

// ParseToken reverses Token.
func ParseToken(tok string) string {
	return decodeKey(tok)
}

// JetStream KV keys are limited to [-/_=.a-zA-Z0-9]. Any other byte is
// written as =XX, and a literal '=' as =3D, so ids stay reversible.
func encodeKey(key string) string {
	return escape(key, true)
}

func escape(s string, keepDots bool) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isKVKeyByte(c) && c != '=' && (keepDots || c != '.') {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "=%02X", c)
	}
	return b.String()
}

func decodeKey(raw string) string {
	if !strings.Contains(raw, "=") {
		return raw
	}
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '=' && i+2 < len(raw) {
			if c, err := strconv.ParseUint(raw[i+1:i+3], 16, 8); err == nil {
				b.WriteByte(byte(c))
				i += 2
				continue
			}
		}
		b.WriteByte(raw[i])
	}
	return b.String()
}

func isKVKeyByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '/', c == '_', c == '=', c == '.':
		return true
	}
	return false
}
