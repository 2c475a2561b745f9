// Package uuid implements the opaque Bluetooth UUID type shared by every
// component: identity is by canonical 128-bit form regardless of how the
// UUID was spelled on the wire or by a caller (spec §3).
package uuid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// bluetoothBase is the Bluetooth SIG base UUID. A 16-bit or 32-bit UUID is
// shorthand for this base with the short value spliced into bytes 2-3 (16-bit)
// or bytes 0-3 (32-bit).
const bluetoothBase = "00000000-0000-1000-8000-00805f9b34fb"

// BTUUID is an opaque Bluetooth UUID. The zero value is not a valid UUID.
// Two BTUUIDs are equal (via ==) iff they denote the same canonical 128-bit
// value; a 16-bit UUID and its 128-bit expansion under the Bluetooth base
// compare equal.
type BTUUID struct {
	canon [16]byte
}

// Parse normalizes s (short hex, 0x-prefixed hex, dashed or undashed 128-bit,
// braced, any case) into a BTUUID. It fails if s is not valid hex of length
// 4, 8 or 32 nibbles once dashes/braces/prefix are stripped.
func Parse(s string) (BTUUID, error) {
	cleaned := strings.ToLower(s)
	cleaned = strings.TrimPrefix(cleaned, "0x")
	cleaned = strings.TrimPrefix(cleaned, "{")
	cleaned = strings.TrimSuffix(cleaned, "}")
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		return BTUUID{}, fmt.Errorf("uuid: %q is not valid hex: %w", s, err)
	}

	switch len(raw) {
	case 2: // 16-bit
		return fromShort(raw), nil
	case 4: // 32-bit
		return fromShort32(raw), nil
	case 16: // full 128-bit
		var u BTUUID
		copy(u.canon[:], raw)
		return u, nil
	default:
		return BTUUID{}, fmt.Errorf("uuid: %q has unexpected length %d bytes", s, len(raw))
	}
}

// MustParse is Parse, panicking on error. Intended for package-level
// well-known-UUID constants.
func MustParse(s string) BTUUID {
	u, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return u
}

func baseBytes() [16]byte {
	var b [16]byte
	raw, _ := hex.DecodeString(strings.ReplaceAll(bluetoothBase, "-", ""))
	copy(b[:], raw)
	return b
}

func fromShort(short []byte) BTUUID {
	u := BTUUID{canon: baseBytes()}
	u.canon[2], u.canon[3] = short[0], short[1]
	return u
}

func fromShort32(short []byte) BTUUID {
	u := BTUUID{canon: baseBytes()}
	copy(u.canon[0:4], short)
	return u
}

// Short16 returns the 16-bit short form and true if u lies under the
// Bluetooth base UUID with zero bytes elsewhere, false otherwise.
func (u BTUUID) Short16() (uint16, bool) {
	base := baseBytes()
	var probe [16]byte = base
	probe[2], probe[3] = u.canon[2], u.canon[3]
	if probe != u.canon {
		return 0, false
	}
	return uint16(u.canon[2])<<8 | uint16(u.canon[3]), true
}

// String renders the canonical dashed 128-bit representation, lowercase.
func (u BTUUID) String() string {
	h := hex.EncodeToString(u.canon[:])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

// Bytes returns the canonical 128-bit form, most-significant byte first.
func (u BTUUID) Bytes() [16]byte {
	return u.canon
}

// IsZero reports whether u is the zero value (never a valid parsed UUID).
func (u BTUUID) IsZero() bool {
	return u.canon == [16]byte{}
}
