package match

import (
	"encoding/base64"
	"unicode/utf16"
)

// base64OffsetStart strips the leading chars whose bits depend on the 0, 1,
// or 2 filler bytes prepended before encoding.
var base64OffsetStart = [3]int{0, 2, 3}

// base64Offsets returns the three base64-offset variants of raw, one per
// byte alignment the target can occupy inside a larger encoded stream. The
// leading filler-dependent chars are stripped per base64OffsetStart; the
// trailing chars are stripped per the padding length ("==" means the last
// pre-padding char also carries filler bits, so 3 chars go; "=" means 2; no
// padding means the final quad is fully determined and nothing is trimmed).
func base64Offsets(raw []byte) [3]string {
	var out [3]string
	for i := 0; i < 3; i++ {
		padded := make([]byte, i+len(raw))
		copy(padded[i:], raw)
		encoded := base64.StdEncoding.EncodeToString(padded)

		end := len(encoded)
		switch len(padded) % 3 {
		case 1:
			end -= 3
		case 2:
			end -= 2
		}
		start := base64OffsetStart[i]
		if start > end {
			start = end
		}
		out[i] = encoded[start:end]
	}
	return out
}

// utf16Encode renders s as UTF-16LE or UTF-16BE bytes, used by the
// utf16le/utf16be/wide/utf16 pipes before base64 encoding.
func utf16Encode(s string, bigEndian bool) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 0, len(units)*2)
	for _, u := range units {
		if bigEndian {
			out = append(out, byte(u>>8), byte(u))
		} else {
			out = append(out, byte(u), byte(u>>8))
		}
	}
	return out
}
