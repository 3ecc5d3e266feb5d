package tpu

import (
	"fmt"
	"strconv"
)

// Width is the bit width of an encoded payload field.
type Width uint8

const (
	Bits8  Width = 8
	Bits16 Width = 16
)

// Digits returns the number of hex digits a field of this width occupies.
func (w Width) Digits() int {
	return int(w) / 4
}

func (w Width) valid() bool {
	return w == Bits8 || w == Bits16
}

// EncodeHex renders value as a two's-complement, zero-padded, upper-case hex
// field of the given width. Values outside the representable range wrap
// modulo 2^width.
func EncodeHex(value int, w Width) (string, error) {
	if !w.valid() {
		return "", fmt.Errorf("unsupported field width %d", w)
	}
	mod := 1 << uint(w)
	u := ((value % mod) + mod) % mod
	return fmt.Sprintf("%0*X", w.Digits(), u), nil
}

// DecodeHex parses a field produced by EncodeHex back into the signed range
// of the width.
func DecodeHex(text string, w Width) (int, error) {
	if !w.valid() {
		return 0, fmt.Errorf("unsupported field width %d", w)
	}
	if len(text) != w.Digits() {
		return 0, fmt.Errorf("%w: field %q is not %d hex digits", ErrMalformedFrame, text, w.Digits())
	}
	u, err := strconv.ParseUint(text, 16, int(w))
	if err != nil {
		return 0, fmt.Errorf("%w: field %q: %v", ErrMalformedFrame, text, err)
	}
	v := int(u)
	if v >= 1<<(uint(w)-1) {
		v -= 1 << uint(w)
	}
	return v, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
