// Package tpu implements the ASCII-hex "#TPU" gimbal command frame: the
// command table, the fixed-width field codec and the checksummed frame
// builder.
package tpu

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrUnsupportedCommand is returned for a command family the table does not know.
	ErrUnsupportedCommand = errors.New("unsupported command")
	// ErrUnsupportedMode is returned for an unknown mode or missing parameters.
	ErrUnsupportedMode = errors.New("unsupported mode")
	// ErrLengthMismatch is returned when a length code disagrees with the payload.
	ErrLengthMismatch = errors.New("length code mismatch")
	// ErrMalformedFrame is returned for frames that do not follow the layout.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrChecksumMismatch is returned when a frame's checksum does not match its body.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Header marks the framing variant.
type Header string

const (
	HeaderFixed    Header = "#TPU" // one fixed-size field
	HeaderVariable Header = "#tpU" // multi-field payload
)

const (
	headerLen   = 4
	mnemonicLen = 4
	checksumLen = 2
	// header + type + length + mnemonic
	prefixLen = headerLen + 1 + 1 + mnemonicLen
	minFrame  = prefixLen + checksumLen
)

// Frame is one encoded wire message, header through checksum.
type Frame struct {
	raw string
}

func (f Frame) String() string { return f.raw }

// Bytes returns a copy of the frame as ASCII bytes.
func (f Frame) Bytes() []byte { return []byte(f.raw) }

// Len returns the number of characters on the wire.
func (f Frame) Len() int { return len(f.raw) }

// IsZero reports whether f holds no frame.
func (f Frame) IsZero() bool { return f.raw == "" }

// The field accessors return zero values for the zero Frame.

func (f Frame) Header() Header {
	if f.IsZero() {
		return ""
	}
	return Header(f.raw[:headerLen])
}

func (f Frame) Type() byte {
	if f.IsZero() {
		return 0
	}
	return f.raw[headerLen]
}

func (f Frame) Length() byte {
	if f.IsZero() {
		return 0
	}
	return f.raw[headerLen+1]
}

func (f Frame) Mnemonic() string {
	if f.IsZero() {
		return ""
	}
	return f.raw[headerLen+2 : prefixLen]
}

func (f Frame) Payload() string {
	if f.IsZero() {
		return ""
	}
	return f.raw[prefixLen : len(f.raw)-checksumLen]
}

func (f Frame) Checksum() string {
	if f.IsZero() {
		return ""
	}
	return f.raw[len(f.raw)-checksumLen:]
}

func (f Frame) IsRead() bool {
	return !f.IsZero() && f.raw[headerLen+2] == 'r'
}

// Checksum is the additive checksum: the sum of all bytes, overflow discarded.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode assembles a frame from a resolved command and appends its checksum.
func Encode(r Resolved) (Frame, error) {
	if r.Header != HeaderFixed && r.Header != HeaderVariable {
		return Frame{}, fmt.Errorf("%w: header %q", ErrMalformedFrame, r.Header)
	}
	if !isAlnum(r.Type) {
		return Frame{}, fmt.Errorf("%w: type %q", ErrMalformedFrame, r.Type)
	}
	if err := checkMnemonic(r.Mnemonic); err != nil {
		return Frame{}, err
	}
	if !isHex(r.Payload) {
		return Frame{}, fmt.Errorf("%w: payload %q is not upper-case hex", ErrMalformedFrame, r.Payload)
	}
	declared, err := lengthValue(r.Length)
	if err != nil {
		return Frame{}, err
	}
	if declared != len(r.Payload) {
		return Frame{}, fmt.Errorf("%w: %s declares %d payload digits, got %d",
			ErrLengthMismatch, r.Mnemonic, declared, len(r.Payload))
	}

	var buf bytes.Buffer
	buf.Grow(prefixLen + len(r.Payload) + checksumLen)
	buf.WriteString(string(r.Header))
	buf.WriteByte(r.Type)
	buf.WriteByte(r.Length)
	buf.WriteString(r.Mnemonic)
	buf.WriteString(r.Payload)

	sum := Checksum(buf.Bytes())
	fmt.Fprintf(&buf, "%02X", sum)

	return Frame{raw: buf.String()}, nil
}

// Build resolves and encodes a command.
func Build(cmd Command) (Frame, error) {
	r, err := Resolve(cmd)
	if err != nil {
		return Frame{}, err
	}
	return Encode(r)
}

// ParseFrame splits raw bytes into a frame and verifies its checksum and
// length code. It does not interpret the payload.
func ParseFrame(raw []byte) (Frame, error) {
	if len(raw) < minFrame {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than %d", ErrMalformedFrame, len(raw), minFrame)
	}
	h := Header(raw[:headerLen])
	if h != HeaderFixed && h != HeaderVariable {
		return Frame{}, fmt.Errorf("%w: header %q", ErrMalformedFrame, h)
	}
	declared, err := lengthValue(raw[headerLen+1])
	if err != nil {
		return Frame{}, err
	}
	body := raw[:len(raw)-checksumLen]
	payload := body[prefixLen:]
	if declared != len(payload) {
		return Frame{}, fmt.Errorf("%w: declares %d payload digits, got %d", ErrLengthMismatch, declared, len(payload))
	}
	got, err := strconv.ParseUint(string(raw[len(raw)-checksumLen:]), 16, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: checksum %q", ErrMalformedFrame, raw[len(raw)-checksumLen:])
	}
	if want := Checksum(body); byte(got) != want {
		return Frame{}, fmt.Errorf("%w: got %02X, want %02X", ErrChecksumMismatch, got, want)
	}
	return Frame{raw: string(raw)}, nil
}

func lengthValue(c byte) (int, error) {
	v, err := strconv.ParseUint(string(c), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: length code %q", ErrMalformedFrame, c)
	}
	return int(v), nil
}

func checkMnemonic(m string) error {
	if len(m) != mnemonicLen {
		return fmt.Errorf("%w: mnemonic %q is not %d characters", ErrMalformedFrame, m, mnemonicLen)
	}
	if m[0] != 'w' && m[0] != 'r' {
		return fmt.Errorf("%w: mnemonic %q must start with w or r", ErrMalformedFrame, m)
	}
	for i := 0; i < len(m); i++ {
		if !isAlnum(m[i]) {
			return fmt.Errorf("%w: mnemonic %q", ErrMalformedFrame, m)
		}
	}
	return nil
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
