package tpu

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Family groups the modes of one kind of gimbal command.
type Family string

const (
	FamilyZoom       Family = "zoom"
	FamilyFocus      Family = "focus"
	FamilyZoomFocus  Family = "zoom_focus"
	FamilyPTZControl Family = "ptz_control"
	FamilyImage      Family = "image"
)

// Frame type characters.
const (
	TypeMotor  byte = 'M' // zoom and focus motors
	TypePTZ    byte = 'P' // pan-tilt modes and speed presets
	TypeGimbal byte = 'G' // gimbal speed and angle control
	TypeImage  byte = 'D' // image and day/night settings
)

// Command is a semantic gimbal command before it is resolved onto the wire.
type Command struct {
	Family Family `json:"family" yaml:"family"`
	Mode   string `json:"mode" yaml:"mode"`
	Params Params `json:"params,omitempty" yaml:"params,omitempty"`
}

func (c Command) String() string {
	if len(c.Params) == 0 {
		return fmt.Sprintf("%s/%s", c.Family, c.Mode)
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, c.Params[k]))
	}
	return fmt.Sprintf("%s/%s %s", c.Family, c.Mode, strings.Join(parts, " "))
}

// IsQuery reports whether the command reads state back from the device.
// Query modes are the ones whose name contains "get".
func (c Command) IsQuery() bool {
	return strings.Contains(c.Mode, "get")
}

// Params holds named command arguments. Values are numbers (any Go numeric
// type or json.Number) or enumeration names.
type Params map[string]any

// Number returns the named parameter as a float64. NaN and infinities are
// rejected.
func (p Params) Number(name string) (float64, bool) {
	v, ok := p[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return finite(float64(n))
	case float64:
		return finite(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return finite(f)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	}
	return 0, false
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Name returns the named parameter as an enumeration key. Integral numbers
// are accepted so that values like iso=400 need no quoting.
func (p Params) Name(name string) (string, bool) {
	v, ok := p[name]
	if !ok {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	f, ok := p.Number(name)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return "", false
	}
	return strconv.FormatInt(int64(f), 10), true
}

// field is one numeric payload value.
type field struct {
	param string
	width Width
	scale float64
}

// encode scales, rounds and wraps n modulo 2^width. The reduction happens
// in float64 so that magnitudes beyond the int range still wrap exactly.
func (f field) encode(n float64) (string, error) {
	v := math.Round(n * f.scale)
	if math.IsInf(v, 0) {
		return "", fmt.Errorf("parameter %q out of range", f.param)
	}
	v = math.Mod(v, float64(int(1)<<uint(f.width)))
	return EncodeHex(int(v), f.width)
}

// entry is one row of the command table.
type entry struct {
	header   Header
	kind     byte
	length   byte
	mnemonic string

	literal string            // fixed payload
	options map[string]string // payload chosen by the "value" parameter
	fields  []field           // payload encoded from numeric parameters
}

// Resolved is a registry row bound to concrete payload digits, ready to be
// encoded into a Frame.
type Resolved struct {
	Header   Header
	Type     byte
	Length   byte
	Mnemonic string
	Payload  string
}

const enumParam = "value"

func fixed(kind byte, mnemonic, payload string) entry {
	return entry{header: HeaderFixed, kind: kind, length: '2', mnemonic: mnemonic, literal: payload}
}

func enum(kind byte, mnemonic string, options map[string]string) entry {
	return entry{header: HeaderFixed, kind: kind, length: '2', mnemonic: mnemonic, options: options}
}

func speed(mnemonic string) entry {
	return entry{header: HeaderFixed, kind: TypeGimbal, length: '2', mnemonic: mnemonic,
		fields: []field{{enumParam, Bits8, 1}}}
}

func angle(mnemonic string) entry {
	return entry{header: HeaderVariable, kind: TypeGimbal, length: '6', mnemonic: mnemonic,
		fields: []field{{"angle_value", Bits16, 100}, {"rate_value", Bits8, 1}}}
}

var ptzModes = map[string]string{
	"stop":                   "00",
	"up":                     "01",
	"down":                   "02",
	"left":                   "03",
	"right":                  "04",
	"center":                 "05",
	"follow":                 "06",
	"yaw_lock":               "07",
	"follow_yaw_lock_switch": "08",
	"calibrate":              "09",
}

var ptzSpeeds = map[string]string{
	"low":    "00",
	"medium": "01",
	"high":   "02",
}

var awbModes = map[string]string{
	"auto":             "00",
	"night":            "01",
	"incandescent":     "02",
	"fluorescent":      "03",
	"warm_fluorescent": "04",
	"daylight":         "05",
	"cloudy_daylight":  "06",
	"twilight":         "07",
	"shade":            "08",
	"inc":              "0A",
	"dec":              "0B",
}

var isoModes = map[string]string{
	"auto": "00",
	"100":  "01",
	"200":  "02",
	"400":  "03",
	"800":  "04",
	"1600": "05",
	"inc":  "0A",
	"dec":  "0B",
}

var evModes = map[string]string{
	"-3":  "00",
	"-2":  "01",
	"-1":  "02",
	"0":   "03",
	"1":   "04",
	"2":   "05",
	"3":   "06",
	"inc": "0A",
	"dec": "0B",
}

var picSizes = map[string]string{
	"400w":  "00",
	"800w":  "01",
	"1300w": "02",
	"1600w": "03",
	"inc":   "0A",
	"dec":   "0B",
}

var vidSizes = map[string]string{
	"720p":  "00",
	"1080p": "01",
	"inc":   "0A",
	"dec":   "0B",
}

var pipModes = map[string]string{
	"main_sub": "00",
	"main":     "01",
	"sub_main": "02",
	"sub":      "03",
	"inc":      "0A",
	"dec":      "0B",
}

// registry is read-only after package initialization.
var registry = map[Family]map[string]entry{
	FamilyZoom: {
		"in":   fixed(TypeMotor, "wZMC", "01"),
		"out":  fixed(TypeMotor, "wZMC", "02"),
		"stop": fixed(TypeMotor, "wZMC", "00"),
		"get":  fixed(TypeMotor, "rZOM", "00"),
	},
	FamilyFocus: {
		"+":    fixed(TypeMotor, "wFCC", "01"),
		"-":    fixed(TypeMotor, "wFCC", "02"),
		"stop": fixed(TypeMotor, "wFCC", "00"),
		"get":  fixed(TypeMotor, "rFOC", "00"),
	},
	FamilyZoomFocus: {
		"set": {header: HeaderVariable, kind: TypeMotor, length: '8', mnemonic: "wZFP",
			fields: []field{{"zoom_value", Bits16, 1}, {"focus_value", Bits16, 1}}},
	},
	FamilyPTZControl: {
		"set_mode":    enum(TypePTZ, "wPTZ", ptzModes),
		"set_speed":   enum(TypePTZ, "wSPD", ptzSpeeds),
		"yaw_speed":   speed("wGSY"),
		"pitch_speed": speed("wGSP"),
		"roll_speed":  speed("wGSR"),
		"yaw_pitch_speed": {header: HeaderVariable, kind: TypeGimbal, length: '4', mnemonic: "wGSM",
			fields: []field{{"yaw_value", Bits8, 1}, {"pitch_value", Bits8, 1}}},
		"yaw_angle":   angle("wGAY"),
		"pitch_angle": angle("wGAP"),
		"roll_angle":  angle("wGAR"),
		"yaw_pitch_angle": {header: HeaderVariable, kind: TypeGimbal, length: 'C', mnemonic: "wGAM",
			fields: []field{
				{"yaw_value", Bits16, 100}, {"yaw_rate", Bits8, 1},
				{"pitch_value", Bits16, 100}, {"pitch_rate", Bits8, 1},
			}},
		"angle_get": fixed(TypeGimbal, "rGAC", "00"),
	},
	FamilyImage: {
		"awb":      enum(TypeImage, "wAWB", awbModes),
		"iso":      enum(TypeImage, "wISO", isoModes),
		"ev":       enum(TypeImage, "wEVS", evModes),
		"pic_size": enum(TypeImage, "wPIC", picSizes),
		"vid_size": enum(TypeImage, "wVID", vidSizes),
		"pip_mode": enum(TypeImage, "wPIP", pipModes),
	},
}

// Resolve looks the command up in the command table and computes its payload.
func Resolve(cmd Command) (Resolved, error) {
	modes, ok := registry[cmd.Family]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %q", ErrUnsupportedCommand, cmd.Family)
	}
	e, ok := modes[cmd.Mode]
	if !ok {
		return Resolved{}, fmt.Errorf("%w: %s mode %q", ErrUnsupportedMode, cmd.Family, cmd.Mode)
	}

	payload, err := e.payload(cmd.Params)
	if err != nil {
		return Resolved{}, fmt.Errorf("%w: %s/%s: %v", ErrUnsupportedMode, cmd.Family, cmd.Mode, err)
	}

	return Resolved{
		Header:   e.header,
		Type:     e.kind,
		Length:   e.length,
		Mnemonic: e.mnemonic,
		Payload:  payload,
	}, nil
}

func (e entry) payload(p Params) (string, error) {
	switch {
	case e.options != nil:
		name, ok := p.Name(enumParam)
		if !ok {
			return "", fmt.Errorf("missing parameter %q", enumParam)
		}
		v, ok := e.options[name]
		if !ok {
			return "", fmt.Errorf("unknown %s %q", enumParam, name)
		}
		return v, nil

	case e.fields != nil:
		var sb strings.Builder
		for _, f := range e.fields {
			n, ok := p.Number(f.param)
			if !ok {
				return "", fmt.Errorf("missing numeric parameter %q", f.param)
			}
			digits, err := f.encode(n)
			if err != nil {
				return "", err
			}
			sb.WriteString(digits)
		}
		return sb.String(), nil
	}
	return e.literal, nil
}

// Families lists the command families in sorted order.
func Families() []Family {
	out := make([]Family, 0, len(registry))
	for f := range registry {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Modes lists the modes of a family in sorted order, or nil for an unknown family.
func Modes(f Family) []string {
	modes, ok := registry[f]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(modes))
	for m := range modes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ModeParams lists the parameter names a mode requires.
func ModeParams(f Family, mode string) ([]string, error) {
	e, ok := registry[f][mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s mode %q", ErrUnsupportedMode, f, mode)
	}
	switch {
	case e.options != nil:
		return []string{enumParam}, nil
	case e.fields != nil:
		out := make([]string, 0, len(e.fields))
		for _, fl := range e.fields {
			out = append(out, fl.param)
		}
		return out, nil
	}
	return nil, nil
}

// Options lists the enumeration names a mode accepts for its "value"
// parameter, or nil when the mode takes no enumeration.
func Options(f Family, mode string) []string {
	e, ok := registry[f][mode]
	if !ok || e.options == nil {
		return nil
	}
	out := make([]string, 0, len(e.options))
	for k := range e.options {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
