package tpu

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_GoldenFrames(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"zoom in", Command{Family: FamilyZoom, Mode: "in"}, "#TPUM2wZMC015D"},
		{"zoom out", Command{Family: FamilyZoom, Mode: "out"}, "#TPUM2wZMC025E"},
		{"zoom stop", Command{Family: FamilyZoom, Mode: "stop"}, "#TPUM2wZMC005C"},
		{"zoom get", Command{Family: FamilyZoom, Mode: "get"}, "#TPUM2rZOM0063"},
		{"focus +", Command{Family: FamilyFocus, Mode: "+"}, "#TPUM2wFCC013F"},
		{"focus -", Command{Family: FamilyFocus, Mode: "-"}, "#TPUM2wFCC0240"},
		{"focus stop", Command{Family: FamilyFocus, Mode: "stop"}, "#TPUM2wFCC003E"},
		{"focus get", Command{Family: FamilyFocus, Mode: "get"}, "#TPUM2rFOC0045"},
		{"ptz mode up", Command{Family: FamilyPTZControl, Mode: "set_mode", Params: Params{"value": "up"}}, "#TPUP2wPTZ0174"},
		{"ptz mode center", Command{Family: FamilyPTZControl, Mode: "set_mode", Params: Params{"value": "center"}}, "#TPUP2wPTZ0578"},
		{"ptz speed low", Command{Family: FamilyPTZControl, Mode: "set_speed", Params: Params{"value": "low"}}, "#TPUP2wSPD005C"},
		{"yaw speed", Command{Family: FamilyPTZControl, Mode: "yaw_speed", Params: Params{"value": -30}}, "#TPUG2wGSYE276"},
		{"roll speed wraps", Command{Family: FamilyPTZControl, Mode: "roll_speed", Params: Params{"value": 200}}, "#TPUG2wGSRC873"},
		{"yaw angle", Command{Family: FamilyPTZControl, Mode: "yaw_angle", Params: Params{"angle_value": -50, "rate_value": 50}}, "#tpUG6wGAYEC78328D"},
		{"pitch angle fractional", Command{Family: FamilyPTZControl, Mode: "pitch_angle", Params: Params{"angle_value": 12.5, "rate_value": 30}}, "#tpUG6wGAP04E21E79"},
		{"yaw pitch speed", Command{Family: FamilyPTZControl, Mode: "yaw_pitch_speed", Params: Params{"yaw_value": 20, "pitch_value": -20}}, "#tpUG4wGSM14EC22"},
		{"yaw pitch angle", Command{Family: FamilyPTZControl, Mode: "yaw_pitch_angle", Params: Params{
			"yaw_value": 90, "yaw_rate": 10, "pitch_value": -45, "pitch_rate": 20,
		}}, "#tpUGCwGAM23280AEE6C14DA"},
		{"angle get", Command{Family: FamilyPTZControl, Mode: "angle_get"}, "#TPUG2rGAC0032"},
		{"zoom focus set", Command{Family: FamilyZoomFocus, Mode: "set", Params: Params{"zoom_value": -30, "focus_value": 50}}, "#tpUM8wZFPFFE2003210"},
		{"awb daylight", Command{Family: FamilyImage, Mode: "awb", Params: Params{"value": "daylight"}}, "#TPUD2wAWB0548"},
		{"iso inc", Command{Family: FamilyImage, Mode: "iso", Params: Params{"value": "inc"}}, "#TPUD2wISO0A65"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Build(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.String())
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	cmd := Command{Family: FamilyPTZControl, Mode: "yaw_angle", Params: Params{"angle_value": 33, "rate_value": -7}}
	a, err := Build(cmd)
	require.NoError(t, err)
	b, err := Build(cmd)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuild_ChecksumProperty(t *testing.T) {
	for _, fam := range Families() {
		for _, mode := range Modes(fam) {
			params := Params{}
			names, err := ModeParams(fam, mode)
			require.NoError(t, err)
			for _, n := range names {
				if opts := Options(fam, mode); opts != nil {
					params[n] = opts[0]
				} else {
					params[n] = -17
				}
			}

			f, err := Build(Command{Family: fam, Mode: mode, Params: params})
			require.NoError(t, err, "%s/%s", fam, mode)

			raw := f.Bytes()
			body := raw[:len(raw)-2]
			var sum int
			for _, c := range body {
				sum += int(c)
			}
			assert.Equal(t, fmt.Sprintf("%02X", sum%256), f.Checksum(), "%s/%s", fam, mode)

			declared, err := strconv.ParseUint(string(f.Length()), 16, 8)
			require.NoError(t, err)
			assert.Len(t, f.Payload(), int(declared), "%s/%s", fam, mode)
		}
	}
}

func TestFrame_Fields(t *testing.T) {
	f, err := Build(Command{Family: FamilyPTZControl, Mode: "yaw_angle", Params: Params{"angle_value": -50, "rate_value": 50}})
	require.NoError(t, err)

	assert.Equal(t, HeaderVariable, f.Header())
	assert.Equal(t, TypeGimbal, f.Type())
	assert.Equal(t, byte('6'), f.Length())
	assert.Equal(t, "wGAY", f.Mnemonic())
	assert.Equal(t, "EC7832", f.Payload())
	assert.Equal(t, "8D", f.Checksum())
	assert.False(t, f.IsRead())
	assert.Equal(t, 18, f.Len())
}

func TestFrame_ZeroValue(t *testing.T) {
	f, err := Build(Command{Family: FamilyZoom, Mode: "sideways"})
	require.Error(t, err)
	require.True(t, f.IsZero())

	assert.Equal(t, Header(""), f.Header())
	assert.Equal(t, byte(0), f.Type())
	assert.Equal(t, byte(0), f.Length())
	assert.Empty(t, f.Mnemonic())
	assert.Empty(t, f.Payload())
	assert.Empty(t, f.Checksum())
	assert.False(t, f.IsRead())
	assert.Equal(t, 0, f.Len())
	assert.Empty(t, f.String())
}

func TestEncode_RejectsLengthMismatch(t *testing.T) {
	_, err := Encode(Resolved{Header: HeaderFixed, Type: TypeMotor, Length: '4', Mnemonic: "wZMC", Payload: "01"})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestEncode_RejectsMalformedParts(t *testing.T) {
	tests := []struct {
		name string
		r    Resolved
	}{
		{"header", Resolved{Header: "#XYZ", Type: TypeMotor, Length: '2', Mnemonic: "wZMC", Payload: "01"}},
		{"type", Resolved{Header: HeaderFixed, Type: '#', Length: '2', Mnemonic: "wZMC", Payload: "01"}},
		{"mnemonic length", Resolved{Header: HeaderFixed, Type: TypeMotor, Length: '2', Mnemonic: "wZM", Payload: "01"}},
		{"mnemonic prefix", Resolved{Header: HeaderFixed, Type: TypeMotor, Length: '2', Mnemonic: "cGAR", Payload: "01"}},
		{"payload", Resolved{Header: HeaderFixed, Type: TypeMotor, Length: '2', Mnemonic: "wZMC", Payload: "0g"}},
		{"length code", Resolved{Header: HeaderFixed, Type: TypeMotor, Length: 'x', Mnemonic: "wZMC", Payload: "01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.r)
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte("#tpUG6wGAYEC78328D"))
	require.NoError(t, err)
	assert.Equal(t, "wGAY", f.Mnemonic())
	assert.Equal(t, "EC7832", f.Payload())

	_, err = ParseFrame([]byte("#TPUM2wZMC015E"))
	require.ErrorIs(t, err, ErrChecksumMismatch)

	_, err = ParseFrame([]byte("#TPUM4wZMC015D"))
	require.ErrorIs(t, err, ErrLengthMismatch)

	_, err = ParseFrame([]byte("#TPU"))
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = ParseFrame([]byte("$TPUM2wZMC015D"))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0x00), Checksum(nil))
	assert.Equal(t, byte(0x54), Checksum([]byte{0xAA, 0xAA}))
	assert.Equal(t, byte(0x5D), Checksum([]byte("#TPUM2wZMC01")))
}
