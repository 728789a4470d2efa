package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool                { return &v }
func floatPtr(v float64) *float64         { return &v }
func modePtr(v Mode) *Mode                { return &v }
func fanPtr(v FanSpeed) *FanSpeed         { return &v }
func ecoPtr(v EcoMode) *EcoMode           { return &v }
func swingVPtr(v SwingVertical) *SwingVertical { return &v }

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr string
	}{
		{
			name: "power only",
			cmd:  Command{Power: boolPtr(true)},
		},
		{
			name: "full command",
			cmd: Command{
				Power:             boolPtr(true),
				Mode:              modePtr(ModeHeat),
				TargetTemperature: floatPtr(21.5),
				FanSpeed:          fanPtr(FanLow),
				Eco:               ecoPtr(EcoQuiet),
			},
		},
		{
			name:    "empty command",
			cmd:     Command{},
			wantErr: "changes nothing",
		},
		{
			name:    "unknown mode",
			cmd:     Command{Mode: modePtr(Mode("tropical"))},
			wantErr: "invalid mode",
		},
		{
			name:    "unknown fan speed",
			cmd:     Command{FanSpeed: fanPtr(FanSpeed("turbo"))},
			wantErr: "invalid fan speed",
		},
		{
			name:    "temperature too low",
			cmd:     Command{TargetTemperature: floatPtr(5)},
			wantErr: "target temperature",
		},
		{
			name:    "temperature too high",
			cmd:     Command{TargetTemperature: floatPtr(31)},
			wantErr: "target temperature",
		},
		{
			name:    "unknown swing",
			cmd:     Command{SwingVertical: swingVPtr(SwingVertical("sideways"))},
			wantErr: "invalid vertical swing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCommand_ApplyTo(t *testing.T) {
	indoor := 22.5
	base := State{
		Power:             true,
		Mode:              ModeCool,
		TargetTemperature: 21,
		FanSpeed:          FanAuto,
		SwingVertical:     SwingVerticalMid,
		SwingHorizontal:   SwingHorizontalMid,
		Eco:               EcoAuto,
		Nanoe:             NanoeOff,
		IndoorTemperature: &indoor,
	}

	merged := Command{
		Mode:              modePtr(ModeHeat),
		TargetTemperature: floatPtr(23),
	}.ApplyTo(base)

	// Changed fields.
	assert.Equal(t, ModeHeat, merged.Mode)
	assert.InDelta(t, 23, merged.TargetTemperature, 0.01)

	// Everything else keeps the base value.
	assert.True(t, merged.Power)
	assert.Equal(t, FanAuto, merged.FanSpeed)
	assert.Equal(t, SwingVerticalMid, merged.SwingVertical)
	assert.Equal(t, SwingHorizontalMid, merged.SwingHorizontal)
	assert.Equal(t, EcoAuto, merged.Eco)
	assert.Equal(t, NanoeOff, merged.Nanoe)
	require.NotNil(t, merged.IndoorTemperature)
	assert.InDelta(t, 22.5, *merged.IndoorTemperature, 0.01)

	// The base itself is untouched.
	assert.Equal(t, ModeCool, base.Mode)
	assert.InDelta(t, 21, base.TargetTemperature, 0.01)
}

func TestCommand_IsZero(t *testing.T) {
	assert.True(t, Command{}.IsZero())
	assert.False(t, Command{Power: boolPtr(false)}.IsZero())
	assert.False(t, Command{TargetTemperature: floatPtr(20)}.IsZero())
}

func TestVocabulary_Valid(t *testing.T) {
	assert.True(t, ModeAuto.Valid())
	assert.True(t, ModeFan.Valid())
	assert.False(t, Mode("").Valid())

	assert.True(t, FanHighMid.Valid())
	assert.False(t, FanSpeed("max").Valid())

	assert.True(t, SwingVerticalDownMid.Valid())
	assert.False(t, SwingVertical("").Valid())

	assert.True(t, SwingHorizontalRightMid.Valid())
	assert.False(t, SwingHorizontal("back").Valid())

	assert.True(t, EcoPowerful.Valid())
	assert.False(t, EcoMode("eco").Valid())

	assert.True(t, NanoeModeG.Valid())
	assert.True(t, NanoeUnavailable.Valid())
	assert.False(t, NanoeMode("x").Valid())
}
