package climate

import (
	"errors"
	"fmt"
)

// Normalized climate vocabulary. The vendor wire encoding lives in
// internal/devicemap; everything above the device client speaks these values.

// Mode is the operating mode of a unit.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeDry  Mode = "dry"
	ModeCool Mode = "cool"
	ModeHeat Mode = "heat"
	ModeFan  Mode = "fan"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeDry, ModeCool, ModeHeat, ModeFan:
		return true
	}
	return false
}

// FanSpeed is the fan setting of a unit.
type FanSpeed string

const (
	FanAuto    FanSpeed = "auto"
	FanLow     FanSpeed = "low"
	FanLowMid  FanSpeed = "low_mid"
	FanMid     FanSpeed = "mid"
	FanHighMid FanSpeed = "high_mid"
	FanHigh    FanSpeed = "high"
)

func (f FanSpeed) Valid() bool {
	switch f {
	case FanAuto, FanLow, FanLowMid, FanMid, FanHighMid, FanHigh:
		return true
	}
	return false
}

// SwingVertical is the up/down louver position.
type SwingVertical string

const (
	SwingVerticalAuto    SwingVertical = "auto"
	SwingVerticalUp      SwingVertical = "up"
	SwingVerticalUpMid   SwingVertical = "up_mid"
	SwingVerticalMid     SwingVertical = "mid"
	SwingVerticalDownMid SwingVertical = "down_mid"
	SwingVerticalDown    SwingVertical = "down"
)

func (s SwingVertical) Valid() bool {
	switch s {
	case SwingVerticalAuto, SwingVerticalUp, SwingVerticalUpMid,
		SwingVerticalMid, SwingVerticalDownMid, SwingVerticalDown:
		return true
	}
	return false
}

// SwingHorizontal is the left/right louver position.
type SwingHorizontal string

const (
	SwingHorizontalAuto     SwingHorizontal = "auto"
	SwingHorizontalLeft     SwingHorizontal = "left"
	SwingHorizontalLeftMid  SwingHorizontal = "left_mid"
	SwingHorizontalMid      SwingHorizontal = "mid"
	SwingHorizontalRightMid SwingHorizontal = "right_mid"
	SwingHorizontalRight    SwingHorizontal = "right"
)

func (s SwingHorizontal) Valid() bool {
	switch s {
	case SwingHorizontalAuto, SwingHorizontalLeft, SwingHorizontalLeftMid,
		SwingHorizontalMid, SwingHorizontalRightMid, SwingHorizontalRight:
		return true
	}
	return false
}

// EcoMode selects between the eco presets.
type EcoMode string

const (
	EcoAuto     EcoMode = "auto"
	EcoPowerful EcoMode = "powerful"
	EcoQuiet    EcoMode = "quiet"
)

func (e EcoMode) Valid() bool {
	switch e {
	case EcoAuto, EcoPowerful, EcoQuiet:
		return true
	}
	return false
}

// NanoeMode controls the air purifier stage on units that have one.
type NanoeMode string

const (
	NanoeUnavailable NanoeMode = "unavailable"
	NanoeOff         NanoeMode = "off"
	NanoeOn          NanoeMode = "on"
	NanoeModeG       NanoeMode = "mode_g"
	NanoeAll         NanoeMode = "all"
)

func (n NanoeMode) Valid() bool {
	switch n {
	case NanoeUnavailable, NanoeOff, NanoeOn, NanoeModeG, NanoeAll:
		return true
	}
	return false
}

// Target temperature bounds accepted by the vendor app across all modes.
const (
	MinTargetTemperature = 8.0
	MaxTargetTemperature = 30.0
)

// Device is one Comfort Cloud appliance.
type Device struct {
	GUID  string `json:"guid"`
	Name  string `json:"name"`
	Group string `json:"group"`
	Model string `json:"model"`
	Type  string `json:"type"`
}

// State is a full snapshot of one device's climate parameters. The measured
// temperatures are read-only and nil when the unit does not report them.
type State struct {
	Power              bool            `json:"power"`
	Mode               Mode            `json:"mode"`
	TargetTemperature  float64         `json:"targetTemperature"`
	FanSpeed           FanSpeed        `json:"fanSpeed"`
	SwingVertical      SwingVertical   `json:"swingVertical"`
	SwingHorizontal    SwingHorizontal `json:"swingHorizontal"`
	Eco                EcoMode         `json:"eco"`
	Nanoe              NanoeMode       `json:"nanoe,omitempty"`
	IndoorTemperature  *float64        `json:"indoorTemperature,omitempty"`
	OutdoorTemperature *float64        `json:"outdoorTemperature,omitempty"`
}

// Command is a partial write: only the non-nil fields change on the device.
type Command struct {
	Power             *bool            `json:"power,omitempty"`
	Mode              *Mode            `json:"mode,omitempty"`
	TargetTemperature *float64         `json:"targetTemperature,omitempty"`
	FanSpeed          *FanSpeed        `json:"fanSpeed,omitempty"`
	SwingVertical     *SwingVertical   `json:"swingVertical,omitempty"`
	SwingHorizontal   *SwingHorizontal `json:"swingHorizontal,omitempty"`
	Eco               *EcoMode         `json:"eco,omitempty"`
	Nanoe             *NanoeMode       `json:"nanoe,omitempty"`
}

// IsZero reports whether the command changes nothing.
func (c Command) IsZero() bool {
	return c.Power == nil && c.Mode == nil && c.TargetTemperature == nil &&
		c.FanSpeed == nil && c.SwingVertical == nil && c.SwingHorizontal == nil &&
		c.Eco == nil && c.Nanoe == nil
}

// Validate checks every field the command sets against the normalized
// vocabulary before anything goes on the wire.
func (c Command) Validate() error {
	if c.IsZero() {
		return errors.New("command changes nothing")
	}
	if c.Mode != nil && !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", *c.Mode)
	}
	if c.TargetTemperature != nil &&
		(*c.TargetTemperature < MinTargetTemperature || *c.TargetTemperature > MaxTargetTemperature) {
		return fmt.Errorf("target temperature %.1f outside %.0f..%.0f",
			*c.TargetTemperature, MinTargetTemperature, MaxTargetTemperature)
	}
	if c.FanSpeed != nil && !c.FanSpeed.Valid() {
		return fmt.Errorf("invalid fan speed %q", *c.FanSpeed)
	}
	if c.SwingVertical != nil && !c.SwingVertical.Valid() {
		return fmt.Errorf("invalid vertical swing %q", *c.SwingVertical)
	}
	if c.SwingHorizontal != nil && !c.SwingHorizontal.Valid() {
		return fmt.Errorf("invalid horizontal swing %q", *c.SwingHorizontal)
	}
	if c.Eco != nil && !c.Eco.Valid() {
		return fmt.Errorf("invalid eco mode %q", *c.Eco)
	}
	if c.Nanoe != nil && !c.Nanoe.Valid() {
		return fmt.Errorf("invalid nanoe mode %q", *c.Nanoe)
	}
	return nil
}

// ApplyTo merges the command over base and returns the result. Fields the
// command does not set keep their current value, so a partial write never
// resets the rest of the unit's settings.
func (c Command) ApplyTo(base State) State {
	if c.Power != nil {
		base.Power = *c.Power
	}
	if c.Mode != nil {
		base.Mode = *c.Mode
	}
	if c.TargetTemperature != nil {
		base.TargetTemperature = *c.TargetTemperature
	}
	if c.FanSpeed != nil {
		base.FanSpeed = *c.FanSpeed
	}
	if c.SwingVertical != nil {
		base.SwingVertical = *c.SwingVertical
	}
	if c.SwingHorizontal != nil {
		base.SwingHorizontal = *c.SwingHorizontal
	}
	if c.Eco != nil {
		base.Eco = *c.Eco
	}
	if c.Nanoe != nil {
		base.Nanoe = *c.Nanoe
	}
	return base
}
