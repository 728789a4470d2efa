// Package devicemap translates between the Comfort Cloud parameter encoding
// and the normalized climate model. The vendor speaks small integers with a
// few irregularities (the horizontal swing scale skips a value, absent
// temperatures read 126), and all of that stays contained here.
package devicemap

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/climate"
	"github.com/kristofferous/ComfortcloudPanasonicApp/internal/comfortcloud"
)

// absentTemperature is what units report when a sensor value is unavailable.
const absentTemperature = 126

// parameters is the vendor parameter block. Pointers distinguish absent
// fields from zero values; the scales are full of meaningful zeros.
type parameters struct {
	Operate           *int     `json:"operate,omitempty"`
	OperationMode     *int     `json:"operationMode,omitempty"`
	TemperatureSet    *float64 `json:"temperatureSet,omitempty"`
	FanSpeed          *int     `json:"fanSpeed,omitempty"`
	AirSwingUD        *int     `json:"airSwingUD,omitempty"`
	AirSwingLR        *int     `json:"airSwingLR,omitempty"`
	EcoMode           *int     `json:"ecoMode,omitempty"`
	Nanoe             *int     `json:"nanoe,omitempty"`
	InsideTemperature *float64 `json:"insideTemperature,omitempty"`
	OutTemperature    *float64 `json:"outTemperature,omitempty"`
}

var modeToWire = map[climate.Mode]int{
	climate.ModeAuto: 0,
	climate.ModeDry:  1,
	climate.ModeCool: 2,
	climate.ModeHeat: 3,
	climate.ModeFan:  4,
}

var modeFromWire = map[int]climate.Mode{
	0: climate.ModeAuto,
	1: climate.ModeDry,
	2: climate.ModeCool,
	3: climate.ModeHeat,
	4: climate.ModeFan,
}

var fanToWire = map[climate.FanSpeed]int{
	climate.FanAuto:    0,
	climate.FanLow:     1,
	climate.FanLowMid:  2,
	climate.FanMid:     3,
	climate.FanHighMid: 4,
	climate.FanHigh:    5,
}

var fanFromWire = map[int]climate.FanSpeed{
	0: climate.FanAuto,
	1: climate.FanLow,
	2: climate.FanLowMid,
	3: climate.FanMid,
	4: climate.FanHighMid,
	5: climate.FanHigh,
}

var swingVerticalToWire = map[climate.SwingVertical]int{
	climate.SwingVerticalAuto:    -1,
	climate.SwingVerticalUp:      0,
	climate.SwingVerticalDown:    1,
	climate.SwingVerticalMid:     2,
	climate.SwingVerticalUpMid:   3,
	climate.SwingVerticalDownMid: 4,
}

var swingVerticalFromWire = map[int]climate.SwingVertical{
	-1: climate.SwingVerticalAuto,
	0:  climate.SwingVerticalUp,
	1:  climate.SwingVerticalDown,
	2:  climate.SwingVerticalMid,
	3:  climate.SwingVerticalUpMid,
	4:  climate.SwingVerticalDownMid,
}

// The horizontal scale has no 3; the vendor never assigned it.
var swingHorizontalToWire = map[climate.SwingHorizontal]int{
	climate.SwingHorizontalAuto:     -1,
	climate.SwingHorizontalRight:    0,
	climate.SwingHorizontalLeft:     1,
	climate.SwingHorizontalMid:      2,
	climate.SwingHorizontalRightMid: 4,
	climate.SwingHorizontalLeftMid:  5,
}

var swingHorizontalFromWire = map[int]climate.SwingHorizontal{
	-1: climate.SwingHorizontalAuto,
	0:  climate.SwingHorizontalRight,
	1:  climate.SwingHorizontalLeft,
	2:  climate.SwingHorizontalMid,
	4:  climate.SwingHorizontalRightMid,
	5:  climate.SwingHorizontalLeftMid,
}

var ecoToWire = map[climate.EcoMode]int{
	climate.EcoAuto:     0,
	climate.EcoPowerful: 1,
	climate.EcoQuiet:    2,
}

var ecoFromWire = map[int]climate.EcoMode{
	0: climate.EcoAuto,
	1: climate.EcoPowerful,
	2: climate.EcoQuiet,
}

var nanoeToWire = map[climate.NanoeMode]int{
	climate.NanoeUnavailable: 0,
	climate.NanoeOff:         1,
	climate.NanoeOn:          2,
	climate.NanoeModeG:       3,
	climate.NanoeAll:         4,
}

var nanoeFromWire = map[int]climate.NanoeMode{
	0: climate.NanoeUnavailable,
	1: climate.NanoeOff,
	2: climate.NanoeOn,
	3: climate.NanoeModeG,
	4: climate.NanoeAll,
}

// Mapper is the default DeviceMapper for Panasonic climate units.
type Mapper struct{}

var _ comfortcloud.DeviceMapper = Mapper{}

func New() Mapper {
	return Mapper{}
}

// DecodeState converts a vendor parameter block into a normalized state.
// Fields the unit did not report fall back to the auto settings; unknown
// codes are an error so protocol changes surface instead of being silently
// misread.
func (Mapper) DecodeState(raw json.RawMessage) (climate.State, error) {
	if len(raw) == 0 {
		return climate.State{}, errors.New("empty parameter block")
	}
	var p parameters
	if err := json.Unmarshal(raw, &p); err != nil {
		return climate.State{}, fmt.Errorf("decode parameters: %w", err)
	}

	state := climate.State{
		Mode:            climate.ModeAuto,
		FanSpeed:        climate.FanAuto,
		SwingVertical:   climate.SwingVerticalAuto,
		SwingHorizontal: climate.SwingHorizontalAuto,
		Eco:             climate.EcoAuto,
		Nanoe:           climate.NanoeUnavailable,
	}

	if p.Operate != nil {
		state.Power = *p.Operate == 1
	}
	if p.OperationMode != nil {
		mode, ok := modeFromWire[*p.OperationMode]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown operation mode %d", *p.OperationMode)
		}
		state.Mode = mode
	}
	if p.TemperatureSet != nil {
		state.TargetTemperature = *p.TemperatureSet
	}
	if p.FanSpeed != nil {
		fan, ok := fanFromWire[*p.FanSpeed]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown fan speed %d", *p.FanSpeed)
		}
		state.FanSpeed = fan
	}
	if p.AirSwingUD != nil {
		swing, ok := swingVerticalFromWire[*p.AirSwingUD]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown vertical swing %d", *p.AirSwingUD)
		}
		state.SwingVertical = swing
	}
	if p.AirSwingLR != nil {
		swing, ok := swingHorizontalFromWire[*p.AirSwingLR]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown horizontal swing %d", *p.AirSwingLR)
		}
		state.SwingHorizontal = swing
	}
	if p.EcoMode != nil {
		eco, ok := ecoFromWire[*p.EcoMode]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown eco mode %d", *p.EcoMode)
		}
		state.Eco = eco
	}
	if p.Nanoe != nil {
		nanoe, ok := nanoeFromWire[*p.Nanoe]
		if !ok {
			return climate.State{}, fmt.Errorf("unknown nanoe mode %d", *p.Nanoe)
		}
		state.Nanoe = nanoe
	}
	if p.InsideTemperature != nil && *p.InsideTemperature != absentTemperature {
		v := *p.InsideTemperature
		state.IndoorTemperature = &v
	}
	if p.OutTemperature != nil && *p.OutTemperature != absentTemperature {
		v := *p.OutTemperature
		state.OutdoorTemperature = &v
	}
	return state, nil
}

// EncodeState converts a normalized state into the vendor parameter block
// for a control write. Empty enum fields are left off the wire; the measured
// temperatures are read-only and never encoded.
func (Mapper) EncodeState(state climate.State) (json.RawMessage, error) {
	var p parameters

	operate := 0
	if state.Power {
		operate = 1
	}
	p.Operate = &operate

	if state.Mode != "" {
		mode, ok := modeToWire[state.Mode]
		if !ok {
			return nil, fmt.Errorf("unmappable mode %q", state.Mode)
		}
		p.OperationMode = &mode
	}
	if state.TargetTemperature != 0 {
		temperature := state.TargetTemperature
		p.TemperatureSet = &temperature
	}
	if state.FanSpeed != "" {
		fan, ok := fanToWire[state.FanSpeed]
		if !ok {
			return nil, fmt.Errorf("unmappable fan speed %q", state.FanSpeed)
		}
		p.FanSpeed = &fan
	}
	if state.SwingVertical != "" {
		swing, ok := swingVerticalToWire[state.SwingVertical]
		if !ok {
			return nil, fmt.Errorf("unmappable vertical swing %q", state.SwingVertical)
		}
		p.AirSwingUD = &swing
	}
	if state.SwingHorizontal != "" {
		swing, ok := swingHorizontalToWire[state.SwingHorizontal]
		if !ok {
			return nil, fmt.Errorf("unmappable horizontal swing %q", state.SwingHorizontal)
		}
		p.AirSwingLR = &swing
	}
	if state.Eco != "" {
		eco, ok := ecoToWire[state.Eco]
		if !ok {
			return nil, fmt.Errorf("unmappable eco mode %q", state.Eco)
		}
		p.EcoMode = &eco
	}
	// Units without the purifier report it unavailable; commanding it would
	// be rejected.
	if state.Nanoe != "" && state.Nanoe != climate.NanoeUnavailable {
		nanoe, ok := nanoeToWire[state.Nanoe]
		if !ok {
			return nil, fmt.Errorf("unmappable nanoe mode %q", state.Nanoe)
		}
		p.Nanoe = &nanoe
	}

	return json.Marshal(p)
}
