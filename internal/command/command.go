// Package command implements the closed tagged union of microbit commands
// exchanged between peers. Encoding is always lossless JSON; decoding
// validates every field range and rejects unknown command tags.
package command

import (
	"encoding/json"
	"fmt"
)

// Tag identifies the concrete command family carried by a Command.
type Tag string

const (
	TagReset           Tag = "reset"
	TagTemperature     Tag = "temperature"
	TagRunningTime     Tag = "running_time"
	TagPanic           Tag = "panic"
	TagSleep           Tag = "sleep"
	TagButtonIsPressed Tag = "button.is_pressed"
	TagDisplaySetPixel Tag = "set_pixel"
	TagDisplayClear    Tag = "clear"
	TagDisplayShow     Tag = "show"
	TagDisplayOn       Tag = "on"
	TagDisplayOff      Tag = "off"
	TagReadLightLevel  Tag = "read_light_level"
	TagAccelGetX       Tag = "get_x"
	TagAccelGetY       Tag = "get_y"
	TagAccelGetZ       Tag = "get_z"
	TagCurrentGesture  Tag = "current_gesture"
	TagSetRange        Tag = "set_range"
	TagRadioSendBytes  Tag = "radio.send_bytes"
)

// Field range constants.
const (
	MinChannel = 0
	MaxChannel = 83

	MinGroup = 0
	MaxGroup = 255

	MinPower = 0
	MaxPower = 7

	MaxMessageLength = 254

	MinLightLevel = 0
	MaxLightLevel = 255

	MinLED = 0
	MaxLED = 9

	MinDisplayCoord = 0
	MaxDisplayCoord = 4
)

// ErrUnknownCommand is returned by Decode when the `command` discriminator
// does not match any known tag.
var ErrUnknownCommand = fmt.Errorf("command: unknown command tag")

// ErrInvalidField is returned by Decode when a field violates its range.
type ErrInvalidField struct {
	Field  string
	Reason string
}

func (e *ErrInvalidField) Error() string {
	return fmt.Sprintf("command: invalid field %q: %s", e.Field, e.Reason)
}

// Gesture is the closed set of accelerometer gesture names.
type Gesture string

const (
	GestureUp       Gesture = "up"
	GestureDown     Gesture = "down"
	GestureLeft     Gesture = "left"
	GestureRight    Gesture = "right"
	GestureFaceUp   Gesture = "face up"
	GestureFaceDown Gesture = "face down"
	GestureFreefall Gesture = "freefall"
	Gesture3G       Gesture = "3g"
	Gesture6G       Gesture = "6g"
	Gesture8G       Gesture = "8g"
	GestureShake    Gesture = "shake"
	GestureNone     Gesture = ""
)

// Command is the closed union. Exactly one of the typed payload fields is
// meaningful, selected by Tag; all others are left at their zero value.
// A struct (rather than an interface with implementations per tag) is used
// deliberately: wire decoding/encoding is entirely mechanical, and a single
// type keeps the listener callback signature in Peer simple.
type Command struct {
	Tag Tag

	// microbit control
	Temperature int
	Instance    string // "button_a" | "button_b"
	IsPressed   bool

	// display
	X, Y, Value int
	Image       [][]int
	LightLevel  int

	// accelerometer
	AxisValue      int
	CurrentGesture Gesture
	Range          int

	// radio
	Address uint32
	Channel int
	Group   int
	Power   int
	Message []byte
}

// wireCommand is the JSON wire shape. Fields are omitempty so that encoding
// one command tag never leaks the zero values of unrelated families.
type wireCommand struct {
	Command string `json:"command"`

	Temperature *int    `json:"temperature,omitempty"`
	Instance    string  `json:"instance,omitempty"`
	IsPressed   *bool   `json:"is_pressed,omitempty"`
	X           *int    `json:"x,omitempty"`
	Y           *int    `json:"y,omitempty"`
	Value       *int    `json:"value,omitempty"`
	Image       [][]int `json:"image,omitempty"`
	LightLevel  *int    `json:"light_level,omitempty"`
	XVal        *int    `json:"x_value,omitempty"`
	YVal        *int    `json:"y_value,omitempty"`
	ZVal        *int    `json:"z_value,omitempty"`
	CurrentGest *string `json:"current_gesture,omitempty"`
	Range       *int    `json:"range,omitempty"`

	Address *uint32 `json:"address,omitempty"`
	Channel *int    `json:"channel,omitempty"`
	Group   *int    `json:"group,omitempty"`
	Power   *int    `json:"power,omitempty"`
	Message []byte  `json:"message,omitempty"`
}

// Encode serialises c to its lossless JSON wire form. Message bytes are
// base64-encoded by encoding/json's default []byte handling.
func Encode(c Command) ([]byte, error) {
	w := wireCommand{Command: string(c.Tag)}

	switch c.Tag {
	case TagTemperature:
		w.Temperature = &c.Temperature
	case TagButtonIsPressed:
		w.Instance = c.Instance
		w.IsPressed = &c.IsPressed
	case TagDisplaySetPixel:
		w.X, w.Y, w.Value = &c.X, &c.Y, &c.Value
	case TagDisplayShow:
		w.Image = c.Image
	case TagReadLightLevel:
		w.LightLevel = &c.LightLevel
	case TagAccelGetX, TagAccelGetY, TagAccelGetZ:
		switch c.Tag {
		case TagAccelGetX:
			w.XVal = &c.AxisValue
		case TagAccelGetY:
			w.YVal = &c.AxisValue
		case TagAccelGetZ:
			w.ZVal = &c.AxisValue
		}
	case TagCurrentGesture:
		g := string(c.CurrentGesture)
		w.CurrentGest = &g
	case TagSetRange:
		w.Range = &c.Range
	case TagRadioSendBytes:
		w.Address = &c.Address
		w.Channel, w.Group, w.Power = &c.Channel, &c.Group, &c.Power
		w.Message = c.Message
	case TagReset, TagRunningTime, TagPanic, TagSleep, TagDisplayClear, TagDisplayOn, TagDisplayOff:
		// no payload fields
	default:
		return nil, fmt.Errorf("command: cannot encode unknown tag %q", c.Tag)
	}

	return json.Marshal(w)
}

// Decode parses a JSON wire-form command, validating every field range.
// Unknown command tags and malformed payloads return an error; the caller
// (typically the peer read loop) is responsible for logging and skipping.
func Decode(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return Command{}, fmt.Errorf("command: malformed JSON: %w", err)
	}

	tag := Tag(w.Command)
	c := Command{Tag: tag}

	switch tag {
	case TagReset, TagRunningTime, TagPanic, TagSleep, TagDisplayClear, TagDisplayOn, TagDisplayOff:
		return c, nil

	case TagTemperature:
		if w.Temperature == nil {
			return Command{}, &ErrInvalidField{"temperature", "missing"}
		}
		if *w.Temperature < 0 || *w.Temperature > 255 {
			return Command{}, &ErrInvalidField{"temperature", "must be between 0 and 255"}
		}
		c.Temperature = *w.Temperature
		return c, nil

	case TagButtonIsPressed:
		if w.Instance != "button_a" && w.Instance != "button_b" {
			return Command{}, &ErrInvalidField{"instance", "must be button_a or button_b"}
		}
		if w.IsPressed == nil {
			return Command{}, &ErrInvalidField{"is_pressed", "missing"}
		}
		c.Instance, c.IsPressed = w.Instance, *w.IsPressed
		return c, nil

	case TagDisplaySetPixel:
		if w.X == nil || w.Y == nil || w.Value == nil {
			return Command{}, &ErrInvalidField{"set_pixel", "missing x, y or value"}
		}
		if *w.X < MinDisplayCoord || *w.X > MaxDisplayCoord {
			return Command{}, &ErrInvalidField{"x", "must be between 0 and 4"}
		}
		if *w.Y < MinDisplayCoord || *w.Y > MaxDisplayCoord {
			return Command{}, &ErrInvalidField{"y", "must be between 0 and 4"}
		}
		if *w.Value < MinLED || *w.Value > MaxLED {
			return Command{}, &ErrInvalidField{"value", "must be between 0 and 9"}
		}
		c.X, c.Y, c.Value = *w.X, *w.Y, *w.Value
		return c, nil

	case TagDisplayShow:
		c.Image = w.Image
		return c, nil

	case TagReadLightLevel:
		if w.LightLevel == nil {
			return Command{}, &ErrInvalidField{"light_level", "missing"}
		}
		if *w.LightLevel < MinLightLevel || *w.LightLevel > MaxLightLevel {
			return Command{}, &ErrInvalidField{"light_level", "must be between 0 and 255"}
		}
		c.LightLevel = *w.LightLevel
		return c, nil

	case TagAccelGetX:
		if w.XVal == nil {
			return Command{}, &ErrInvalidField{"x_value", "missing"}
		}
		c.AxisValue = *w.XVal
		return c, nil
	case TagAccelGetY:
		if w.YVal == nil {
			return Command{}, &ErrInvalidField{"y_value", "missing"}
		}
		c.AxisValue = *w.YVal
		return c, nil
	case TagAccelGetZ:
		if w.ZVal == nil {
			return Command{}, &ErrInvalidField{"z_value", "missing"}
		}
		c.AxisValue = *w.ZVal
		return c, nil

	case TagCurrentGesture:
		if w.CurrentGest == nil {
			return Command{}, &ErrInvalidField{"current_gesture", "missing"}
		}
		c.CurrentGesture = Gesture(*w.CurrentGest)
		return c, nil

	case TagSetRange:
		if w.Range == nil {
			return Command{}, &ErrInvalidField{"range", "missing"}
		}
		if *w.Range != 2 && *w.Range != 4 && *w.Range != 8 {
			return Command{}, &ErrInvalidField{"range", "must be 2, 4 or 8"}
		}
		c.Range = *w.Range
		return c, nil

	case TagRadioSendBytes:
		if w.Channel == nil || w.Group == nil || w.Power == nil || w.Address == nil {
			return Command{}, &ErrInvalidField{"radio.send_bytes", "missing address, channel, group or power"}
		}
		if *w.Channel < MinChannel || *w.Channel > MaxChannel {
			return Command{}, &ErrInvalidField{"channel", "must be between 0 and 83"}
		}
		if *w.Group < MinGroup || *w.Group > MaxGroup {
			return Command{}, &ErrInvalidField{"group", "must be between 0 and 255"}
		}
		if *w.Power < MinPower || *w.Power > MaxPower {
			return Command{}, &ErrInvalidField{"power", "must be between 0 and 7"}
		}
		if len(w.Message) > MaxMessageLength {
			return Command{}, &ErrInvalidField{"message", "must be at most 254 bytes"}
		}
		c.Address, c.Channel, c.Group, c.Power, c.Message = *w.Address, *w.Channel, *w.Group, *w.Power, w.Message
		return c, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, w.Command)
	}
}
