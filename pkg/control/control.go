// Package control defines the commands a technician sends to an agent
// over the peer data channel once the WebRTC session is up.
//
// Every command is a JSON object tagged with the type field:
//
//	{"type":"mouseMove","x":960,"y":540}
//	{"type":"keyToggle","key":"c","down":true,"modifiers":["control"]}
//
// The pointer coordinates are in the agent screen pixels, the technician
// learns the screen size with the getResolution/resolution exchange.
package control

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type Type string

const (
	MouseMoveType     Type = "mouseMove"
	MouseClickType    Type = "mouseClick"
	ScrollType        Type = "scroll"
	KeyToggleType     Type = "keyToggle"
	GetResolutionType Type = "getResolution"
	ResolutionType    Type = "resolution"
)

type Button string

const (
	Left  Button = "left"
	Right Button = "right"
)

type Modifier string

const (
	Control Modifier = "control"
	Alt     Modifier = "alt"
	Shift   Modifier = "shift"
	Command Modifier = "command"
)

var (
	ErrMalformed       = errors.New("malformed command")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownButton   = errors.New("unknown mouse button")
	ErrUnknownModifier = errors.New("unknown key modifier")
	ErrNoKey           = errors.New("key required")
	ErrBadResolution   = errors.New("resolution must be positive")
)

// Cmd is one of the control commands.
type Cmd interface {
	Kind() Type
}

type (
	MouseMove struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	MouseClick struct {
		Button Button `json:"button"`
		Down   bool   `json:"down"`
		Double bool   `json:"double"`
	}
	Scroll struct {
		DX int `json:"dx"`
		DY int `json:"dy"`
	}
	// KeyToggle is a single key press or release, the modifiers held
	// at that moment are always sent explicitly.
	KeyToggle struct {
		Key       string     `json:"key"`
		Down      bool       `json:"down"`
		Modifiers []Modifier `json:"modifiers"`
	}
	GetResolution struct{}
	Resolution    struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
)

func (MouseMove) Kind() Type     { return MouseMoveType }
func (MouseClick) Kind() Type    { return MouseClickType }
func (Scroll) Kind() Type        { return ScrollType }
func (KeyToggle) Kind() Type     { return KeyToggleType }
func (GetResolution) Kind() Type { return GetResolutionType }
func (Resolution) Kind() Type    { return ResolutionType }

func (b Button) valid() bool { return b == Left || b == Right }

func (m Modifier) valid() bool {
	switch m {
	case Control, Alt, Shift, Command:
		return true
	}
	return false
}

// Has tells if the modifier is held.
func (k KeyToggle) Has(m Modifier) bool {
	for _, x := range k.Modifiers {
		if x == m {
			return true
		}
	}
	return false
}

// Encode writes the command with its type tag.
func Encode(c Cmd) ([]byte, error) {
	if c == nil {
		return nil, ErrUnknownCommand
	}
	if k, ok := c.(KeyToggle); ok && k.Modifiers == nil {
		k.Modifiers = []Modifier{}
		c = k
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+24)
	out = append(out, `{"type":"`...)
	out = append(out, string(c.Kind())...)
	out = append(out, '"')
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}

// Decode reads a command and validates its fields.
func Decode(data []byte) (Cmd, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var c Cmd
	var err error
	switch env.Type {
	case MouseMoveType:
		c, err = unwrap[MouseMove](data)
	case MouseClickType:
		var v MouseClick
		if v, err = unwrap[MouseClick](data); err == nil && !v.Button.valid() {
			err = fmt.Errorf("%w: %q", ErrUnknownButton, v.Button)
		}
		c = v
	case ScrollType:
		c, err = unwrap[Scroll](data)
	case KeyToggleType:
		var v KeyToggle
		if v, err = unwrap[KeyToggle](data); err == nil {
			err = v.validate()
		}
		c = v
	case GetResolutionType:
		c = GetResolution{}
	case ResolutionType:
		var v Resolution
		if v, err = unwrap[Resolution](data); err == nil && (v.Width <= 0 || v.Height <= 0) {
			err = ErrBadResolution
		}
		c = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (k KeyToggle) validate() error {
	if k.Key == "" {
		return ErrNoKey
	}
	for _, m := range k.Modifiers {
		if !m.valid() {
			return fmt.Errorf("%w: %q", ErrUnknownModifier, m)
		}
	}
	return nil
}

func unwrap[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
