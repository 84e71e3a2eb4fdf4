// Package api defines the signaling protocol spoken over the broker websocket.
//
// Each message is a JSON object with a required type field, the rest of the
// fields depend on the type:
//
//	{"type":"join","code":"785-234-991","role":"agent"}
//	{"type":"offer","code":"785-234-991","offer":{"type":"offer","sdp":"v=0..."}}
//
// The set of types is closed, anything else is rejected at decoding.
// The negotiation messages (offer, answer, ice-candidate) are opaque for the
// broker, it forwards them to the other party as is, only adding the sender
// role in the from field and the relay time in the timestamp field.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

type Type string

const (
	Join             Type = "join"
	Joined           Type = "joined"
	PeerJoined       Type = "peer-joined"
	PeerDisconnected Type = "peer-disconnected"
	SessionExpired   Type = "session-expired"
	SessionClosed    Type = "session-closed"
	Superseded       Type = "superseded"
	Offer            Type = "offer"
	Answer           Type = "answer"
	IceCandidate     Type = "ice-candidate"
	Ping             Type = "ping"
	Pong             Type = "pong"
	Error            Type = "error"
	Welcome          Type = "welcome"
)

var known = map[Type]struct{}{
	Join: {}, Joined: {}, PeerJoined: {}, PeerDisconnected: {}, SessionExpired: {}, SessionClosed: {},
	Superseded: {}, Offer: {}, Answer: {}, IceCandidate: {}, Ping: {}, Pong: {}, Error: {}, Welcome: {},
}

func (t Type) Known() bool { _, ok := known[t]; return ok }

// IsNegotiation tells if the message is relayed between the peers.
func (t Type) IsNegotiation() bool { return t == Offer || t == Answer || t == IceCandidate }

type Role string

const (
	Agent      Role = "agent"
	Technician Role = "technician"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case Agent, Technician:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == Agent {
		return Technician
	}
	return Agent
}

func (r Role) String() string { return string(r) }

var (
	ErrMalformed    = errors.New("malformed message")
	ErrNoType       = errors.New("message type required")
	ErrUnknownType  = errors.New("unknown message type")
	ErrInvalidRole  = errors.New("role must be agent or technician")
	ErrNotAnObject  = errors.New("message is not an object")
	errTrailingData = errors.New("no closing brace")
)

// Message is a decoded envelope with the original bytes.
type Message struct {
	Type Type
	Raw  []byte
}

// Decode checks the envelope of a message.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == nil || *env.Type == "" {
		return Message{}, ErrNoType
	}
	t := Type(*env.Type)
	if !t.Known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, *env.Type)
	}
	return Message{Type: t, Raw: data}, nil
}

// Unwrap decodes the whole message into v.
func (m Message) Unwrap(v any) error {
	if err := json.Unmarshal(m.Raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Stamp adds the sender role and the relay time into a raw message.
// The original bytes of the other members are kept intact, the fields are
// appended to the end of the object. Any from or timestamp members the sender
// put in are dropped first.
func Stamp(raw []byte, from Role, ts int64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return nil, ErrNotAnObject
	}

	var out []byte
	_, hasFrom := fields["from"]
	_, hasTime := fields["timestamp"]
	if hasFrom || hasTime {
		kept, err := stripMembers(raw, "from", "timestamp")
		if err != nil {
			return nil, err
		}
		out = make([]byte, 0, len(raw)+48)
		out = append(out, '{')
		for i, m := range kept {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, m...)
		}
		if len(kept) > 0 {
			out = append(out, ',')
		}
	} else {
		body := bytes.TrimRight(raw, " \t\r\n")
		if len(body) == 0 || body[len(body)-1] != '}' {
			return nil, errTrailingData
		}
		out = make([]byte, 0, len(body)+48)
		out = append(out, body[:len(body)-1]...)
		if len(fields) > 0 {
			out = append(out, ',')
		}
	}
	out = append(out, `"from":`...)
	out = strconv.AppendQuote(out, string(from))
	out = append(out, `,"timestamp":`...)
	out = strconv.AppendInt(out, ts, 10)
	out = append(out, '}')
	return out, nil
}

// stripMembers returns the raw top-level members of a valid JSON object,
// leaving out the ones with the given names. Keys are compared decoded.
func stripMembers(raw []byte, names ...string) ([][]byte, error) {
	i := skipSpace(raw, 0)
	if i >= len(raw) || raw[i] != '{' {
		return nil, ErrNotAnObject
	}
	i++
	var kept [][]byte
	for {
		i = skipSpace(raw, i)
		if i >= len(raw) {
			return nil, errTrailingData
		}
		if raw[i] == '}' {
			return kept, nil
		}
		start := i
		end := skipString(raw, i)
		var key string
		if err := json.Unmarshal(raw[start:end], &key); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		i = skipSpace(raw, end)
		if i >= len(raw) || raw[i] != ':' {
			return nil, ErrMalformed
		}
		i = skipValue(raw, skipSpace(raw, i+1))
		drop := false
		for _, n := range names {
			if key == n {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, raw[start:i])
		}
		i = skipSpace(raw, i)
		if i < len(raw) && raw[i] == ',' {
			i++
		}
	}
}

func skipSpace(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return i
}

// skipString returns the position right after the string starting at i.
func skipString(b []byte, i int) int {
	for i++; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(b)
}

// skipValue returns the position right after the value starting at i.
func skipValue(b []byte, i int) int {
	if i >= len(b) {
		return i
	}
	switch b[i] {
	case '"':
		return skipString(b, i)
	case '{', '[':
		depth := 0
		for i < len(b) {
			switch b[i] {
			case '"':
				i = skipString(b, i)
				continue
			case '{', '[':
				depth++
			case '}', ']':
				depth--
				if depth == 0 {
					return i + 1
				}
			}
			i++
		}
		return i
	}
	for i < len(b) {
		switch b[i] {
		case ',', '}', ']', ' ', '\t', '\r', '\n':
			return i
		}
		i++
	}
	return i
}
