package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/grapeassist/assist/pkg/api"
)

type State int

const (
	Idle State = iota
	Joined
	Negotiating
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joined:
		return "joined"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var ErrUnexpected = errors.New("unexpected message")

// channelOpen is a local event, the control channel is up.
const channelOpen api.Type = "channel-open"

type transitions map[State]map[api.Type]State

// table has the moves for both roles, the offer and the answer
// are then filtered by the role.
var table = transitions{
	Idle: {
		api.Joined: Joined,
	},
	Joined: {
		api.PeerJoined: Negotiating,
	},
	Negotiating: {
		api.Offer:            Negotiating,
		api.Answer:           Negotiating,
		api.IceCandidate:     Negotiating,
		api.PeerDisconnected: Joined,
		channelOpen:          Connected,
	},
	Connected: {
		api.IceCandidate:     Connected,
		api.PeerDisconnected: Joined,
	},
}

// terminal messages close the session from any live state
var terminal = map[api.Type]struct{}{
	api.SessionExpired: {},
	api.SessionClosed:  {},
	api.Superseded:     {},
}

// neutral messages are accepted anywhere but Closed and change nothing
var neutral = map[api.Type]struct{}{
	api.Welcome: {},
	api.Pong:    {},
	api.Error:   {},
}

// Machine is the signaling state of one party.
// The technician always makes the offer, the agent answers.
type Machine struct {
	role  api.Role
	state State
	mu    sync.Mutex
}

func NewMachine(role api.Role) *Machine { return &Machine{role: role, state: Idle} }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Step applies a message from the broker.
func (m *Machine) Step(t api.Type) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed {
		return m.state, fmt.Errorf("%w: %v in %v", ErrUnexpected, t, m.state)
	}
	if _, ok := neutral[t]; ok {
		return m.state, nil
	}
	if _, ok := terminal[t]; ok {
		m.state = Closed
		return m.state, nil
	}
	// the technician never gets an offer, the agent never gets an answer
	if (t == api.Offer && m.role != api.Agent) || (t == api.Answer && m.role != api.Technician) {
		return m.state, fmt.Errorf("%w: %v for %v", ErrUnexpected, t, m.role)
	}
	next, ok := table[m.state][t]
	if !ok {
		return m.state, fmt.Errorf("%w: %v in %v", ErrUnexpected, t, m.state)
	}
	m.state = next
	return next, nil
}

// Open marks the control channel as open.
func (m *Machine) Open() (State, error) { return m.Step(channelOpen) }

// Close ends the machine for good.
func (m *Machine) Close() {
	m.mu.Lock()
	m.state = Closed
	m.mu.Unlock()
}
