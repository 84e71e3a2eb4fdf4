// Package peer is the party side of a support session: it joins the broker,
// negotiates a WebRTC peer connection and exchanges the control commands
// over its data channel.
package peer

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/code"
	"github.com/grapeassist/assist/pkg/control"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/websocket"
	"github.com/pion/webrtc/v4"
)

var (
	ErrNotConnected = errors.New("control channel is not open")
	ErrNoResolution = errors.New("remote resolution is unknown")
)

// Injector performs the control commands on the agent machine.
type Injector interface {
	Inject(cmd control.Cmd) error
}

type Options struct {
	Role api.Role
	Code code.Code
	// Resolution is the screen size the agent reports.
	Resolution control.Resolution
	Injector   Injector
	// OnResolution is called on the technician side when the agent
	// tells its screen size.
	OnResolution func(control.Resolution)
	// OnState is called after each state change.
	OnState func(State)
}

type Client struct {
	opts    Options
	ws      *websocket.WS
	fsm     *Machine
	factory *Factory
	log     *logger.Logger

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
	remote  control.Resolution
	// candidates that came before the remote description
	pending []webrtc.ICECandidateInit
}

// Connect opens the signaling connection to the broker.
func Connect(address url.URL, factory *Factory, opts Options, log *logger.Logger) (*Client, error) {
	if _, err := api.ParseRole(string(opts.Role)); err != nil {
		return nil, err
	}
	if opts.Code.IsEmpty() {
		return nil, code.ErrInvalidCode
	}
	log = log.Extend(log.With().Str(logger.ModuleField, string(opts.Role)))
	ws, err := websocket.NewClient(address, nil, websocket.Options{}, log)
	if err != nil {
		return nil, err
	}
	c := &Client{opts: opts, ws: ws, fsm: NewMachine(opts.Role), factory: factory, log: log}
	ws.OnMessage = c.handle
	return c, nil
}

// Run joins the session and blocks until the signaling connection
// is closed or the context is done.
func (c *Client) Run(ctx context.Context) error {
	done := c.ws.Listen()
	if err := c.ws.Write(api.JoinPacket(c.opts.Code.String(), c.opts.Role)); err != nil {
		c.ws.Terminate()
		<-done
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		c.ws.Close(websocket.CloseNormalClosure, "bye")
		<-done
	}
	c.fsm.Close()
	c.closePeer()
	return ctx.Err()
}

func (c *Client) State() State { return c.fsm.State() }

func (c *Client) handle(data []byte) {
	m, err := api.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad message")
		return
	}
	st, err := c.fsm.Step(m.Type)
	if err != nil {
		c.log.Warn().Err(err).Msg("signaling")
		return
	}
	c.log.Debug().Str(logger.DirectionField, "←").Str("state", st.String()).Msgf("%v", m.Type)

	switch m.Type {
	case api.Error:
		var n api.Notice
		_ = m.Unwrap(&n)
		c.log.Warn().Str("error", n.Message).Msg("broker")
	case api.PeerJoined:
		err = c.startPeer()
	case api.Offer:
		err = c.onOffer(m)
	case api.Answer:
		err = c.onAnswer(m)
	case api.IceCandidate:
		err = c.onCandidate(m)
	case api.PeerDisconnected:
		c.closePeer()
	case api.SessionExpired, api.SessionClosed, api.Superseded:
		c.log.Info().Msgf("session is over: %v", m.Type)
		c.closePeer()
		c.ws.Close(websocket.CloseNormalClosure, "")
	}
	if err != nil {
		c.log.Error().Err(err).Msgf("%v", m.Type)
	}
	if c.opts.OnState != nil {
		c.opts.OnState(st)
	}
}

func (c *Client) send(n api.Negotiation) error {
	n.Code = c.opts.Code.String()
	return c.ws.Write(api.NegotiationPacket(n))
}

func (c *Client) startPeer() error {
	c.closePeer()

	pc, err := c.factory.NewPeer()
	if err != nil {
		return err
	}
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		raw, err := json.Marshal(candidate.ToJSON())
		if err != nil {
			return
		}
		_ = c.send(api.Negotiation{Type: api.IceCandidate, Role: c.opts.Role, Candidate: raw})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debug().Msgf("peer connection: %v", state)
	})

	c.mu.Lock()
	c.pc, c.pending = pc, nil
	c.mu.Unlock()

	if c.opts.Role == api.Agent {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == control.Label {
				c.bind(dc)
			}
		})
		return nil
	}

	dc, err := pc.CreateDataChannel(control.Label, control.ChannelInit())
	if err != nil {
		return err
	}
	c.bind(dc)
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return err
	}
	raw, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	return c.send(api.Negotiation{Type: api.Offer, Offer: raw})
}

func (c *Client) peer() *webrtc.PeerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pc
}

func (c *Client) onOffer(m api.Message) error {
	pc := c.peer()
	if pc == nil {
		return ErrNotConnected
	}
	var n api.Negotiation
	if err := m.Unwrap(&n); err != nil {
		return err
	}
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(n.Offer, &offer); err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	c.flushCandidates(pc)
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		return err
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return c.send(api.Negotiation{Type: api.Answer, Answer: raw})
}

func (c *Client) onAnswer(m api.Message) error {
	pc := c.peer()
	if pc == nil {
		return ErrNotConnected
	}
	var n api.Negotiation
	if err := m.Unwrap(&n); err != nil {
		return err
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(n.Answer, &answer); err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.flushCandidates(pc)
	return nil
}

func (c *Client) onCandidate(m api.Message) error {
	var n api.Negotiation
	if err := m.Unwrap(&n); err != nil {
		return err
	}
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(n.Candidate, &candidate); err != nil {
		return err
	}
	c.mu.Lock()
	pc := c.pc
	if pc == nil || pc.RemoteDescription() == nil {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return pc.AddICECandidate(candidate)
}

func (c *Client) flushCandidates(pc *webrtc.PeerConnection) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, candidate := range pending {
		if err := pc.AddICECandidate(candidate); err != nil {
			c.log.Warn().Err(err).Msg("ice candidate")
		}
	}
}

func (c *Client) closePeer() {
	c.mu.Lock()
	pc := c.pc
	c.pc, c.channel, c.pending = nil, nil, nil
	c.mu.Unlock()
	if pc != nil {
		if err := pc.Close(); err != nil {
			c.log.Warn().Err(err).Msg("peer close")
		}
	}
}
