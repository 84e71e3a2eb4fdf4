package broker

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/code"
	"github.com/grapeassist/assist/pkg/com"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/websocket"
)

// Gateway accepts websocket connections of the parties and
// dispatches their messages against the registry.
type Gateway struct {
	registry *Registry
	clients  *com.Map[com.Uid, *Client]
	upgrader *websocket.Upgrader
	opts     websocket.Options
	now      func() time.Time
	log      *logger.Logger
}

func NewGateway(registry *Registry, upgrader *websocket.Upgrader, opts websocket.Options, log *logger.Logger) *Gateway {
	if upgrader == nil {
		upgrader = &websocket.DefaultUpgrader
	}
	return &Gateway{
		registry: registry,
		clients:  com.NewMap[com.Uid, *Client](),
		upgrader: upgrader,
		opts:     opts,
		now:      time.Now,
		log:      log,
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, g.opts, g.log)
	if err != nil {
		g.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := NewClient(ws, g.log)
	c.log.Info().Str("addr", ws.RemoteAddr()).Msg("connected")

	g.clients.Put(c.Id(), c)
	connectionsGauge.Inc()
	defer func() {
		g.registry.Detach(c)
		g.clients.RemoveByKey(c.Id())
		connectionsGauge.Dec()
		c.log.Info().Msg("disconnected")
	}()

	ws.OnMessage = func(data []byte) { g.handle(c, data) }
	_ = c.Send(api.WelcomePacket(g.now().UnixMilli()))
	ws.Serve()
}

// Connections returns the number of open connections, joined or not.
func (g *Gateway) Connections() int { return g.clients.Len() }

func (g *Gateway) handle(c *Client, data []byte) {
	defer func() {
		if err := recover(); err != nil {
			c.log.Error().Interface("panic", err).Msg("message handler")
			c.Fail("internal error")
		}
	}()

	m, err := api.Decode(data)
	switch {
	case errors.Is(err, api.ErrNoType):
		c.Fail("message type required")
		return
	case errors.Is(err, api.ErrUnknownType):
		c.Fail(err.Error())
		return
	case err != nil:
		c.Fail("invalid JSON")
		return
	}

	switch m.Type {
	case api.Ping:
		_ = c.Send(api.PongPacket(g.now().UnixMilli()))
	case api.Join:
		g.join(c, m)
	case api.Offer, api.Answer, api.IceCandidate:
		g.relay(c, m)
	default:
		if !g.registry.IsJoined(c) {
			c.Fail(ErrNotJoined.Error())
			return
		}
		c.Fail(fmt.Sprintf("unexpected message type: %v", m.Type))
	}
}

func (g *Gateway) join(c *Client, m api.Message) {
	var rq api.JoinRequest
	if err := m.Unwrap(&rq); err != nil {
		c.Fail("invalid JSON")
		return
	}
	if rq.Code == "" || rq.Role == "" {
		c.Fail("code and role required")
		return
	}
	role, err := api.ParseRole(rq.Role)
	if err != nil {
		c.Fail(api.ErrInvalidRole.Error())
		return
	}
	sc, err := code.Parse(rq.Code)
	if err != nil {
		c.Fail(code.ErrInvalidCode.Error())
		return
	}
	res, err := g.registry.Attach(sc, role, c)
	if err != nil {
		c.Fail(err.Error())
		return
	}
	c.log.Info().Str("code", sc.String()).Str("role", role.String()).Bool("paired", res.PeerPresent).Msg("joined")
}

func (g *Gateway) relay(c *Client, m api.Message) {
	if err := g.registry.Forward(c, m); err != nil {
		switch {
		case errors.Is(err, ErrNotJoined), errors.Is(err, ErrPeerAbsent):
			c.Fail(err.Error())
		default:
			c.Fail("invalid JSON")
		}
		return
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", m.Type)
}

// sweepLiveness drops every client that didn't answer the previous
// ping and pings the rest.
func (g *Gateway) sweepLiveness() (dropped int) {
	for _, c := range g.clients.Values() {
		if c.probe() {
			continue
		}
		c.log.Info().Msg("no pong, dropping")
		c.Terminate()
		droppedTotal.Inc()
		dropped++
	}
	return
}
