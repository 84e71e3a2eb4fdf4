package broker

import (
	"sync/atomic"

	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/com"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/websocket"
)

// Client is a websocket connection of an agent or a technician.
type Client struct {
	id    com.Uid
	ws    *websocket.WS
	alive atomic.Bool
	log   *logger.Logger
}

func NewClient(ws *websocket.WS, log *logger.Logger) *Client {
	id := com.NewUid()
	c := &Client{
		id:  id,
		ws:  ws,
		log: log.Extend(log.With().Str(logger.ClientField, id.Short())),
	}
	c.alive.Store(true)
	ws.OnPong = c.MarkAlive
	return c
}

func (c *Client) Id() com.Uid  { return c.id }
func (c *Client) IsOpen() bool { return c.ws.IsOpen() }

func (c *Client) Send(data []byte) error {
	err := c.ws.Write(data)
	if err != nil {
		c.log.Debug().Err(err).Msg("send")
	}
	return err
}

func (c *Client) Close(code int, reason string) { c.ws.Close(code, reason) }

// Fail sends an error message, the connection stays open.
func (c *Client) Fail(message string) {
	protocolErrorsTotal.Inc()
	c.log.Debug().Str("error", message).Msg("protocol")
	_ = c.Send(api.ErrorPacket(message))
}

func (c *Client) MarkAlive() { c.alive.Store(true) }

// probe tells if the client answered since the last probe,
// and makes it owe an answer for the next one.
func (c *Client) probe() bool {
	if !c.alive.Swap(false) {
		return false
	}
	c.ws.Ping()
	return true
}

func (c *Client) Terminate() { c.ws.Terminate() }
