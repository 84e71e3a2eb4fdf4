package peer

import (
	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/control"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/pion/webrtc/v4"
)

func (c *Client) bind(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		c.mu.Lock()
		c.channel = dc
		c.mu.Unlock()

		st, err := c.fsm.Open()
		if err != nil {
			c.log.Warn().Err(err).Msg("control channel")
			return
		}
		c.log.Info().Msgf("control channel is open")
		if c.opts.OnState != nil {
			c.opts.OnState(st)
		}
		if c.opts.Role == api.Technician {
			if err := c.Send(control.GetResolution{}); err != nil {
				c.log.Error().Err(err).Msg("resolution request")
			}
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { c.onCommand(msg.Data) })
	dc.OnClose(func() { c.log.Debug().Msg("control channel is closed") })
}

func (c *Client) onCommand(data []byte) {
	cmd, err := control.Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad command")
		return
	}
	c.log.Debug().Str(logger.DirectionField, "←").Msgf("%v", cmd.Kind())

	switch v := cmd.(type) {
	case control.GetResolution:
		if c.opts.Role == api.Agent {
			err = c.Send(c.opts.Resolution)
		}
	case control.Resolution:
		if c.opts.Role != api.Technician {
			return
		}
		c.mu.Lock()
		c.remote = v
		c.mu.Unlock()
		if c.opts.OnResolution != nil {
			c.opts.OnResolution(v)
		}
	default:
		if c.opts.Role != api.Agent {
			c.log.Warn().Msgf("technician doesn't take %v", v.Kind())
			return
		}
		if c.opts.Injector != nil {
			err = c.opts.Injector.Inject(v)
		}
	}
	if err != nil {
		c.log.Error().Err(err).Msgf("%v", cmd.Kind())
	}
}

// Send writes the command into the control channel.
func (c *Client) Send(cmd control.Cmd) error {
	data, err := control.Encode(cmd)
	if err != nil {
		return err
	}
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	return dc.SendText(string(data))
}

// Resolution returns the agent screen size, if known.
func (c *Client) Resolution() (control.Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.remote.Width > 0
}

// Move sends the pointer position over the video as a mouse move.
// Positions off the picture are skipped.
func (c *Client) Move(v control.Viewport, px, py float64) error {
	res, ok := c.Resolution()
	if !ok {
		return ErrNoResolution
	}
	mv, ok := v.Move(px, py, res)
	if !ok {
		return nil
	}
	return c.Send(mv)
}

// LogInjector only writes the commands into the log.
type LogInjector struct {
	Log *logger.Logger
}

func (l LogInjector) Inject(cmd control.Cmd) error {
	l.Log.Info().Interface("args", cmd).Msgf("inject %v", cmd.Kind())
	return nil
}
