package peer

import (
	"github.com/grapeassist/assist/pkg/config"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/pion/webrtc/v4"
)

// Factory makes peer connections with the same settings.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func NewFactory(conf config.Webrtc, log *logger.Logger) (*Factory, error) {
	s := webrtc.SettingEngine{LoggerFactory: logger.NewPionLogger(log, conf.LogLevel)}
	if conf.HasPortRange() {
		if err := s.SetEphemeralUDPPortRange(conf.IcePorts.Min, conf.IcePorts.Max); err != nil {
			return nil, err
		}
	}
	if conf.IncludeLoopback {
		s.SetIncludeLoopbackCandidate(true)
	}

	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, server := range conf.IceServers {
		ice := webrtc.ICEServer{URLs: []string{server.Urls}}
		if server.IsTurn() {
			ice.Username, ice.Credential = server.Username, server.Credential
		}
		c.ICEServers = append(c.ICEServers, ice)
	}
	return &Factory{api: webrtc.NewAPI(webrtc.WithSettingEngine(s)), conf: c}, nil
}

func (f *Factory) NewPeer() (*webrtc.PeerConnection, error) { return f.api.NewPeerConnection(f.conf) }
