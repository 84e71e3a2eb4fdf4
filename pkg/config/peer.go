package config

import flag "github.com/spf13/pflag"

type PeerConfig struct {
	Peer   Peer
	Webrtc Webrtc
}

type Peer struct {
	Debug bool
	// Address is the broker websocket endpoint.
	Address string `default:"ws://localhost:3001/"`
	Code    string
	Role    string `default:"technician"`
	// Resolution is what an agent reports to the technician.
	Resolution struct {
		Width  int `default:"1920"`
		Height int `default:"1080"`
	}
}

var peerConfigPath string

func NewPeerConfig() (conf PeerConfig) {
	if err := LoadConfig(&conf, peerConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *PeerConfig) ParseFlags() {
	flag.StringVar(&c.Peer.Address, "address", c.Peer.Address, "Broker websocket address")
	flag.StringVar(&c.Peer.Code, "code", c.Peer.Code, "Session code")
	flag.StringVar(&c.Peer.Role, "role", c.Peer.Role, "agent or technician")
	flag.BoolVar(&c.Peer.Debug, "debug", c.Peer.Debug, "Verbose logging")
	flag.StringVar(&peerConfigPath, "conf", peerConfigPath, "Set custom configuration file path")
	flag.Parse()
}
