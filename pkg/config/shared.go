package config

import (
	"strings"

	flag "github.com/spf13/pflag"
)

type Server struct {
	Address string `default:":3001"`
	Https   bool
	Tls     struct {
		Address   string `default:":443"`
		Domain    string
		HttpsKey  string
		HttpsCert string
	}
}

func (s *Server) WithFlags() {
	flag.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	flag.StringVar(&s.Tls.Address, "httpsAddress", s.Tls.Address, "HTTPS server address (host:port)")
	flag.StringVar(&s.Tls.HttpsKey, "httpsKey", s.Tls.HttpsKey, "HTTPS key")
	flag.StringVar(&s.Tls.HttpsCert, "httpsCert", s.Tls.HttpsCert, "HTTPS chain")
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Monitoring struct {
	Port             int    `default:"6601"`
	URLPrefix        string `default:"/broker"`
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

type Webrtc struct {
	IceServers []IceServer
	IcePorts   struct {
		Min uint16
		Max uint16
	}
	LogLevel int `default:"2"`
	// IncludeLoopback lets the peers talk over 127.0.0.1, for local tests.
	IncludeLoopback bool
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }

// IsTurn tells if the server needs credentials.
func (i IceServer) IsTurn() bool {
	return strings.HasPrefix(i.Urls, "turn:") || strings.HasPrefix(i.Urls, "turns:")
}
