package config

import (
	"time"

	flag "github.com/spf13/pflag"
)

type BrokerConfig struct {
	Broker  Broker
	Version string `default:"2.0.0"`
}

type Broker struct {
	Debug bool
	// Origins is the list of allowed websocket and CORS origins,
	// an empty list allows everyone.
	Origins    []string
	Server     Server
	Session    Session
	Liveness   Liveness
	Ws         Ws
	Monitoring Monitoring
}

type Session struct {
	// TTL is the max session lifetime regardless of activity.
	TTL          time.Duration `default:"1h"`
	ReapInterval time.Duration `default:"60s"`
}

type Liveness struct {
	// Interval between two transport pings,
	// a connection that missed one is dropped.
	Interval time.Duration `default:"30s"`
}

type Ws struct {
	MaxMessageSize int64         `default:"65536"`
	WriteWait      time.Duration `default:"10s"`
	SendQueue      int           `default:"64"`
}

// allows custom config path
var brokerConfigPath string

func NewBrokerConfig() (conf BrokerConfig) {
	if err := LoadConfig(&conf, brokerConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *BrokerConfig) ParseFlags() {
	c.Broker.Server.WithFlags()
	flag.BoolVar(&c.Broker.Debug, "debug", c.Broker.Debug, "Verbose logging")
	flag.DurationVar(&c.Broker.Session.TTL, "ttl", c.Broker.Session.TTL, "Max session lifetime")
	flag.IntVar(&c.Broker.Monitoring.Port, "monitoring.port", c.Broker.Monitoring.Port, "Monitoring server port")
	flag.StringVar(&brokerConfigPath, "conf", brokerConfigPath, "Set custom configuration file path")
	flag.Parse()
}
