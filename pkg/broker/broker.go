// Package broker pairs a customer agent with a support technician under
// a shared session code and relays their WebRTC negotiation messages.
package broker

import (
	"context"
	"net/http"

	"github.com/grapeassist/assist/pkg/config"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/monitoring"
	"github.com/grapeassist/assist/pkg/network/httpx"
	"github.com/grapeassist/assist/pkg/network/websocket"
	"github.com/grapeassist/assist/pkg/service"
)

type Broker struct {
	service.Group

	conf     config.BrokerConfig
	registry *Registry
	gateway  *Gateway
	log      *logger.Logger
}

func New(conf config.BrokerConfig, log *logger.Logger) (*Broker, error) {
	b := &Broker{conf: conf, log: log}
	bc := conf.Broker

	b.registry = NewRegistry(log.Extend(log.With().Str(logger.ModuleField, "reg")))
	b.gateway = NewGateway(
		b.registry,
		websocket.NewUpgrader(bc.Origins),
		websocket.Options{
			MaxMessageSize: bc.Ws.MaxMessageSize,
			WriteWait:      bc.Ws.WriteWait,
			QueueSize:      bc.Ws.SendQueue,
		},
		log.Extend(log.With().Str(logger.ModuleField, "ws")),
	)
	rest := NewRest(b.registry, b.gateway, conf.Version, log.Extend(log.With().Str(logger.ModuleField, "http")))

	janitor := NewJanitor(log.Extend(log.With().Str(logger.ModuleField, "cron")))
	janitor.Liveness(b.gateway, bc.Liveness.Interval)
	janitor.Reaper(b.registry, bc.Session.ReapInterval, bc.Session.TTL)

	server, err := httpx.NewServer(
		bc.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler { return cors(bc.Origins, b.routes(rest)) },
		httpx.WithServerConfig(bc.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	b.Add(server, janitor)

	if bc.Monitoring.IsEnabled() {
		mon, err := monitoring.New(bc.Monitoring, log)
		if err != nil {
			return nil, err
		}
		b.Add(mon)
	}
	return b, nil
}

func (b *Broker) routes(rest *Rest) http.Handler {
	h := httpx.NewServeMux("")
	h.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsUpgrade(r) {
			b.gateway.ServeHTTP(w, r)
			return
		}
		rest.Index(w, r)
	})
	h.Handle("/ws", b.gateway)
	rest.Register(h)
	return h
}

func (b *Broker) Registry() *Registry { return b.registry }

// Shutdown closes all the websocket connections and then stops the services.
func (b *Broker) Shutdown(ctx context.Context) error {
	for _, c := range b.gateway.clients.Values() {
		c.Close(websocket.CloseNormalClosure, "Server shutdown")
	}
	return b.Group.Shutdown(ctx)
}
