// A diagnostic party for the broker: joins a session, negotiates the
// WebRTC connection and logs the control commands.
package main

import (
	"context"
	goflag "flag"
	"net/url"

	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/code"
	"github.com/grapeassist/assist/pkg/config"
	"github.com/grapeassist/assist/pkg/control"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/os"
	"github.com/grapeassist/assist/pkg/peer"
	flag "github.com/spf13/pflag"
)

func main() {
	conf := config.NewPeerConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Peer.Debug, "p", false)

	role, err := api.ParseRole(conf.Peer.Role)
	if err != nil {
		log.Fatal().Err(err).Msg("role")
	}
	sc, err := code.Parse(conf.Peer.Code)
	if err != nil {
		log.Fatal().Err(err).Str("code", conf.Peer.Code).Msg("session code")
	}
	address, err := url.Parse(conf.Peer.Address)
	if err != nil {
		log.Fatal().Err(err).Msg("broker address")
	}
	factory, err := peer.NewFactory(conf.Webrtc, log)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc")
	}

	var client *peer.Client
	opts := peer.Options{
		Role:       role,
		Code:       sc,
		Resolution: control.Resolution{Width: conf.Peer.Resolution.Width, Height: conf.Peer.Resolution.Height},
		Injector:   peer.LogInjector{Log: log},
		OnState:    func(s peer.State) { log.Info().Msgf("state: %v", s) },
	}
	if role == api.Technician {
		opts.OnResolution = func(r control.Resolution) {
			log.Info().Msgf("agent screen %vx%v", r.Width, r.Height)
			// point at the middle of the remote screen shown 1:1
			v := control.Viewport{Width: float64(r.Width), Height: float64(r.Height), VideoWidth: r.Width, VideoHeight: r.Height}
			if err := client.Move(v, float64(r.Width)/2, float64(r.Height)/2); err != nil {
				log.Error().Err(err).Msg("move")
			}
		}
	}
	client, err = peer.Connect(*address, factory, opts, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection")
	}
	log.Info().Msgf("joining %v as %v", sc, role)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-os.ExpectTermination()
		cancel()
	}()
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("session")
	}
}
