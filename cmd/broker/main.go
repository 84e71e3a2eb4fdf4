package main

import (
	"context"
	goflag "flag"
	"time"

	"github.com/grapeassist/assist/pkg/broker"
	"github.com/grapeassist/assist/pkg/config"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/os"
	flag "github.com/spf13/pflag"
)

var Version = "?"

const shutdownWait = 10 * time.Second

func main() {
	conf := config.NewBrokerConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Broker.Debug, "b", false)

	log.Info().Msgf("version %s (protocol %s)", Version, conf.Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	b, err := broker.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker init")
	}
	b.Start()

	<-os.ExpectTermination()
	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
