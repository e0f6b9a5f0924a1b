package main

import (
	"context"
	goflag "flag"

	config "github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/os"
	"github.com/pairwise/pairwise/pkg/server"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Server.Debug, "s", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	s, err := server.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("server init")
	}
	s.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := s.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
