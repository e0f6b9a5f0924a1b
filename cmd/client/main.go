package main

import (
	"context"
	goflag "flag"

	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/client"
	"github.com/pairwise/pairwise/pkg/client/quality"
	config "github.com/pairwise/pairwise/pkg/config/client"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/monitoring"
	"github.com/pairwise/pairwise/pkg/os"
	"github.com/pairwise/pairwise/pkg/rtc"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Client.Debug, "p", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	if conf.Client.Monitoring.IsEnabled() {
		if m := monitoring.New(conf.Client.Monitoring, "p", log); m != nil {
			m.Run()
			defer func() {
				if err := m.Shutdown(context.Background()); err != nil {
					log.Error().Err(err).Msg("monitoring shutdown")
				}
			}()
		}
	}

	peers, err := rtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc init")
	}

	c := client.New(conf, peers, log)
	c.OnState(func(s client.State) { log.Info().Msgf("state: %v", s) })
	c.OnRemoteTrack(func(kind string) { log.Info().Msgf("remote %s stream", kind) })
	c.OnQuality(func(l quality.Level, s quality.Sample) {
		log.Info().
			Str("level", l.String()).
			Float64("rtt", s.Connection.RoundTripMs).
			Float64("kbps", (s.Audio.BitrateBps+s.Video.BitrateBps)/1000).
			Msg("link")
	})
	c.OnPartnerQuality(func(n api.PartnerQualityNotice) {
		log.Info().Str("level", n.Stats.Level).Msg("partner link")
	})
	c.OnError(func(err error) { log.Error().Err(err).Msg("client") })

	if err := c.Start(); err != nil {
		log.Fatal().Err(err).Msg("client init")
	}
	defer c.Close()
	if err := c.Connect(api.Preferences{}); err != nil {
		log.Fatal().Err(err).Msg("queue join")
	}
	<-os.ExpectTermination()
}
