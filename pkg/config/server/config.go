package server

import (
	"github.com/pairwise/pairwise/pkg/config"
	"github.com/pairwise/pairwise/pkg/config/monitoring"
	"github.com/pairwise/pairwise/pkg/config/shared"
	"github.com/pairwise/pairwise/pkg/config/webrtc"
	"github.com/spf13/pflag"
)

type Config struct {
	Server struct {
		Http       shared.Server
		Origin     string
		Monitoring monitoring.Config
		Debug      bool
	}
	Webrtc webrtc.Webrtc
}

// allows custom config path
var configPath string

func NewConfig() (conf Config) {
	conf.Server.Http.Address = "localhost:8000"
	conf.Server.Origin = "*"
	conf.Webrtc.IceServers = webrtc.DefaultIceServers()
	_ = config.LoadConfig(&conf, configPath)
	return
}

func (c *Config) ParseFlags() {
	c.Server.Http.WithFlags(pflag.CommandLine)
	pflag.BoolVarP(&c.Server.Debug, "verbose", "v", c.Server.Debug, "Verbose logging")
	pflag.IntVar(&c.Server.Monitoring.Port, "monitoring.port", c.Server.Monitoring.Port, "Monitoring server port")
	pflag.StringVarP(&configPath, "conf", "c", configPath, "Set custom configuration file path")
	pflag.Parse()
}
