package client

import (
	"time"

	"github.com/pairwise/pairwise/pkg/config"
	"github.com/pairwise/pairwise/pkg/config/monitoring"
	"github.com/pairwise/pairwise/pkg/config/webrtc"
	"github.com/spf13/pflag"
)

type Config struct {
	Client struct {
		Network struct {
			ServerAddress string
			Endpoint      string
			Secure        bool
		}
		Reconnect struct {
			MaxAttempts int
			BaseDelay   time.Duration
		}
		Monitoring monitoring.Config
		Debug      bool
	}
	Webrtc webrtc.Webrtc
}

var configPath string

func NewConfig() (conf Config) {
	conf.Client.Network.ServerAddress = "localhost:8000"
	conf.Client.Network.Endpoint = "/ws"
	conf.Client.Reconnect.MaxAttempts = 5
	conf.Client.Reconnect.BaseDelay = 2 * time.Second
	conf.Webrtc.IceServers = webrtc.DefaultIceServers()
	_ = config.LoadConfig(&conf, configPath)
	return
}

func (c *Config) ParseFlags() {
	pflag.StringVar(&c.Client.Network.ServerAddress, "server", c.Client.Network.ServerAddress, "Signaling server address")
	pflag.BoolVarP(&c.Client.Debug, "verbose", "v", c.Client.Debug, "Verbose logging")
	pflag.StringVarP(&configPath, "conf", "c", configPath, "Set custom configuration file path")
	pflag.Parse()
}
