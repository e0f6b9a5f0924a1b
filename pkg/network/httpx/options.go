package httpx

import (
	"time"

	"github.com/pairwise/pairwise/pkg/config/shared"
	"github.com/pairwise/pairwise/pkg/logger"
)

type (
	Options struct {
		Https        bool
		HttpsCert    string
		HttpsKey     string
		HttpsDomain  string
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

func (o *Options) IsAutoHttpsCert() bool { return !(o.HttpsCert != "" && o.HttpsKey != "") }

func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }
func WithPortRoll(roll bool) Option        { return func(opts *Options) { opts.PortRoll = roll } }

func WithServerConfig(conf shared.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.Https
		opts.HttpsCert = conf.Tls.HttpsCert
		opts.HttpsKey = conf.Tls.HttpsKey
		opts.HttpsDomain = conf.Tls.Domain
		opts.PortRoll = conf.PortRoll
	}
}
