package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/pairwise/pairwise/pkg/config/monitoring"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network/httpx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitoring struct {
	conf   monitoring.Config
	log    *logger.Logger
	server *httpx.Server
}

// New creates a new monitoring service.
// The tag param specifies owner label for logs.
func New(conf monitoring.Config, tag string, log *logger.Logger) *Monitoring {
	lg := log.Extend(log.With().Str("s", tag))
	serv, err := httpx.NewServer(
		fmt.Sprintf(":%d", conf.Port),
		func(serv *httpx.Server) http.Handler {
			h := http.NewServeMux()
			if conf.ProfilingEnabled {
				prefix := conf.URLPrefix + "/debug/pprof"
				lg.Info().Msgf("Profiling is enabled at %v", serv.Addr+prefix)
				h.HandleFunc(prefix+"/", pprof.Index)
				h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
				h.HandleFunc(prefix+"/profile", pprof.Profile)
				h.HandleFunc(prefix+"/symbol", pprof.Symbol)
				h.HandleFunc(prefix+"/trace", pprof.Trace)
				// custom pprof paths need explicit handlers
				h.Handle(prefix+"/allocs", pprof.Handler("allocs"))
				h.Handle(prefix+"/block", pprof.Handler("block"))
				h.Handle(prefix+"/goroutine", pprof.Handler("goroutine"))
				h.Handle(prefix+"/heap", pprof.Handler("heap"))
				h.Handle(prefix+"/mutex", pprof.Handler("mutex"))
				h.Handle(prefix+"/threadcreate", pprof.Handler("threadcreate"))
			}
			if conf.MetricEnabled {
				metricPath := conf.URLPrefix + "/metrics"
				lg.Info().Msgf("Prometheus metric is enabled at %v", serv.Addr+metricPath)
				h.Handle(metricPath, promhttp.Handler())
			}
			return h
		},
		httpx.WithLogger(lg),
		httpx.WithPortRoll(true),
	)
	if err != nil {
		lg.Error().Err(err).Msg("monitoring server init fail")
		return nil
	}
	return &Monitoring{conf: conf, log: lg, server: serv}
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.server.Addr)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
