package server

import (
	"context"

	"github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/ice"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/monitoring"
	"github.com/pairwise/pairwise/pkg/service"
)

// Server bundles the signaling service with its HTTP front and the
// optional monitoring sidecar.
type Server struct {
	services service.Group
	mgr      *SessionManager
	log      *logger.Logger
}

func New(conf server.Config, log *logger.Logger) (*Server, error) {
	mgr := NewSessionManager(log)
	hub := NewHub(conf, mgr, log)

	iceServers := ice.Probe(conf.Webrtc.IceServers, log)

	httpSrv, err := NewHTTPServer(conf, log, hub, mgr, iceServers)
	if err != nil {
		return nil, err
	}

	s := &Server{mgr: mgr, log: log}
	s.services.Add(httpSrv)
	if conf.Server.Monitoring.IsEnabled() {
		if m := monitoring.New(conf.Server.Monitoring, "srv", log); m != nil {
			s.services.Add(m)
		}
	}
	return s, nil
}

func (s *Server) Run() { s.services.Start() }

func (s *Server) Shutdown(ctx context.Context) error {
	s.mgr.CloseAll()
	return s.services.Shutdown(ctx)
}
