package server

import (
	"net/http"
	"time"

	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/comm"
	"github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/logger"
)

// Hub accepts client sockets and routes their packets into the
// session manager.
type Hub struct {
	conf      server.Config
	mgr       *SessionManager
	connector *comm.Connector
	log       *logger.Logger
}

func NewHub(conf server.Config, mgr *SessionManager, log *logger.Logger) *Hub {
	return &Hub{
		conf:      conf,
		mgr:       mgr,
		connector: comm.NewConnector(comm.WithOrigin(conf.Server.Origin), comm.WithTag("c")),
		log:       log,
	}
}

// handleClientConnection drives one socket from upgrade to cleanup.
func (h *Hub) handleClientConnection(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if v := recover(); v != nil {
			h.log.Error().Msgf("recovered connection handler from %v", v)
		}
	}()

	sock, err := h.connector.NewClientServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("couldn't init the client connection")
		return
	}
	usr := NewClient(sock)
	h.mgr.AddClient(usr)
	defer h.mgr.Disconnect(usr)

	h.clientRoutes(usr)
	usr.Listen()
	usr.Log.Info().Msg("Client has left")
}

// clientRoutes wires the packet dispatch for one client. Protocol
// faults answer the offending socket with an Error packet and leave
// everyone else alone.
func (h *Hub) clientRoutes(usr *Client) {
	usr.OnFail(func(err error) {
		usr.SendError("malformed message")
	})
	usr.OnPacket(func(p api.In) error {
		h.mgr.Touch(usr)
		switch p.T {
		case api.JoinQueue:
			rq := api.Unwrap[api.JoinQueueRequest](p.Payload)
			if rq == nil && len(p.Payload) > 0 {
				usr.SendError("malformed join-queue")
				return api.ErrMalformed
			}
			var prefs api.Preferences
			if rq != nil {
				prefs = rq.Preferences
			}
			h.mgr.JoinQueue(usr, prefs)
		case api.LeaveQueue:
			h.mgr.LeaveQueue(usr)
		case api.Signal:
			rq := api.Unwrap[api.SignalRequest](p.Payload)
			if rq == nil {
				usr.SendError("malformed signal")
				return api.ErrMalformed
			}
			if err := h.mgr.RelaySignal(usr, rq.To, rq.Signal); err != nil {
				usr.SendError("signal rejected: not the current partner")
				return err
			}
		case api.QualityReport:
			rq := api.Unwrap[api.QualityReportRequest](p.Payload)
			if rq == nil {
				usr.SendError("malformed quality-report")
				return api.ErrMalformed
			}
			h.mgr.RelayQualityReport(usr, rq.Stats)
		case api.ToggleMedia:
			rq := api.Unwrap[api.ToggleMediaRequest](p.Payload)
			if rq == nil {
				usr.SendError("malformed toggle-media")
				return api.ErrMalformed
			}
			h.mgr.RelayMediaToggle(usr, *rq)
		case api.RequestStats:
			if !p.Id.Empty() {
				usr.Route(p, h.mgr.Stats(usr))
			} else {
				usr.Notify(api.StatsResponse, h.mgr.Stats(usr))
			}
		case api.Heartbeat:
			usr.Notify(api.HeartbeatAck, api.HeartbeatAckNotice{Timestamp: time.Now().UnixMilli()})
		default:
			usr.SendError("unknown message type")
			return api.ErrMalformed
		}
		return nil
	})
}
