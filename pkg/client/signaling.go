package client

import (
	"net/url"

	"github.com/pairwise/pairwise/pkg/comm"
	conf "github.com/pairwise/pairwise/pkg/config/client"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
)

// signaling is the packet endpoint to the matchmaking server.
type signaling struct {
	comm.SocketClient
}

func signalingAddress(c conf.Config) url.URL {
	scheme := "ws"
	if c.Client.Network.Secure {
		scheme = "wss"
	}
	return url.URL{
		Scheme: scheme,
		Host:   c.Client.Network.ServerAddress,
		Path:   c.Client.Network.Endpoint,
	}
}

func newSignaling(addr url.URL, log *logger.Logger) (*signaling, error) {
	conn, err := comm.NewConnector().NewClient(addr, log)
	if err != nil {
		return nil, err
	}
	sc := comm.New(conn, "s", network.NewUid(), log)
	return &signaling{sc}, nil
}
