package comm

import (
	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
)

type NetClient interface {
	Close()
	Id() network.Uid
}

// SocketClient is a tagged, logged packet endpoint over a Client pipe.
type SocketClient struct {
	id   network.Uid
	Tag  string
	wire *Client
	Log  *logger.Logger
}

func New(conn *Client, tag string, id network.Uid, log *logger.Logger) SocketClient {
	dir := "→"
	if conn.IsServer() {
		dir = "←"
	}
	l := log.Extend(log.With().
		Str("cid", id.Short()).
		Str(logger.DirectionField, dir))
	l.Debug().Msg("Connect")
	return SocketClient{id: id, wire: conn, Tag: tag, Log: l}
}

func (c SocketClient) OnPacket(fn func(p api.In) error) {
	c.wire.OnPacket(func(p api.In) {
		c.Log.Debug().Str(logger.DirectionField, "←").Msgf("%v", p.T)
		if err := fn(p); err != nil {
			c.Log.Error().Err(err).Send()
		}
	})
}

// OnFail sets a callback for undecodable inbound messages.
func (c SocketClient) OnFail(fn func(err error)) { c.wire.OnFail(fn) }

// Send makes a blocking call.
func (c SocketClient) Send(t api.PT, data any) ([]byte, error) {
	c.Log.Debug().Str(logger.DirectionField, "→").Msgf("ᵇ%v", t)
	return c.wire.Call(t, data)
}

// Notify just sends a message and goes further.
func (c SocketClient) Notify(t api.PT, data any) {
	c.Log.Debug().Str(logger.DirectionField, "→").Msgf("%v", t)
	_ = c.wire.Send(t, data)
}

// Route answers the in packet with the out payload keeping the packet id.
func (c SocketClient) Route(in api.In, out any) { _ = c.wire.Route(in, out) }

func (c SocketClient) Close() {
	c.wire.Close()
	c.Log.Debug().Str(logger.DirectionField, "x").Msg("Close")
}

func (c SocketClient) Id() network.Uid  { return c.id }
func (c SocketClient) Listen()          { c.ProcessMessages(); c.Wait() }
func (c SocketClient) ProcessMessages() { c.wire.Listen() }
func (c SocketClient) String() string   { return c.Tag + ":" + c.Id().Short() }
func (c SocketClient) Wait()            { <-c.wire.Wait() }
