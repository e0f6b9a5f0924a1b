package server

import (
	"time"

	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/comm"
	"github.com/pairwise/pairwise/pkg/network"
)

// Client is the server-side record of one connected socket.
// The session manager owns every record; the queue and the rooms
// hold ids only, never copies.
type Client struct {
	comm.SocketClient

	PartnerId     network.Uid
	RoomId        network.Uid
	JoinedQueueAt time.Time
	LastSeen      time.Time
	Messages      uint64
	Preferences   api.Preferences
}

func NewClient(sock *comm.SocketClient) *Client {
	return &Client{SocketClient: *sock, LastSeen: time.Now()}
}

func (c *Client) InQueue() bool { return !c.JoinedQueueAt.IsZero() }
func (c *Client) Paired() bool  { return !c.PartnerId.Empty() }

func (c *Client) SendConnected() {
	c.Notify(api.Connected, api.ConnectedNotice{ClientId: c.Id(), Timestamp: stamp()})
}

func (c *Client) SendWaiting(position int) {
	c.Notify(api.Waiting, api.WaitingNotice{Position: position, Timestamp: stamp()})
}

func (c *Client) SendMatched(partner network.Uid, room network.Uid, initiator bool) {
	c.Notify(api.Matched, api.MatchedNotice{
		PartnerId: partner,
		RoomId:    room,
		Initiator: initiator,
		Timestamp: stamp(),
	})
}

func (c *Client) SendPartnerDisconnected(partner network.Uid) {
	c.Notify(api.PartnerDisconnected, api.PartnerDisconnectedNotice{PartnerId: partner, Timestamp: stamp()})
}

func (c *Client) SendError(message string) {
	c.Notify(api.Error, api.ErrorNotice{Message: message})
}

func stamp() int64 { return time.Now().UnixMilli() }
