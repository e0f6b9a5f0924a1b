package comm

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
	"github.com/pairwise/pairwise/pkg/network/websocket"
)

var callTimeout = 5 * time.Second

var (
	errConnClosed = errors.New("connection closed")
	errTimeout    = errors.New("timeout")
)

type (
	Connector struct {
		tag string
		wu  *websocket.Upgrader
	}
	// Client is a raw packet pipe over one websocket connection.
	Client struct {
		conn     *websocket.WS
		queue    map[network.Uid]*call
		onPacket func(packet api.In)
		onFail   func(err error)
		mu       sync.Mutex
	}
	call struct {
		done     chan struct{}
		err      error
		Response api.In
	}
	Option = func(c *Connector)
)

func WithOrigin(origin string) Option {
	return func(c *Connector) { c.wu = websocket.NewUpgrader(origin) }
}
func WithTag(tag string) Option { return func(c *Connector) { c.tag = tag } }

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.wu == nil {
		c.wu = &websocket.DefaultUpgrader
	}
	return c
}

// NewClientServer upgrades an inbound HTTP request into a connected socket client.
func (co *Connector) NewClientServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*SocketClient, error) {
	ws, err := co.wu.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	conn, err := connect(websocket.NewServerWithConn(ws, log), nil)
	if err != nil {
		return nil, err
	}
	c := New(conn, co.tag, network.NewUid(), log)
	return &c, nil
}

func (co *Connector) NewClient(address url.URL, log *logger.Logger) (*Client, error) {
	return connect(websocket.NewClient(address, log))
}

func connect(conn *websocket.WS, err error) (*Client, error) {
	if err != nil {
		return nil, err
	}
	client := &Client{conn: conn, queue: make(map[network.Uid]*call, 1)}
	client.conn.OnMessage = client.handleMessage
	return client, nil
}

func (c *Client) IsServer() bool { return c.conn.IsServer() }

func (c *Client) OnPacket(fn func(packet api.In)) { c.mu.Lock(); c.onPacket = fn; c.mu.Unlock() }

// OnFail sets a callback for inbound messages that don't decode
// into the packet envelope.
func (c *Client) OnFail(fn func(err error)) { c.mu.Lock(); c.onFail = fn; c.mu.Unlock() }

func (c *Client) Listen() { c.mu.Lock(); c.conn.Listen(); c.mu.Unlock() }

func (c *Client) Close() {
	c.conn.Close()
	c.drain(errConnClosed)
}

// Call makes a blocking request and waits for the response or a timeout.
func (c *Client) Call(type_ api.PT, payload any) ([]byte, error) {
	id := network.NewUid()
	r, err := json.Marshal(api.Out{Id: id, T: type_, Payload: payload})
	if err != nil {
		return nil, err
	}

	task := &call{done: make(chan struct{})}
	c.mu.Lock()
	c.queue[id] = task
	c.conn.Write(r)
	c.mu.Unlock()
	select {
	case <-task.done:
	case <-time.After(callTimeout):
		// forget the task or a dead call would linger until the
		// connection closes
		c.pop(id)
		task.err = errTimeout
	}
	return task.Response.Payload, task.err
}

func (c *Client) Send(type_ api.PT, pl any) error {
	return c.SendPacket(api.Out{T: type_, Payload: pl})
}

// Route answers an inbound request packet, carrying its id over.
func (c *Client) Route(p api.In, pl any) error {
	return c.SendPacket(api.Out{Id: p.Id, T: p.T, Payload: pl})
}

func (c *Client) SendPacket(packet api.Out) error {
	r, err := json.Marshal(packet)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn.Write(r)
	c.mu.Unlock()
	return nil
}

func (c *Client) Wait() chan struct{} { return c.conn.Done }

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}

	var res api.In
	if err = json.Unmarshal(message, &res); err != nil {
		if c.onFail != nil {
			c.onFail(err)
		}
		return
	}

	// non-empty id implies a tracked response to an earlier Call
	if !res.Id.Empty() {
		if task := c.pop(res.Id); task != nil {
			task.Response = res
			close(task.done)
			return
		}
	}
	if c.onPacket != nil {
		c.onPacket(res)
	}
}

// pop extracts and removes a task from the queue by its id.
func (c *Client) pop(id network.Uid) *call {
	c.mu.Lock()
	task := c.queue[id]
	delete(c.queue, id)
	c.mu.Unlock()
	return task
}

// drain cancels all what's left in the task queue.
func (c *Client) drain(err error) {
	c.mu.Lock()
	for id, task := range c.queue {
		if task.err == nil {
			task.err = err
		}
		delete(c.queue, id)
		close(task.done)
	}
	c.mu.Unlock()
}
