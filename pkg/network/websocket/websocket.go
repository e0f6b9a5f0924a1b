package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 12 * time.Second
	readWait       = 0 // no read deadline for dialed (client) sockets
	writeWait      = 10 * time.Second
)

type WSMessageHandler func(message []byte, err error)

// WS wraps a gorilla websocket connection with the read/write pumps.
// Server-side sockets run the ping/pong liveness check: a peer that
// missed the previous ping is disconnected by the read deadline.
type WS struct {
	id   network.Uid
	conn deadlinedConn
	send chan []byte
	log  *logger.Logger

	OnMessage WSMessageHandler

	pingPong bool
	listen   chan struct{}
	once     sync.Once
	shutdown *sync.WaitGroup
	Done     chan struct{}
}

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader creates an upgrader with an origin check
// restricted to the given host ("*" allows any).
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServer upgrades an HTTP request to a websocket peer.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := DefaultUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewServerWithConn(conn, log), nil
}

func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) *WS {
	return newSocket(conn, true, log)
}

func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	shut := sync.WaitGroup{}
	shut.Add(2)

	safeConn := deadlinedConn{sock: conn, wt: writeWait}
	if !pingPong {
		safeConn.rt = readWait
	}

	ws := &WS{
		id:       network.NewUid(),
		conn:     safeConn,
		send:     make(chan []byte, 16),
		log:      log,
		pingPong: pingPong,
		listen:   make(chan struct{}),
		shutdown: &shut,
		Done:     make(chan struct{}, 1),
	}
	go ws.writer()
	go ws.reader()
	return ws
}

// Listen starts the message processing.
// Messages received before the call are buffered by the kernel,
// not dropped, so handlers can be attached late safely.
func (ws *WS) Listen() { ws.once.Do(func() { close(ws.listen) }) }

func (ws *WS) IsServer() bool { return ws.pingPong }

// reader pumps messages from the websocket connection to the OnMessage callback.
// Blocking, runs as a goroutine. Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		close(ws.send)
		ws.shutdown.Done()
		ws.close()
		ws.log.Debug().Str("sock", ws.id.Short()).Msg("close reader")
	}()
	<-ws.listen
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(pongTime)); return nil })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ws.log.Error().Err(err).Str("sock", ws.id.Short()).Msg("read fail")
			}
			break
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, err)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Blocking, runs as a goroutine. Serializes all websocket writes.
func (ws *WS) writer() {
	var ticker *time.Ticker
	if ws.pingPong {
		ticker = time.NewTicker(pingTime)
	}
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		ws.shutdown.Done()
		ws.close()
		ws.log.Debug().Str("sock", ws.id.Short()).Msg("close writer")
	}()
	if ws.pingPong {
		for {
			select {
			case message, ok := <-ws.send:
				if !ws.handleMessage(message, ok) {
					return
				}
			case <-ticker.C:
				if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
	for message := range ws.send {
		if !ws.handleMessage(message, true) {
			return
		}
	}
	_ = ws.conn.write(websocket.CloseMessage, []byte{})
}

func (ws *WS) handleMessage(message []byte, ok bool) bool {
	if !ok {
		_ = ws.conn.write(websocket.CloseMessage, []byte{})
		return false
	}
	if err := ws.conn.write(websocket.TextMessage, message); err != nil {
		return false
	}
	return true
}

func (ws *WS) Write(data []byte) {
	defer func() { recover() }() // send on a closed channel during teardown
	ws.send <- data
}

func (ws *WS) Close() {
	_ = ws.conn.write(websocket.CloseMessage, []byte{})
	_ = ws.conn.close()
	ws.Listen() // unblock the reader if it never started
}

func (ws *WS) close() {
	ws.shutdown.Wait()
	_ = ws.conn.close()
	select {
	case ws.Done <- struct{}{}:
	default:
	}
}
