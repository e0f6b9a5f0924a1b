package server

import (
	"sync"
	"time"

	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
)

// Room links exactly two clients for the duration of a call.
type Room struct {
	Id        network.Uid
	Members   [2]network.Uid
	CreatedAt time.Time
}

// SessionManager owns the registry, the waiting queue, and the rooms.
// One mutex guards all three, so composite operations (pop from the
// queue, then pair) are atomic: no inbound message can observe a state
// where one side is paired and the other is not.
type SessionManager struct {
	mu      sync.Mutex
	clients map[network.Uid]*Client
	queue   []network.Uid
	rooms   map[network.Uid]*Room

	started  time.Time
	messages uint64

	log *logger.Logger
}

func NewSessionManager(log *logger.Logger) *SessionManager {
	return &SessionManager{
		clients: make(map[network.Uid]*Client, 32),
		rooms:   make(map[network.Uid]*Room, 16),
		started: time.Now(),
		log:     log,
	}
}

// AddClient registers the record and greets the socket with its id.
func (m *SessionManager) AddClient(c *Client) {
	m.mu.Lock()
	m.clients[c.Id()] = c
	n := len(m.clients)
	m.mu.Unlock()
	metricConnections.Set(float64(n))
	c.SendConnected()
}

// Touch accounts one inbound message for the client.
func (m *SessionManager) Touch(c *Client) {
	m.mu.Lock()
	c.LastSeen = time.Now()
	c.Messages++
	m.messages++
	m.mu.Unlock()
}

// JoinQueue is idempotent: a second join re-files the client at the
// queue tail. With a partner already waiting the two are paired right
// away, and the waiting side becomes the negotiation initiator.
func (m *SessionManager) JoinQueue(c *Client, prefs api.Preferences) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Paired() {
		// no double booking, the current call has to end first
		c.SendError("already in a call")
		return
	}

	m.dequeue(c)
	c.Preferences = prefs

	if w := m.popWaiting(c.Id()); w != nil {
		m.createRoom(w, c)
		return
	}

	c.JoinedQueueAt = time.Now()
	m.queue = append(m.queue, c.Id())
	metricWaiting.Set(float64(len(m.queue)))
	c.SendWaiting(len(m.queue))
}

// LeaveQueue removes the client if waiting; leaving twice is fine.
func (m *SessionManager) LeaveQueue(c *Client) {
	m.mu.Lock()
	m.dequeue(c)
	m.mu.Unlock()
	c.Notify(api.LeftQueue, nil)
}

// popWaiting takes the oldest waiting client, skipping the requester.
func (m *SessionManager) popWaiting(self network.Uid) *Client {
	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]
		if id == self {
			continue
		}
		if w, ok := m.clients[id]; ok {
			w.JoinedQueueAt = time.Time{}
			metricWaiting.Set(float64(len(m.queue)))
			return w
		}
	}
	return nil
}

// createRoom pairs the two clients under the held lock, so both sides'
// partner and room fields change in one step. The waiting side (a)
// gets the initiator flag; exactly one side ever has it.
func (m *SessionManager) createRoom(a, b *Client) {
	room := &Room{
		Id:        network.NewUid(),
		Members:   [2]network.Uid{a.Id(), b.Id()},
		CreatedAt: time.Now(),
	}
	m.rooms[room.Id] = room
	a.PartnerId, a.RoomId = b.Id(), room.Id
	b.PartnerId, b.RoomId = a.Id(), room.Id
	metricRooms.Set(float64(len(m.rooms)))
	metricMatches.Inc()
	m.log.Info().
		Str("room", room.Id.Short()).
		Str("a", a.Id().Short()).
		Str("b", b.Id().Short()).
		Msg("Matched")

	a.SendMatched(b.Id(), room.Id, true)
	b.SendMatched(a.Id(), room.Id, false)
}

// RelaySignal forwards negotiation data, but only when the target's
// current partner is the sender. Stale signals from a finished pairing
// are rejected with an error to the sender, not dropped quietly.
func (m *SessionManager) RelaySignal(from *Client, to network.Uid, signal []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.clients[to]
	if !ok || target.PartnerId != from.Id() {
		return api.ErrForbidden
	}
	metricRelayed.Inc()
	target.Notify(api.Signal, api.SignalNotice{From: from.Id(), Signal: signal})
	return nil
}

// RelayQualityReport is best effort: without a partner it is a no-op.
func (m *SessionManager) RelayQualityReport(from *Client, stats api.QualitySummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target, ok := m.clients[from.PartnerId]; ok {
		metricRelayed.Inc()
		target.Notify(api.PartnerQuality, api.PartnerQualityNotice{From: from.Id(), Stats: stats})
	}
}

// RelayMediaToggle is best effort: without a partner it is a no-op.
func (m *SessionManager) RelayMediaToggle(from *Client, rq api.ToggleMediaRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if target, ok := m.clients[from.PartnerId]; ok {
		metricRelayed.Inc()
		target.Notify(api.PartnerMediaToggle, api.PartnerMediaToggleNotice{
			From:    from.Id(),
			Type:    rq.Type,
			Enabled: rq.Enabled,
		})
	}
}

// Disconnect runs the full cleanup for a gone socket: out of the
// queue, partner unpaired and notified, room closed, record dropped.
// The partner is notified before the room goes away so the call
// duration can still be taken from its start time.
func (m *SessionManager) Disconnect(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dequeue(c)

	if partner, ok := m.clients[c.PartnerId]; ok && partner.PartnerId == c.Id() {
		partner.SendPartnerDisconnected(c.Id())
		partner.PartnerId, partner.RoomId = network.EmptyUid, network.EmptyUid
	}
	if room, ok := m.rooms[c.RoomId]; ok {
		m.log.Info().
			Str("room", room.Id.Short()).
			Dur("duration", time.Since(room.CreatedAt)).
			Msg("Room closed")
		delete(m.rooms, room.Id)
		metricRooms.Set(float64(len(m.rooms)))
	}
	c.PartnerId, c.RoomId = network.EmptyUid, network.EmptyUid

	delete(m.clients, c.Id())
	metricConnections.Set(float64(len(m.clients)))
}

// CloseAll force-closes every live socket; each close funnels its
// connection through the regular disconnect cleanup.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	open := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		open = append(open, c)
	}
	m.mu.Unlock()
	for _, c := range open {
		c.Close()
	}
}

// Stats snapshots the totals for one requesting client.
func (m *SessionManager) Stats(c *Client) api.StatsResponseNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return api.StatsResponseNotice{
		Connections: len(m.clients),
		Rooms:       len(m.rooms),
		Waiting:     len(m.queue),
		Messages:    m.messages,
		UptimeSec:   int64(time.Since(m.started).Seconds()),
		Timestamp:   stamp(),
	}
}

// Counts reports (connections, rooms, waiting) for the health endpoint.
func (m *SessionManager) Counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients), len(m.rooms), len(m.queue)
}

// dequeue drops the client from the waiting queue if present.
// Callers hold the manager lock.
func (m *SessionManager) dequeue(c *Client) {
	for i, id := range m.queue {
		if id == c.Id() {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	c.JoinedQueueAt = time.Time{}
	metricWaiting.Set(float64(len(m.queue)))
}
