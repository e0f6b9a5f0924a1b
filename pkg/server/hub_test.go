package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/comm"
	"github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
)

const awaitTimeout = 3 * time.Second

type testPeer struct {
	sock    comm.SocketClient
	id      network.Uid
	packets chan api.In
}

func setup(t *testing.T) (*SessionManager, url.URL, *logger.Logger) {
	t.Helper()
	log := logger.New(false)
	mgr := NewSessionManager(log)
	hub := NewHub(server.Config{}, mgr, log)
	ts := httptest.NewServer(http.HandlerFunc(hub.handleClientConnection))
	t.Cleanup(ts.Close)
	addr, err := url.Parse("ws" + strings.TrimPrefix(ts.URL, "http"))
	if err != nil {
		t.Fatal(err)
	}
	return mgr, *addr, log
}

func dial(t *testing.T, addr url.URL, log *logger.Logger) *testPeer {
	t.Helper()
	conn, err := comm.NewConnector().NewClient(addr, log)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sock := comm.New(conn, "t", network.NewUid(), log)
	p := &testPeer{sock: sock, packets: make(chan api.In, 32)}
	sock.OnPacket(func(in api.In) error { p.packets <- in; return nil })
	sock.ProcessMessages()
	t.Cleanup(sock.Close)

	greet := p.await(t, api.Connected)
	hello := api.Unwrap[api.ConnectedNotice](greet.Payload)
	if hello == nil || hello.ClientId.Empty() {
		t.Fatalf("no client id in the greeting: %v", greet)
	}
	p.id = hello.ClientId
	return p
}

// await returns the next packet of the wanted type, skipping others.
func (p *testPeer) await(t *testing.T, want api.PT) api.In {
	t.Helper()
	deadline := time.After(awaitTimeout)
	for {
		select {
		case in := <-p.packets:
			if in.T == want {
				return in
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func (p *testPeer) join(prefs api.Preferences) {
	p.sock.Notify(api.JoinQueue, api.JoinQueueRequest{Preferences: prefs})
}

func match(t *testing.T, addr url.URL, log *logger.Logger) (*testPeer, *testPeer) {
	t.Helper()
	a := dial(t, addr, log)
	a.join(api.Preferences{})
	a.await(t, api.Waiting)
	b := dial(t, addr, log)
	b.join(api.Preferences{})
	a.await(t, api.Matched)
	b.await(t, api.Matched)
	return a, b
}

func TestMatchmakingPairsInOrder(t *testing.T) {
	_, addr, log := setup(t)

	a := dial(t, addr, log)
	a.join(api.Preferences{Region: "eu"})
	w := api.Unwrap[api.WaitingNotice](a.await(t, api.Waiting).Payload)
	if w == nil || w.Position != 1 {
		t.Fatalf("expected waiting position 1, got %+v", w)
	}

	b := dial(t, addr, log)
	b.join(api.Preferences{})

	ma := api.Unwrap[api.MatchedNotice](a.await(t, api.Matched).Payload)
	mb := api.Unwrap[api.MatchedNotice](b.await(t, api.Matched).Payload)
	if ma == nil || mb == nil {
		t.Fatal("malformed matched notices")
	}
	if ma.PartnerId != b.id || mb.PartnerId != a.id {
		t.Fatalf("partner ids don't cross-reference: %v/%v", ma.PartnerId, mb.PartnerId)
	}
	if ma.RoomId != mb.RoomId {
		t.Fatalf("room ids differ: %v vs %v", ma.RoomId, mb.RoomId)
	}
	if !ma.Initiator || mb.Initiator {
		t.Fatalf("the waiting side must be the only initiator: a=%v b=%v", ma.Initiator, mb.Initiator)
	}
}

func TestLeaveQueueIsIdempotent(t *testing.T) {
	mgr, addr, log := setup(t)

	a := dial(t, addr, log)
	a.join(api.Preferences{})
	a.await(t, api.Waiting)

	a.sock.Notify(api.LeaveQueue, nil)
	a.await(t, api.LeftQueue)
	a.sock.Notify(api.LeaveQueue, nil)
	a.await(t, api.LeftQueue)

	if _, _, waiting := mgr.Counts(); waiting != 0 {
		t.Fatalf("queue should be empty, has %d", waiting)
	}
}

func TestRejoinKeepsSingleQueueEntry(t *testing.T) {
	mgr, addr, log := setup(t)

	a := dial(t, addr, log)
	a.join(api.Preferences{})
	a.await(t, api.Waiting)
	a.join(api.Preferences{})
	w := api.Unwrap[api.WaitingNotice](a.await(t, api.Waiting).Payload)
	if w.Position != 1 {
		t.Fatalf("re-join should re-file at position 1, got %d", w.Position)
	}
	if _, _, waiting := mgr.Counts(); waiting != 1 {
		t.Fatalf("client queued more than once: %d entries", waiting)
	}
}

func TestJoinWhilePairedIsRejected(t *testing.T) {
	_, addr, log := setup(t)
	a, _ := match(t, addr, log)

	a.join(api.Preferences{})
	e := api.Unwrap[api.ErrorNotice](a.await(t, api.Error).Payload)
	if e == nil || !strings.Contains(e.Message, "already in a call") {
		t.Fatalf("expected a rejection, got %+v", e)
	}
}

func TestSignalRelayAndStaleRejection(t *testing.T) {
	_, addr, log := setup(t)
	a, b := match(t, addr, log)

	offer, _ := json.Marshal(map[string]string{"type": "offer", "sdp": "v=0"})
	a.sock.Notify(api.Signal, api.SignalRequest{To: b.id, Signal: offer})
	s := api.Unwrap[api.SignalNotice](b.await(t, api.Signal).Payload)
	if s == nil || s.From != a.id {
		t.Fatalf("signal lost or mislabeled: %+v", s)
	}

	// a third connection pretending to be the partner must be refused
	d := dial(t, addr, log)
	d.sock.Notify(api.Signal, api.SignalRequest{To: a.id, Signal: offer})
	d.await(t, api.Error)

	// and the real partner's signals still flow
	b.sock.Notify(api.Signal, api.SignalRequest{To: a.id, Signal: offer})
	got := api.Unwrap[api.SignalNotice](a.await(t, api.Signal).Payload)
	if got == nil || got.From != b.id {
		t.Fatalf("stale signal leaked or relay broke: %+v", got)
	}
}

func TestDisconnectCleansUpRoomAndPartner(t *testing.T) {
	mgr, addr, log := setup(t)
	a, b := match(t, addr, log)

	b.sock.Close()

	gone := api.Unwrap[api.PartnerDisconnectedNotice](a.await(t, api.PartnerDisconnected).Payload)
	if gone == nil || gone.PartnerId != b.id {
		t.Fatalf("wrong partner-disconnected notice: %+v", gone)
	}

	deadline := time.Now().Add(awaitTimeout)
	for {
		conns, rooms, _ := mgr.Counts()
		if conns == 1 && rooms == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cleanup incomplete: connections=%d rooms=%d", conns, rooms)
		}
		time.Sleep(10 * time.Millisecond)
	}

	mgr.mu.Lock()
	survivor := mgr.clients[a.id]
	mgr.mu.Unlock()
	if survivor == nil || survivor.Paired() || !survivor.RoomId.Empty() {
		t.Fatalf("survivor pairing not cleared: %+v", survivor)
	}

	// the survivor can pair again with a fresh client
	a.join(api.Preferences{})
	a.await(t, api.Waiting)
	c := dial(t, addr, log)
	c.join(api.Preferences{})
	m := api.Unwrap[api.MatchedNotice](a.await(t, api.Matched).Payload)
	if m.PartnerId != c.id {
		t.Fatalf("expected re-pairing with the new client, got %v", m.PartnerId)
	}
}

func TestQualityAndMediaRelays(t *testing.T) {
	_, addr, log := setup(t)
	a, b := match(t, addr, log)

	a.sock.Notify(api.QualityReport, api.QualityReportRequest{
		Stats: api.QualitySummary{Level: "good", BitrateKbps: 900},
	})
	q := api.Unwrap[api.PartnerQualityNotice](b.await(t, api.PartnerQuality).Payload)
	if q == nil || q.From != a.id || q.Stats.Level != "good" {
		t.Fatalf("quality report mangled: %+v", q)
	}

	b.sock.Notify(api.ToggleMedia, api.ToggleMediaRequest{Type: "video", Enabled: false})
	m := api.Unwrap[api.PartnerMediaToggleNotice](a.await(t, api.PartnerMediaToggle).Payload)
	if m == nil || m.From != b.id || m.Type != "video" || m.Enabled {
		t.Fatalf("media toggle mangled: %+v", m)
	}
}

func TestStatsCall(t *testing.T) {
	_, addr, log := setup(t)
	a := dial(t, addr, log)

	raw, err := a.sock.Send(api.RequestStats, nil)
	if err != nil {
		t.Fatal(err)
	}
	stats := api.Unwrap[api.StatsResponseNotice](raw)
	if stats == nil || stats.Connections < 1 {
		t.Fatalf("bogus stats: %+v", stats)
	}
}

func TestUnknownPacketAnswersError(t *testing.T) {
	_, addr, log := setup(t)
	a := dial(t, addr, log)

	a.sock.Notify(api.PT(250), nil)
	e := api.Unwrap[api.ErrorNotice](a.await(t, api.Error).Payload)
	if e == nil || e.Message == "" {
		t.Fatal("expected an error notice for the unknown type")
	}
	// the connection survives the protocol fault
	a.sock.Notify(api.Heartbeat, nil)
	a.await(t, api.HeartbeatAck)
}
