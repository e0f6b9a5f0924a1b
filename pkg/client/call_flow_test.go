package client

import (
	"context"
	"testing"
	"time"

	"github.com/pairwise/pairwise/pkg/api"
	serverconf "github.com/pairwise/pairwise/pkg/config/server"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/rtc"
	"github.com/pairwise/pairwise/pkg/server"
)

// startHub spins a real matchmaking server on a loopback port.
func startHub(t *testing.T) string {
	t.Helper()
	log := logger.New(false)
	conf := serverconf.Config{}
	conf.Server.Http.Address = "127.0.0.1:0"
	mgr := server.NewSessionManager(log)
	hub := server.NewHub(conf, mgr, log)
	hs, err := server.NewHTTPServer(conf, log, hub, mgr, nil)
	if err != nil {
		t.Fatalf("http server: %v", err)
	}
	hs.Run()
	t.Cleanup(func() { _ = hs.Shutdown(context.Background()) })
	return hs.Addr
}

// startPeer boots a controller against the hub and funnels its state
// changes into a channel.
func startPeer(t *testing.T, addr string) (*Controller, *fakeFactory, chan State) {
	t.Helper()
	f := &fakeFactory{}
	c := New(testConf(addr, 1), f, logger.New(false))
	c.sampleEvery = 10 * time.Millisecond
	states := make(chan State, 32)
	c.OnState(func(s State) { states <- s })
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(c.Close)
	awaitState(t, states, Ready)
	return c, f, states
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallFlowOverLoopback(t *testing.T) {
	addr := startHub(t)

	a, fa, sa := startPeer(t, addr)
	b, fb, sb := startPeer(t, addr)

	if err := a.Connect(api.Preferences{}); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sa, Searching)
	if err := b.Connect(api.Preferences{}); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sa, Connecting)
	awaitState(t, sb, Connecting)

	sessA, sessB := fa.session(0), fb.session(0)
	if sessA == nil || sessB == nil {
		t.Fatal("both sides must hold a peer session after the match")
	}
	if sessA.initiator == sessB.initiator {
		t.Fatalf("exactly one side must initiate: a=%v b=%v", sessA.initiator, sessB.initiator)
	}

	// negotiation data crosses the relay into the partner's session
	sessA.emit(rtc.Signal{Type: "offer", SDP: "v=0"})
	waitFor(t, func() bool { return sessB.appliedCount() == 1 }, "relayed offer")

	// first remote media flips both sides into an established call
	a.remoteTrack("video")
	b.remoteTrack("video")
	awaitState(t, sa, Connected)
	awaitState(t, sb, Connected)

	// the sampler snapshots counters, applies a ceiling, and the
	// summary reaches the partner through the relay
	got := make(chan api.PartnerQualityNotice, 8)
	b.OnPartnerQuality(func(n api.PartnerQualityNotice) { got <- n })
	select {
	case n := <-got:
		if n.From != a.Id() {
			t.Fatalf("quality report from %v, want %v", n.From, a.Id())
		}
		if n.Stats.Level == "" {
			t.Fatal("quality summary carries no level")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no quality report crossed the relay")
	}
	waitFor(t, func() bool { return sessA.ceilingCount() > 0 }, "bitrate ceiling")

	// skipping cycles the signaling socket: the partner learns of the
	// loss through the server and a rejoin pairs the two again
	if err := a.Next(); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sb, Disconnected)
	awaitState(t, sa, Searching)
	if err := b.Connect(api.Preferences{}); err != nil {
		t.Fatal(err)
	}
	awaitState(t, sa, Connecting)
	awaitState(t, sb, Connecting)
	if fa.count() != 2 || fb.count() != 2 {
		t.Fatalf("want fresh sessions after skipping, got %d/%d", fa.count(), fb.count())
	}
}

func TestSignalsRideCurrentSocket(t *testing.T) {
	c, f := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r"})

	// the signaling link is resolved at send time; with none attached
	// the outbound signal is dropped instead of riding a stale capture
	f.last.emit(rtc.Signal{Type: "candidate", Candidate: "c=1"})
}
