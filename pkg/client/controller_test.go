package client

import (
	"sync"
	"testing"
	"time"

	"github.com/pairwise/pairwise/pkg/api"
	conf "github.com/pairwise/pairwise/pkg/config/client"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
	"github.com/pairwise/pairwise/pkg/rtc"
)

type fakeSession struct {
	mu        sync.Mutex
	initiator bool
	applied   []rtc.Signal
	closed    bool
	onClose   func()
	onSignal  func(rtc.Signal)
	ceilings  []int
	bytes     uint64
}

func (f *fakeSession) OnSignal(fn func(rtc.Signal)) { f.mu.Lock(); f.onSignal = fn; f.mu.Unlock() }
func (f *fakeSession) OnRemoteTrack(func(string))   {}
func (f *fakeSession) OnClose(fn func())            { f.mu.Lock(); f.onClose = fn; f.mu.Unlock() }

// Stats fabricates steadily growing counters over a healthy link.
func (f *fakeSession) Stats() (rtc.TransportStats, error) {
	f.mu.Lock()
	f.bytes += 50_000
	b := f.bytes
	f.mu.Unlock()
	return rtc.TransportStats{
		Timestamp:   time.Now(),
		Audio:       rtc.TrackStats{BytesReceived: b / 10, PacketsReceived: 100},
		Video:       rtc.TrackStats{BytesReceived: b, PacketsReceived: 1000, FrameRate: 30},
		RoundTripMs: 40,
	}, nil
}
func (f *fakeSession) SetBitrateCeiling(bps int) {
	f.mu.Lock()
	f.ceilings = append(f.ceilings, bps)
	f.mu.Unlock()
}

// emit pushes locally generated negotiation data into the wired sink.
func (f *fakeSession) emit(s rtc.Signal) {
	f.mu.Lock()
	fn := f.onSignal
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
func (f *fakeSession) ApplySignal(s rtc.Signal) error {
	f.mu.Lock()
	f.applied = append(f.applied, s)
	f.mu.Unlock()
	return nil
}
func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}
func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
func (f *fakeSession) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}
func (f *fakeSession) ceilingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ceilings)
}

type fakeFactory struct {
	mu       sync.Mutex
	last     *fakeSession
	sessions []*fakeSession
}

func (f *fakeFactory) NewSession(initiator bool, _ rtc.MediaSource) (rtc.Session, error) {
	s := &fakeSession{initiator: initiator}
	f.mu.Lock()
	f.last = s
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < len(f.sessions) {
		return f.sessions[i]
	}
	return nil
}

func testConf(addr string, attempts int) conf.Config {
	c := conf.Config{}
	c.Client.Network.ServerAddress = addr
	c.Client.Network.Endpoint = "/ws"
	c.Client.Reconnect.MaxAttempts = attempts
	c.Client.Reconnect.BaseDelay = time.Millisecond
	return c
}

func testController(attempts int) (*Controller, *fakeFactory) {
	f := &fakeFactory{}
	// port 1 refuses instantly, no server ever listens there
	return New(testConf("127.0.0.1:1", attempts), f, logger.New(false)), f
}

func awaitState(t *testing.T, states chan State, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func TestMatchedCreatesSessionWithAssignedRole(t *testing.T) {
	c, f := testController(1)
	c.state = Searching

	err := c.handleMatched(api.MatchedNotice{
		PartnerId: network.Uid("partner"),
		RoomId:    network.Uid("room"),
		Initiator: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.State() != Connecting {
		t.Fatalf("want connecting, got %v", c.State())
	}
	if f.last == nil || !f.last.initiator {
		t.Fatal("session must carry the server-assigned initiator role")
	}
	if c.partnerId != network.Uid("partner") || c.roomId != network.Uid("room") {
		t.Fatalf("pairing not recorded: %v/%v", c.partnerId, c.roomId)
	}
}

func TestMatchedIgnoredOutsideSearching(t *testing.T) {
	c, f := testController(1)
	c.state = Ready

	if err := c.handleMatched(api.MatchedNotice{PartnerId: "p"}); err != nil {
		t.Fatal(err)
	}
	if f.last != nil || c.State() != Ready {
		t.Fatalf("unexpected session or state change: %v", c.State())
	}
}

func TestRemoteTrackEstablishesCall(t *testing.T) {
	c, _ := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r", Initiator: false})

	c.remoteTrack("video")
	if c.State() != Connected {
		t.Fatalf("want connected, got %v", c.State())
	}
	c.Close()
}

func TestStaleSignalNotApplied(t *testing.T) {
	c, f := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r"})

	if err := c.handleSignal(api.SignalNotice{From: "someone-else", Signal: []byte(`{"type":"offer"}`)}); err != nil {
		t.Fatal(err)
	}
	if f.last.appliedCount() != 0 {
		t.Fatal("signal from a non-partner must not reach the session")
	}
	if err := c.handleSignal(api.SignalNotice{From: "p", Signal: []byte(`{"type":"offer","sdp":"v=0"}`)}); err != nil {
		t.Fatal(err)
	}
	if f.last.appliedCount() != 1 {
		t.Fatal("partner signal must be applied")
	}
}

func TestPartnerDisconnectTearsDownCall(t *testing.T) {
	c, f := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r"})
	c.remoteTrack("video")

	c.handlePartnerGone()
	if c.State() != Disconnected {
		t.Fatalf("want disconnected, got %v", c.State())
	}
	deadline := time.Now().Add(time.Second)
	for !f.last.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("session not closed after partner loss")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !c.partnerId.Empty() || !c.roomId.Empty() {
		t.Fatal("pairing fields must be cleared")
	}
}

func TestHangUpIsIdempotent(t *testing.T) {
	c, _ := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r"})
	c.remoteTrack("audio")

	c.HangUp()
	if c.State() != Disconnected {
		t.Fatalf("want disconnected, got %v", c.State())
	}
	c.HangUp() // second call is a no-op
	if c.State() != Disconnected {
		t.Fatalf("state drifted on repeated hang-up: %v", c.State())
	}
}

func TestReconnectStopsAtBudget(t *testing.T) {
	const attempts = 3
	c, _ := testController(attempts)
	c.state = Ready

	states := make(chan State, 16)
	c.OnState(func(s State) { states <- s })

	c.socketClosed(nil)
	awaitState(t, states, Reconnecting)
	awaitState(t, states, Disconnected)

	c.mu.Lock()
	burned := c.attempts
	c.mu.Unlock()
	if burned != attempts {
		t.Fatalf("want exactly %d attempts, got %d", attempts, burned)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, _ := testController(1)
	c.state = Searching
	_ = c.handleMatched(api.MatchedNotice{PartnerId: "p", RoomId: "r"})
	c.Close()
	c.Close()
}
