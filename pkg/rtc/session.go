// Package rtc wraps the WebRTC transport primitive behind a narrow
// capability surface, so the call-control layer never reaches into
// peer-connection internals and the whole thing can be swapped in tests.
package rtc

import (
	"time"
)

// Signal is one piece of connection-negotiation data exchanged
// through the signaling relay before a direct media path exists.
type Signal struct {
	Type      string `json:"type"` // "offer" | "answer" | "candidate"
	SDP       string `json:"sdp,omitempty"`
	Candidate string `json:"candidate,omitempty"`
}

// Session is the peer transport capability: negotiation in/out,
// raw counters out, a bitrate ceiling in, and teardown.
type Session interface {
	// OnSignal registers the sink for locally generated negotiation data.
	OnSignal(fn func(Signal))
	// ApplySignal feeds remote negotiation data into the transport.
	ApplySignal(s Signal) error
	// OnRemoteTrack fires when the first media of the given kind arrives.
	OnRemoteTrack(fn func(kind string))
	// OnClose fires once when the transport ends for any reason.
	OnClose(fn func())
	// Stats snapshots the raw cumulative transport counters.
	Stats() (TransportStats, error)
	// SetBitrateCeiling caps the outbound encoder; zero lifts the cap.
	// Reapplying the same ceiling is a no-op by construction.
	SetBitrateCeiling(bps int)
	// Close tears the transport down; safe to call more than once.
	Close()
}

// TransportStats are cumulative raw counters; rate values are derived
// elsewhere by deltas between consecutive snapshots.
type TransportStats struct {
	Timestamp time.Time

	Audio TrackStats
	Video TrackStats

	RoundTripMs         float64
	LocalCandidateType  string
	RemoteCandidateType string
	Protocol            string
}

type TrackStats struct {
	BytesSent       uint64
	BytesReceived   uint64
	PacketsReceived uint32
	PacketsLost     int32
	JitterMs        float64
	FrameRate       float64
	Width           uint32
	Height          uint32
	Codec           string
}

// PacketLossPct derives the received-leg loss ratio from the counters.
func (t TrackStats) PacketLossPct() float64 {
	total := int64(t.PacketsReceived) + int64(t.PacketsLost)
	if total <= 0 {
		return 0
	}
	return float64(t.PacketsLost) / float64(total) * 100
}
