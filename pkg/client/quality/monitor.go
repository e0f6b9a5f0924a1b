// Package quality turns noisy periodic transport counters into a
// discrete, hysteresis-resistant link-quality level and the matching
// bitrate-adaptation decision.
package quality

import (
	"sync"
	"time"

	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/rtc"
)

type Level uint8

const (
	Unknown Level = iota
	Poor
	Fair
	Good
	Excellent
)

func (l Level) String() string {
	switch l {
	case Poor:
		return "poor"
	case Fair:
		return "fair"
	case Good:
		return "good"
	case Excellent:
		return "excellent"
	default:
		return "unknown"
	}
}

const (
	// Interval is the sampling period while a call is up.
	Interval = 2 * time.Second
	// historySize bounds the rolling sample window.
	historySize = 10
	// classifyWindow is how many newest samples feed the level.
	classifyWindow = 3
)

// Sample is one processed measurement with delta-derived rates.
type Sample struct {
	Timestamp time.Time

	Audio struct {
		BitrateBps    float64
		PacketLossPct float64
		JitterMs      float64
		Codec         string
	}
	Video struct {
		BitrateBps    float64
		PacketLossPct float64
		JitterMs      float64
		FrameRate     float64
		Width         uint32
		Height        uint32
		Codec         string
	}
	Connection struct {
		RoundTripMs         float64
		LocalCandidateType  string
		RemoteCandidateType string
		Protocol            string
	}
}

// Monitor keeps the bounded sample history and classifies it.
// Push is driven by the lifecycle controller's sampling timer; the
// history never outlives a call (Reset on disconnect).
type Monitor struct {
	mu      sync.Mutex
	history []Sample
	prev    *rtc.TransportStats
	onLevel func(Level, Sample)
	log     *logger.Logger
}

func NewMonitor(log *logger.Logger) *Monitor {
	return &Monitor{history: make([]Sample, 0, historySize), log: log}
}

// OnLevel registers the level sink; it fires on every pushed sample,
// changed or not, so edge-triggered consumers must deduplicate.
func (m *Monitor) OnLevel(fn func(Level, Sample)) {
	m.mu.Lock()
	m.onLevel = fn
	m.mu.Unlock()
}

// Push processes one raw counter snapshot into a sample: rates come
// from deltas against the previous snapshot and are zero on the first
// push of a session.
func (m *Monitor) Push(stats rtc.TransportStats) (Level, Sample) {
	m.mu.Lock()

	s := Sample{Timestamp: stats.Timestamp}
	s.Audio.PacketLossPct = stats.Audio.PacketLossPct()
	s.Audio.JitterMs = stats.Audio.JitterMs
	s.Audio.Codec = stats.Audio.Codec
	s.Video.PacketLossPct = stats.Video.PacketLossPct()
	s.Video.JitterMs = stats.Video.JitterMs
	s.Video.FrameRate = stats.Video.FrameRate
	s.Video.Width, s.Video.Height = stats.Video.Width, stats.Video.Height
	s.Video.Codec = stats.Video.Codec
	s.Connection.RoundTripMs = stats.RoundTripMs
	s.Connection.LocalCandidateType = stats.LocalCandidateType
	s.Connection.RemoteCandidateType = stats.RemoteCandidateType
	s.Connection.Protocol = stats.Protocol

	if m.prev != nil {
		dt := stats.Timestamp.Sub(m.prev.Timestamp).Seconds()
		if dt > 0 {
			s.Audio.BitrateBps = bitrate(stats.Audio.BytesReceived, m.prev.Audio.BytesReceived, dt)
			s.Video.BitrateBps = bitrate(stats.Video.BytesReceived, m.prev.Video.BytesReceived, dt)
		}
	}
	m.prev = &stats

	m.history = append(m.history, s)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	level := classify(m.tail(classifyWindow))
	fn := m.onLevel
	m.mu.Unlock()

	if fn != nil {
		fn(level, s)
	}
	return level, s
}

// Level classifies the current history without pushing a sample.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return classify(m.tail(classifyWindow))
}

// History returns a copy of the rolling window, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Reset clears the history and the delta seed; next Push reports
// zero bitrate again.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.history = m.history[:0]
	m.prev = nil
	m.mu.Unlock()
}

func (m *Monitor) tail(n int) []Sample {
	if len(m.history) < n {
		return m.history
	}
	return m.history[len(m.history)-n:]
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func bitrate(now, prev uint64, dtSec float64) float64 {
	if now <= prev {
		return 0
	}
	return float64(now-prev) * 8 / dtSec
}

// classify averages the window and walks the thresholds in strict
// descending order of desirability.
func classify(window []Sample) Level {
	if len(window) == 0 {
		return Unknown
	}
	var rtt, loss, jitter float64
	for _, s := range window {
		rtt += s.Connection.RoundTripMs
		// the worse of the two tracks drives the level
		loss += maxf(s.Audio.PacketLossPct, s.Video.PacketLossPct)
		jitter += maxf(s.Audio.JitterMs, s.Video.JitterMs)
	}
	n := float64(len(window))
	rtt, loss, jitter = rtt/n, loss/n, jitter/n

	switch {
	case rtt < 150 && loss < 1 && jitter < 30:
		return Excellent
	case rtt < 300 && loss < 3 && jitter < 50:
		return Good
	case rtt < 500 && loss < 5 && jitter < 100:
		return Fair
	default:
		return Poor
	}
}

// CeilingFor maps a level to the outbound video bitrate cap in bps;
// zero means uncapped.
func CeilingFor(l Level) int {
	switch l {
	case Poor:
		return 300_000
	case Fair:
		return 800_000
	case Good:
		return 1_500_000
	default:
		return 0
	}
}
