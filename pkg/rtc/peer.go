package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pion/webrtc/v3"
)

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)

// Peer is the pion-backed Session implementation.
type Peer struct {
	conn  *webrtc.PeerConnection
	media MediaSource
	log   *logger.Logger

	mu         sync.Mutex
	onSignal   func(Signal)
	onTrack    func(kind string)
	onClose    func()
	pending    []Signal
	candidates []webrtc.ICECandidateInit
	seenKind   map[string]bool
	codecs     map[string]string
	hasRemote  bool

	closeOnce sync.Once
}

// NewSession creates a transport session. The initiator side makes
// the first offer; the other side answers.
func (a *ApiFactory) NewSession(initiator bool, media MediaSource) (Session, error) {
	conn, err := a.NewPeer()
	if err != nil {
		return nil, err
	}
	p := &Peer{
		conn:     conn,
		media:    media,
		log:      a.log,
		seenKind: make(map[string]bool, 2),
		codecs:   make(map[string]string, 2),
	}
	if err := media.AddTo(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		raw, err := json.Marshal(init)
		if err != nil {
			p.log.Error().Err(err).Msg("candidate marshal fail")
			return
		}
		p.emit(Signal{Type: signalCandidate, Candidate: string(raw)})
	})

	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		p.mu.Lock()
		first := !p.seenKind[kind]
		p.seenKind[kind] = true
		p.codecs[kind] = track.Codec().MimeType
		fn := p.onTrack
		p.mu.Unlock()
		if first && fn != nil {
			fn(kind)
		}
		go drain(track)
	})

	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug().Msgf("peer connection state: %v", state)
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.media.Start()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.Close()
		}
	})

	if initiator {
		offer, err := conn.CreateOffer(nil)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		if err = conn.SetLocalDescription(offer); err != nil {
			_ = conn.Close()
			return nil, err
		}
		p.emit(Signal{Type: signalOffer, SDP: offer.SDP})
	}
	return p, nil
}

// drain keeps the inbound RTP flowing so the transport counters move.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

// emit hands a local signal to the sink, buffering until one is set.
func (p *Peer) emit(s Signal) {
	p.mu.Lock()
	fn := p.onSignal
	if fn == nil {
		p.pending = append(p.pending, s)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	fn(s)
}

func (p *Peer) OnSignal(fn func(Signal)) {
	p.mu.Lock()
	p.onSignal = fn
	flush := p.pending
	p.pending = nil
	p.mu.Unlock()
	for _, s := range flush {
		fn(s)
	}
}

func (p *Peer) OnRemoteTrack(fn func(kind string)) {
	p.mu.Lock()
	p.onTrack = fn
	p.mu.Unlock()
}

func (p *Peer) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = fn
	p.mu.Unlock()
}

// ApplySignal feeds remote negotiation data in. Candidates arriving
// ahead of the remote description are held back and added after it.
func (p *Peer) ApplySignal(s Signal) error {
	switch s.Type {
	case signalOffer:
		if err := p.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}); err != nil {
			return err
		}
		p.flushCandidates()
		answer, err := p.conn.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err = p.conn.SetLocalDescription(answer); err != nil {
			return err
		}
		p.emit(Signal{Type: signalAnswer, SDP: answer.SDP})
		return nil
	case signalAnswer:
		if err := p.conn.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}); err != nil {
			return err
		}
		p.flushCandidates()
		return nil
	case signalCandidate:
		var init webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(s.Candidate), &init); err != nil {
			return err
		}
		p.mu.Lock()
		ready := p.hasRemote
		if !ready {
			p.candidates = append(p.candidates, init)
		}
		p.mu.Unlock()
		if !ready {
			return nil
		}
		return p.conn.AddICECandidate(init)
	default:
		return fmt.Errorf("unknown signal type %q", s.Type)
	}
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	p.hasRemote = true
	held := p.candidates
	p.candidates = nil
	p.mu.Unlock()
	for _, c := range held {
		if err := p.conn.AddICECandidate(c); err != nil {
			p.log.Warn().Err(err).Msg("held candidate rejected")
		}
	}
}

// Stats snapshots the raw transport counters from the pion report.
func (p *Peer) Stats() (TransportStats, error) {
	report := p.conn.GetStats()
	p.mu.Lock()
	codecs := map[string]string{"audio": p.codecs["audio"], "video": p.codecs["video"]}
	p.mu.Unlock()
	return collectStats(report, codecs), nil
}

// collectStats folds the flat pion report into per-track counters and
// the nominated candidate pair's path description. Frame rate and
// resolution stay zero: the inbound RTP stats of the pinned transport
// do not carry them.
func collectStats(report webrtc.StatsReport, codecs map[string]string) TransportStats {
	out := TransportStats{Timestamp: time.Now()}
	out.Audio.Codec = codecs["audio"]
	out.Video.Codec = codecs["video"]

	candidates := make(map[string]webrtc.ICECandidateStats, 4)
	var pair *webrtc.ICECandidatePairStats
	for _, s := range report {
		switch v := s.(type) {
		case webrtc.InboundRTPStreamStats:
			t := trackFor(&out, v.Kind)
			t.BytesReceived += v.BytesReceived
			t.PacketsReceived += v.PacketsReceived
			t.PacketsLost += v.PacketsLost
			t.JitterMs = v.Jitter * 1000
		case webrtc.OutboundRTPStreamStats:
			trackFor(&out, v.Kind).BytesSent += v.BytesSent
		case webrtc.ICECandidatePairStats:
			if v.Nominated && v.State == webrtc.StatsICECandidatePairStateSucceeded {
				vv := v
				pair = &vv
			}
		case webrtc.ICECandidateStats:
			candidates[v.ID] = v
		}
	}
	if pair != nil {
		out.RoundTripMs = pair.CurrentRoundTripTime * 1000
		if c, ok := candidates[pair.LocalCandidateID]; ok {
			out.LocalCandidateType = c.CandidateType.String()
			out.Protocol = c.Protocol
		}
		if c, ok := candidates[pair.RemoteCandidateID]; ok {
			out.RemoteCandidateType = c.CandidateType.String()
		}
	}
	return out
}

func trackFor(s *TransportStats, kind string) *TrackStats {
	if kind == "audio" {
		return &s.Audio
	}
	return &s.Video
}

func (p *Peer) SetBitrateCeiling(bps int) { p.media.SetBitrateCeiling(bps) }

// Close is idempotent; the media pumps stop before the transport.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.media.Stop()
		if err := p.conn.Close(); err != nil {
			p.log.Warn().Err(err).Msg("peer close fail")
		}
		p.mu.Lock()
		fn := p.onClose
		p.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}
