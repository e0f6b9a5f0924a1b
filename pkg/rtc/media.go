package rtc

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// MediaSource supplies the outbound tracks and honors a bitrate ceiling.
// Capture pipelines live outside this layer; anything that can feed
// encoded samples into the tracks qualifies.
type MediaSource interface {
	AddTo(pc *webrtc.PeerConnection) error
	SetBitrateCeiling(bps int)
	Start()
	Stop()
}

const (
	videoFps      = 30
	audioFrame    = 20 * time.Millisecond
	audioBitrate  = 64_000
	defaultTarget = 1_500_000
)

// SyntheticSource paces dummy encoded frames at a target bitrate.
// It stands in for a real capture pipeline in the headless client:
// the traffic is transport-valid and rate-accurate, not decodable media.
type SyntheticSource struct {
	target  int64
	ceiling atomic.Int64

	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

func NewSyntheticSource(videoBps int) (*SyntheticSource, error) {
	if videoBps <= 0 {
		videoBps = defaultTarget
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "pairwise-audio")
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "pairwise-video")
	if err != nil {
		return nil, err
	}
	return &SyntheticSource{
		target: int64(videoBps),
		audio:  audio,
		video:  video,
	}, nil
}

func (s *SyntheticSource) AddTo(pc *webrtc.PeerConnection) error {
	if _, err := pc.AddTrack(s.audio); err != nil {
		return err
	}
	_, err := pc.AddTrack(s.video)
	return err
}

// SetBitrateCeiling caps the paced video rate; zero lifts the cap.
func (s *SyntheticSource) SetBitrateCeiling(bps int) { s.ceiling.Store(int64(bps)) }

func (s *SyntheticSource) rate() int64 {
	r := s.target
	if c := s.ceiling.Load(); c > 0 && c < r {
		r = c
	}
	return r
}

// Start spins the pumps up. The source outlives a single call, so a
// stopped source starts again with fresh pumps; a running one is left
// alone.
func (s *SyntheticSource) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})
	go s.pumpVideo(s.done)
	go s.pumpAudio(s.done)
}

// Stop parks the pumps; safe to call repeatedly.
func (s *SyntheticSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
}

func (s *SyntheticSource) pumpVideo(done chan struct{}) {
	ticker := time.NewTicker(time.Second / videoFps)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			size := int(s.rate() / 8 / videoFps)
			if size < 1 {
				size = 1
			}
			frame := make([]byte, size)
			_, _ = rand.Read(frame)
			if err := s.video.WriteSample(media.Sample{Data: frame, Duration: time.Second / videoFps}); err != nil {
				return
			}
		}
	}
}

func (s *SyntheticSource) pumpAudio(done chan struct{}) {
	ticker := time.NewTicker(audioFrame)
	defer ticker.Stop()
	size := int(audioBitrate / 8 * int64(audioFrame) / int64(time.Second))
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			frame := make([]byte, size)
			_, _ = rand.Read(frame)
			if err := s.audio.WriteSample(media.Sample{Data: frame, Duration: audioFrame}); err != nil {
				return
			}
		}
	}
}
