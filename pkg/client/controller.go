// Package client drives the call lifecycle on the user's side: a
// signaling link to the matchmaking server, a peer session created on
// match, bounded reconnection when the signaling socket drops, and
// quality-driven bitrate adaptation while a call is up.
package client

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/api"
	"github.com/pairwise/pairwise/pkg/client/quality"
	conf "github.com/pairwise/pairwise/pkg/config/client"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pairwise/pairwise/pkg/network"
	"github.com/pairwise/pairwise/pkg/rtc"
)

// SessionFactory builds peer transports; *rtc.ApiFactory satisfies it,
// tests swap in a fake.
type SessionFactory interface {
	NewSession(initiator bool, media rtc.MediaSource) (rtc.Session, error)
}

var (
	errBadState = errors.New("not allowed in this state")
	errNoLink   = errors.New("no signaling link")
)

type Controller struct {
	conf        conf.Config
	peers       SessionFactory
	monitor     *quality.Monitor
	sampleEvery time.Duration
	log         *logger.Logger

	mu        sync.Mutex
	state     State
	resume    State
	attempts  int
	sig       *signaling
	session   rtc.Session
	media     rtc.MediaSource
	id        network.Uid
	partnerId network.Uid
	roomId    network.Uid
	prefs     api.Preferences
	sampler   chan struct{}
	closed    bool

	onState        func(State)
	onRemoteTrack  func(kind string)
	onQuality      func(quality.Level, quality.Sample)
	onPartnerState func(api.PartnerQualityNotice)
	onPartnerMedia func(api.PartnerMediaToggleNotice)
	onError        func(error)
}

func New(c conf.Config, peers SessionFactory, log *logger.Logger) *Controller {
	return &Controller{
		conf:        c,
		peers:       peers,
		monitor:     quality.NewMonitor(log),
		sampleEvery: quality.Interval,
		log:         log,
		state:       Initializing,
	}
}

// Callback registration; all fire outside the controller lock.
func (c *Controller) OnState(fn func(State))                           { c.mu.Lock(); c.onState = fn; c.mu.Unlock() }
func (c *Controller) OnRemoteTrack(fn func(kind string))               { c.mu.Lock(); c.onRemoteTrack = fn; c.mu.Unlock() }
func (c *Controller) OnQuality(fn func(quality.Level, quality.Sample)) { c.mu.Lock(); c.onQuality = fn; c.mu.Unlock() }
func (c *Controller) OnPartnerQuality(fn func(api.PartnerQualityNotice)) {
	c.mu.Lock()
	c.onPartnerState = fn
	c.mu.Unlock()
}
func (c *Controller) OnPartnerMedia(fn func(api.PartnerMediaToggleNotice)) {
	c.mu.Lock()
	c.onPartnerMedia = fn
	c.mu.Unlock()
}
func (c *Controller) OnError(fn func(error)) { c.mu.Lock(); c.onError = fn; c.mu.Unlock() }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Id() network.Uid {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Start acquires the local media source and the signaling link.
// Failure of either is unrecoverable and parks the machine in the
// error state.
func (c *Controller) Start() error {
	media, err := rtc.NewSyntheticSource(0)
	if err != nil {
		c.fail(fmt.Errorf("media source: %w", err))
		return err
	}
	c.mu.Lock()
	c.media = media
	c.mu.Unlock()

	sig, err := newSignaling(signalingAddress(c.conf), c.log)
	if err != nil {
		c.fail(fmt.Errorf("signaling: %w", err))
		return err
	}
	c.attach(sig)
	c.transition(Ready)
	return nil
}

// attach wires a signaling connection in and starts its read loop.
func (c *Controller) attach(sig *signaling) {
	c.mu.Lock()
	c.sig = sig
	c.mu.Unlock()
	sig.OnPacket(c.route)
	sig.OnFail(func(err error) { c.log.Warn().Err(err).Msg("Undecodable server message") })
	go func() {
		sig.Listen()
		c.socketClosed(sig)
	}()
}

// Connect asks for a partner. Allowed from the ready state; from
// disconnected it re-enters ready first.
func (c *Controller) Connect(prefs api.Preferences) error {
	c.mu.Lock()
	if c.state == Disconnected {
		c.toLocked(Ready)
	}
	if c.state != Ready || c.sig == nil {
		st := c.state
		c.mu.Unlock()
		if st != Ready {
			return fmt.Errorf("%w: %v", errBadState, st)
		}
		return errNoLink
	}
	c.prefs = prefs
	sig := c.sig
	c.toLocked(Searching)
	c.mu.Unlock()

	sig.Notify(api.JoinQueue, api.JoinQueueRequest{Preferences: prefs})
	c.emitState()
	return nil
}

// CancelSearch withdraws from the queue; the state flips back to
// ready when the server confirms.
func (c *Controller) CancelSearch() {
	c.mu.Lock()
	sig := c.sig
	ok := c.state == Searching
	c.mu.Unlock()
	if ok && sig != nil {
		sig.Notify(api.LeaveQueue, nil)
	}
}

// HangUp ends the current call locally. The partner learns about it
// from the transport closing, not from a signaling message.
func (c *Controller) HangUp() {
	c.mu.Lock()
	if c.state != Connected && c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.teardownCallLocked()
	c.toLocked(Disconnected)
	c.mu.Unlock()
	c.emitState()
}

// Next skips to a fresh partner. The server unpairs a room only when
// a socket closes, so the signaling link is cycled: the old socket's
// close runs the server-side cleanup (partner notified, room gone)
// and the new one re-enters the queue with the previous preferences.
func (c *Controller) Next() error {
	switch c.State() {
	case Connected, Connecting:
		c.HangUp()
	case Ready, Disconnected:
	default:
		return fmt.Errorf("%w: %v", errBadState, c.State())
	}

	c.mu.Lock()
	if c.closed || c.state == Errored {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", errBadState, st)
	}
	sig := c.sig
	c.sig = nil
	prefs := c.prefs
	c.mu.Unlock()
	if sig != nil {
		sig.Close()
	}

	fresh, err := newSignaling(signalingAddress(c.conf), c.log)
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	c.attach(fresh)
	return c.Connect(prefs)
}

// SetMediaEnabled tells the partner a local track was muted or
// unmuted. Best effort, display only.
func (c *Controller) SetMediaEnabled(kind string, enabled bool) {
	c.mu.Lock()
	sig := c.sig
	c.mu.Unlock()
	if sig != nil {
		sig.Notify(api.ToggleMedia, api.ToggleMediaRequest{Type: kind, Enabled: enabled})
	}
}

// ServerStats asks the server for its live counters.
func (c *Controller) ServerStats() (api.StatsResponseNotice, error) {
	c.mu.Lock()
	sig := c.sig
	c.mu.Unlock()
	if sig == nil {
		return api.StatsResponseNotice{}, errNoLink
	}
	raw, err := sig.Send(api.RequestStats, nil)
	if err != nil {
		return api.StatsResponseNotice{}, err
	}
	stats := api.Unwrap[api.StatsResponseNotice](raw)
	if stats == nil {
		return api.StatsResponseNotice{}, api.ErrMalformed
	}
	return *stats, nil
}

// Close tears everything down; safe to call more than once and from
// any state.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.teardownCallLocked()
	sig := c.sig
	c.sig = nil
	media := c.media
	c.mu.Unlock()
	if sig != nil {
		sig.Close()
	}
	if media != nil {
		media.Stop()
	}
}

func (c *Controller) route(p api.In) error {
	switch p.T {
	case api.Connected:
		if n := api.Unwrap[api.ConnectedNotice](p.Payload); n != nil {
			c.mu.Lock()
			c.id = n.ClientId
			c.mu.Unlock()
			c.log.Info().Str("cid", string(n.ClientId)).Msg("Registered")
		}
	case api.Waiting:
		if n := api.Unwrap[api.WaitingNotice](p.Payload); n != nil {
			c.log.Info().Int("position", n.Position).Msg("Waiting for a partner")
		}
	case api.LeftQueue:
		c.transition(Ready)
	case api.Matched:
		n := api.Unwrap[api.MatchedNotice](p.Payload)
		if n == nil {
			return api.ErrMalformed
		}
		return c.handleMatched(*n)
	case api.Signal:
		n := api.Unwrap[api.SignalNotice](p.Payload)
		if n == nil {
			return api.ErrMalformed
		}
		return c.handleSignal(*n)
	case api.PartnerQuality:
		if n := api.Unwrap[api.PartnerQualityNotice](p.Payload); n != nil {
			c.mu.Lock()
			fn := c.onPartnerState
			c.mu.Unlock()
			if fn != nil {
				fn(*n)
			}
		}
	case api.PartnerMediaToggle:
		if n := api.Unwrap[api.PartnerMediaToggleNotice](p.Payload); n != nil {
			c.mu.Lock()
			fn := c.onPartnerMedia
			c.mu.Unlock()
			if fn != nil {
				fn(*n)
			}
		}
	case api.PartnerDisconnected:
		c.handlePartnerGone()
	case api.HeartbeatAck:
	case api.Error:
		if n := api.Unwrap[api.ErrorNotice](p.Payload); n != nil {
			c.log.Warn().Str("reason", n.Message).Msg("Server rejected a message")
		}
	default:
		c.log.Warn().Msgf("Unknown server packet: %v", p.T)
	}
	return nil
}

func (c *Controller) handleMatched(m api.MatchedNotice) error {
	c.mu.Lock()
	if c.state != Searching {
		c.mu.Unlock()
		c.log.Warn().Msgf("Matched while %v, ignoring", c.State())
		return nil
	}
	session, err := c.peers.NewSession(m.Initiator, c.media)
	if err != nil {
		c.mu.Unlock()
		c.fail(fmt.Errorf("peer session: %w", err))
		return err
	}
	c.session = session
	c.partnerId = m.PartnerId
	c.roomId = m.RoomId
	c.toLocked(Connecting)
	partner := m.PartnerId
	c.mu.Unlock()

	c.log.Info().
		Str("partner", partner.Short()).
		Str("room", m.RoomId.Short()).
		Bool("initiator", m.Initiator).
		Msg("Matched")

	session.OnSignal(func(s rtc.Signal) {
		raw, err := json.Marshal(s)
		if err != nil {
			c.log.Error().Err(err).Msg("Signal encode")
			return
		}
		c.mu.Lock()
		sig := c.sig
		c.mu.Unlock()
		if sig == nil {
			c.log.Debug().Msg("Dropping signal without a socket")
			return
		}
		sig.Notify(api.Signal, api.SignalRequest{To: partner, Signal: raw})
	})
	session.OnRemoteTrack(func(kind string) { c.remoteTrack(kind) })
	session.OnClose(func() { c.sessionClosed(session) })
	c.emitState()
	return nil
}

func (c *Controller) handleSignal(n api.SignalNotice) error {
	c.mu.Lock()
	session := c.session
	partner := c.partnerId
	c.mu.Unlock()
	if session == nil || n.From != partner {
		c.log.Debug().Str("from", n.From.Short()).Msg("Dropping signal without a session")
		return nil
	}
	var s rtc.Signal
	if err := json.Unmarshal(n.Signal, &s); err != nil {
		return fmt.Errorf("signal decode: %w", err)
	}
	return session.ApplySignal(s)
}

// remoteTrack marks the call established on the first remote media.
func (c *Controller) remoteTrack(kind string) {
	c.mu.Lock()
	fn := c.onRemoteTrack
	if c.state == Connecting {
		c.toLocked(Connected)
		c.startSamplerLocked()
		c.mu.Unlock()
		c.emitState()
	} else {
		c.mu.Unlock()
	}
	if fn != nil {
		fn(kind)
	}
}

func (c *Controller) handlePartnerGone() {
	c.mu.Lock()
	if c.state != Connected && c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.log.Info().Str("partner", c.partnerId.Short()).Msg("Partner disconnected")
	c.teardownCallLocked()
	c.toLocked(Disconnected)
	c.mu.Unlock()
	c.emitState()
}

// sessionClosed handles the transport ending underneath us, e.g. the
// partner's media path failing without a clean signaling notice.
func (c *Controller) sessionClosed(s rtc.Session) {
	c.mu.Lock()
	if c.session != s || c.closed {
		c.mu.Unlock()
		return
	}
	c.teardownCallLocked()
	if c.state == Connected || c.state == Connecting {
		c.toLocked(Disconnected)
		c.mu.Unlock()
		c.emitState()
		return
	}
	c.mu.Unlock()
}

// teardownCallLocked releases the per-call resources. Idempotent;
// the caller holds the lock.
func (c *Controller) teardownCallLocked() {
	c.stopSamplerLocked()
	c.monitor.Reset()
	if c.session != nil {
		s := c.session
		c.session = nil
		go s.Close()
	}
	c.partnerId = network.Uid("")
	c.roomId = network.Uid("")
}

// socketClosed runs when the signaling read loop ends for any reason.
// from identifies the socket whose loop ended; when it no longer is the
// active one the close was a deliberate replacement and nothing happens.
func (c *Controller) socketClosed(from *signaling) {
	c.mu.Lock()
	if c.sig != from {
		c.mu.Unlock()
		return
	}
	if c.closed || c.state == Disconnected || c.state == Errored {
		c.mu.Unlock()
		return
	}
	if c.state != Reconnecting {
		c.resume = c.state
	}
	c.sig = nil
	c.stopSamplerLocked()
	if c.attempts >= c.conf.Client.Reconnect.MaxAttempts {
		c.log.Error().Int("attempts", c.attempts).Msg("Reconnect budget exhausted")
		c.teardownCallLocked()
		c.toLocked(Disconnected)
		c.mu.Unlock()
		c.emitState()
		return
	}
	c.attempts++
	attempt := c.attempts
	changed := c.state != Reconnecting
	if changed {
		c.toLocked(Reconnecting)
	}
	c.mu.Unlock()
	if changed {
		c.emitState()
	}

	delay := time.Duration(attempt) * c.conf.Client.Reconnect.BaseDelay
	c.log.Warn().
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Signaling lost, reconnecting")
	go c.reconnect(delay)
}

func (c *Controller) reconnect(delay time.Duration) {
	time.Sleep(delay)
	c.mu.Lock()
	if c.closed || c.state != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	sig, err := newSignaling(signalingAddress(c.conf), c.log)
	if err != nil {
		// an instantly failing dial burns an attempt like any other drop
		c.socketClosed(nil)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sig.Close()
		return
	}
	resume := c.resume
	c.attempts = 0
	c.toLocked(resume)
	if resume == Connected {
		c.startSamplerLocked()
	}
	prefs := c.prefs
	c.mu.Unlock()

	c.attach(sig)
	if resume == Searching {
		sig.Notify(api.JoinQueue, api.JoinQueueRequest{Preferences: prefs})
	}
	c.emitState()
}

func (c *Controller) startSamplerLocked() {
	if c.sampler != nil {
		return
	}
	stop := make(chan struct{})
	c.sampler = stop
	go c.sample(stop)
}

func (c *Controller) stopSamplerLocked() {
	if c.sampler != nil {
		close(c.sampler)
		c.sampler = nil
	}
}

// sample drives the quality loop: snapshot counters, classify, apply
// the matching bitrate ceiling, and share a summary with the partner.
func (c *Controller) sample(stop chan struct{}) {
	t := time.NewTicker(c.sampleEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		c.mu.Lock()
		session := c.session
		sig := c.sig
		partner := c.partnerId
		connected := c.state == Connected
		onQuality := c.onQuality
		c.mu.Unlock()
		if !connected || session == nil {
			continue
		}

		stats, err := session.Stats()
		if err != nil {
			c.log.Debug().Err(err).Msg("Stats snapshot failed")
			continue
		}
		level, s := c.monitor.Push(stats)
		session.SetBitrateCeiling(quality.CeilingFor(level))
		if onQuality != nil {
			onQuality(level, s)
		}
		if sig != nil && !partner.Empty() {
			sig.Notify(api.QualityReport, api.QualityReportRequest{Stats: summarize(level, s)})
		}
	}
}

func summarize(level quality.Level, s quality.Sample) api.QualitySummary {
	return api.QualitySummary{
		Level:         level.String(),
		BitrateKbps:   int((s.Audio.BitrateBps + s.Video.BitrateBps) / 1000),
		RoundTripMs:   s.Connection.RoundTripMs,
		PacketLossPct: maxPct(s.Audio.PacketLossPct, s.Video.PacketLossPct),
		JitterMs:      maxPct(s.Audio.JitterMs, s.Video.JitterMs),
	}
}

func maxPct(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// fail parks the machine in the terminal error state.
func (c *Controller) fail(err error) {
	c.log.Error().Err(err).Msg("Unrecoverable")
	c.mu.Lock()
	c.teardownCallLocked()
	c.toLocked(Errored)
	fn := c.onError
	c.mu.Unlock()
	c.emitState()
	if fn != nil {
		fn(err)
	}
}

// transition moves the machine and fires the state callback.
func (c *Controller) transition(to State) bool {
	c.mu.Lock()
	ok := c.toLocked(to)
	c.mu.Unlock()
	if ok {
		c.emitState()
	}
	return ok
}

func (c *Controller) toLocked(to State) bool {
	if c.state == to {
		return false
	}
	if !allowed(c.state, to) {
		c.log.Error().Msgf("Transition %v → %v rejected", c.state, to)
		return false
	}
	c.log.Info().Msgf("State %v → %v", c.state, to)
	c.state = to
	return true
}

func (c *Controller) emitState() {
	c.mu.Lock()
	fn := c.onState
	st := c.state
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
