package ice

import (
	"net"
	"strings"
	"time"

	"github.com/pairwise/pairwise/pkg/config/webrtc"
	"github.com/pairwise/pairwise/pkg/logger"
	"github.com/pion/stun"
)

const probeTimeout = 3 * time.Second

// Probe checks the reachability of the configured ICE servers and
// returns the subset that answered. TURN entries are passed through
// unprobed since a binding check needs credentials.
func Probe(servers []webrtc.IceServer, log *logger.Logger) []webrtc.IceServer {
	out := make([]webrtc.IceServer, 0, len(servers))
	for _, s := range servers {
		if !strings.HasPrefix(s.Urls, "stun:") {
			out = append(out, s)
			continue
		}
		if err := check(strings.TrimPrefix(s.Urls, "stun:")); err != nil {
			log.Warn().Err(err).Msgf("ICE server %v is unreachable, skipped", s.Urls)
			continue
		}
		out = append(out, s)
	}
	return out
}

func check(address string) error {
	conn, err := net.DialTimeout("udp4", address, probeTimeout)
	if err != nil {
		return err
	}
	c, err := stun.NewClient(conn, stun.WithRTO(probeTimeout))
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() { _ = c.Close() }()
	m := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	var res error
	if err = c.Do(m, func(e stun.Event) { res = e.Error }); err != nil {
		return err
	}
	return res
}
