package api

import (
	"encoding/json"

	"github.com/pairwise/pairwise/pkg/network"
)

// Preferences are accepted on queue join and kept with the queue entry.
// Matching is strict FIFO and does not filter on them yet; they exist so
// that a future policy can be added without a wire change.
type Preferences struct {
	Region   string `json:"region,omitempty"`
	Language string `json:"language,omitempty"`
}

type (
	JoinQueueRequest struct {
		Preferences Preferences `json:"preferences,omitempty"`
	}
	SignalRequest struct {
		To     network.Uid     `json:"to"`
		Signal json.RawMessage `json:"signal"`
	}
	QualityReportRequest struct {
		Stats QualitySummary `json:"stats"`
	}
	ToggleMediaRequest struct {
		Type    string `json:"type"` // "audio" | "video"
		Enabled bool   `json:"enabled"`
	}
)

type (
	ConnectedNotice struct {
		ClientId  network.Uid `json:"client_id"`
		Timestamp int64       `json:"timestamp"`
	}
	WaitingNotice struct {
		Position  int   `json:"position"` // 1-based
		Timestamp int64 `json:"timestamp"`
	}
	MatchedNotice struct {
		PartnerId network.Uid `json:"partner_id"`
		RoomId    network.Uid `json:"room_id"`
		Initiator bool        `json:"initiator"`
		Timestamp int64       `json:"timestamp"`
	}
	SignalNotice struct {
		From   network.Uid     `json:"from"`
		Signal json.RawMessage `json:"signal"`
	}
	PartnerQualityNotice struct {
		From  network.Uid    `json:"from"`
		Stats QualitySummary `json:"stats"`
	}
	PartnerMediaToggleNotice struct {
		From    network.Uid `json:"from"`
		Type    string      `json:"type"`
		Enabled bool        `json:"enabled"`
	}
	PartnerDisconnectedNotice struct {
		PartnerId network.Uid `json:"partner_id"`
		Timestamp int64       `json:"timestamp"`
	}
	StatsResponseNotice struct {
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Waiting     int    `json:"waiting"`
		Messages    uint64 `json:"messages"`
		UptimeSec   int64  `json:"uptime_sec"`
		Timestamp   int64  `json:"timestamp"`
	}
	HeartbeatAckNotice struct {
		Timestamp int64 `json:"timestamp"`
	}
	ErrorNotice struct {
		Message string `json:"message"`
	}
)

// QualitySummary is the condensed link report a client shares with its
// partner. Display only, it never feeds the partner's control decisions.
type QualitySummary struct {
	Level         string  `json:"level"`
	BitrateKbps   int     `json:"bitrate_kbps"`
	RoundTripMs   float64 `json:"rtt_ms"`
	PacketLossPct float64 `json:"packet_loss_pct"`
	JitterMs      float64 `json:"jitter_ms"`
}
