// Package api defines the wire API between the signaling server and call clients.
//
// Each API call (request and response) is a JSON-encoded "packet" of the following structure:
//
//	id - (optional) a globally unique packet id;
//	 t - (required) one of the predefined unique packet types;
//	 p - (optional) packet payload with arbitrary data.
//
// Packets differentiate by their predefined types with which it is possible
// to unwrap the payload into distinct request/response data structures.
// The id field is used for tracking request/response pairs through the wire.
//
// Example:
//
//	{"t":23,"p":{"partner_id":"cfv68irdrc3ifu3jn6bg","room_id":"cfv68j2drc3ifu3jn6c0","initiator":true}}
package api

import (
	"encoding/json"
	"fmt"

	"github.com/pairwise/pairwise/pkg/network"
)

type PT uint8

type In struct {
	Id      network.Uid     `json:"id,omitempty"`
	T       PT              `json:"t"`
	Payload json.RawMessage `json:"p,omitempty"` // should be json.RawMessage for 2-pass unmarshal
}

type Out struct {
	Id      network.Uid `json:"id,omitempty"`
	T       PT          `json:"t"`
	Payload any         `json:"p,omitempty"`
}

// Packet codes:
//
//	1xx - client to server
//	2xx - server to client
//	x - both directions
const (
	Heartbeat PT = 1
	Signal    PT = 2

	JoinQueue     PT = 101
	LeaveQueue    PT = 102
	QualityReport PT = 103
	ToggleMedia   PT = 104
	RequestStats  PT = 105

	Connected           PT = 201
	Waiting             PT = 202
	LeftQueue           PT = 203
	Matched             PT = 204
	PartnerQuality      PT = 205
	PartnerMediaToggle  PT = 206
	PartnerDisconnected PT = 207
	StatsResponse       PT = 208
	HeartbeatAck        PT = 209
	Error               PT = 210
)

func (p PT) String() string {
	switch p {
	case Heartbeat:
		return "Heartbeat"
	case Signal:
		return "Signal"
	case JoinQueue:
		return "JoinQueue"
	case LeaveQueue:
		return "LeaveQueue"
	case QualityReport:
		return "QualityReport"
	case ToggleMedia:
		return "ToggleMedia"
	case RequestStats:
		return "RequestStats"
	case Connected:
		return "Connected"
	case Waiting:
		return "Waiting"
	case LeftQueue:
		return "LeftQueue"
	case Matched:
		return "Matched"
	case PartnerQuality:
		return "PartnerQuality"
	case PartnerMediaToggle:
		return "PartnerMediaToggle"
	case PartnerDisconnected:
		return "PartnerDisconnected"
	case StatsResponse:
		return "StatsResponse"
	case HeartbeatAck:
		return "HeartbeatAck"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

var (
	ErrForbidden = fmt.Errorf("forbidden")
	ErrMalformed = fmt.Errorf("malformed")
)

func Unwrap[T any](data []byte) *T {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil
	}
	return out
}
