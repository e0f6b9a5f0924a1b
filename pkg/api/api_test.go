package api

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/pairwise/pairwise/pkg/network"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	out := Out{
		Id:      network.Uid("call-1"),
		T:       Matched,
		Payload: MatchedNotice{PartnerId: "p", RoomId: "r", Initiator: true},
	}
	raw, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}

	var in In
	if err := json.Unmarshal(raw, &in); err != nil {
		t.Fatal(err)
	}
	if in.Id != out.Id || in.T != Matched {
		t.Fatalf("envelope mangled: %+v", in)
	}
	m := Unwrap[MatchedNotice](in.Payload)
	if m == nil || m.PartnerId != "p" || !m.Initiator {
		t.Fatalf("payload mangled: %+v", m)
	}
}

func TestUnwrapRejectsGarbage(t *testing.T) {
	if got := Unwrap[MatchedNotice]([]byte(`{"partner_id":42}`)); got != nil {
		t.Fatalf("want nil on type mismatch, got %+v", got)
	}
	if got := Unwrap[MatchedNotice]([]byte(`not json`)); got != nil {
		t.Fatalf("want nil on junk, got %+v", got)
	}
}

func TestPacketTypeNames(t *testing.T) {
	known := []PT{
		Heartbeat, Signal, JoinQueue, LeaveQueue, QualityReport, ToggleMedia,
		RequestStats, Connected, Waiting, LeftQueue, Matched, PartnerQuality,
		PartnerMediaToggle, PartnerDisconnected, StatsResponse, HeartbeatAck, Error,
	}
	for _, pt := range known {
		if pt.String() == "Unknown" {
			t.Errorf("packet type %d has no name", pt)
		}
	}
	if PT(255).String() == "" {
		t.Error("unnamed types still need a printable form")
	}
}
