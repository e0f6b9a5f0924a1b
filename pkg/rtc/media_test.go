package rtc

import "testing"

func TestSyntheticSourceRestarts(t *testing.T) {
	s, err := NewSyntheticSource(0)
	if err != nil {
		t.Fatal(err)
	}

	s.Start()
	s.mu.Lock()
	first := s.done
	s.mu.Unlock()

	s.Stop()
	select {
	case <-first:
	default:
		t.Fatal("stop must release the pumps")
	}

	// a source is shared across calls, so it has to come back up
	s.Start()
	s.mu.Lock()
	running, second := s.running, s.done
	s.mu.Unlock()
	if !running {
		t.Fatal("source did not restart")
	}
	if second == first {
		t.Fatal("restart must arm a fresh stop channel")
	}
	select {
	case <-second:
		t.Fatal("fresh stop channel is already closed")
	default:
	}

	s.Stop()
	s.Stop() // repeated stop is a no-op
}

func TestSyntheticSourceCeilingCapsRate(t *testing.T) {
	s, err := NewSyntheticSource(1_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.rate(); got != 1_000_000 {
		t.Fatalf("uncapped rate must be the target: %d", got)
	}
	s.SetBitrateCeiling(300_000)
	if got := s.rate(); got != 300_000 {
		t.Fatalf("ceiling must cap the rate: %d", got)
	}
	s.SetBitrateCeiling(0)
	if got := s.rate(); got != 1_000_000 {
		t.Fatalf("zero ceiling must lift the cap: %d", got)
	}
}
