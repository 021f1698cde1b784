package remote

import "testing"

func TestReconnectPolicyDelayBacksOffAndCaps(t *testing.T) {
	p := ReconnectPolicy{InitialDelayMs: 100, ReconnectBackoffMultiplier: 2, MaxReconnectDelayMs: 1000}

	cases := []struct {
		attempt  int
		wantMs   int64
	}{
		{0, 100},
		{1, 200},
		{2, 400},
		{3, 800},
		{4, 1000}, // capped
		{10, 1000},
	}
	for _, tc := range cases {
		got := p.Delay(tc.attempt).Milliseconds()
		if got != tc.wantMs {
			t.Fatalf("Delay(%d) = %dms, want %dms", tc.attempt, got, tc.wantMs)
		}
	}
}

func TestReconnectPolicyZeroInitialDelayMeansImmediate(t *testing.T) {
	p := ReconnectPolicy{}
	if d := p.Delay(0); d != 0 {
		t.Fatalf("expected zero delay when InitialDelayMs is unset, got %v", d)
	}
}

func TestErrorKindReconnect(t *testing.T) {
	if !ErrorNetwork.Reconnect() {
		t.Fatalf("expected ErrorNetwork to be reconnectable")
	}
	if !ErrorProtocol.Reconnect() {
		t.Fatalf("expected ErrorProtocol to be reconnectable")
	}
	if ErrorFatal.Reconnect() {
		t.Fatalf("expected ErrorFatal to stop reconnection")
	}
}
