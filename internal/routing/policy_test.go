package routing

import "testing"

func TestDefaultPolicy_AllowsMatchesSpecDefaults(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		from, to Kind
		want     bool
	}{
		{KindUART, KindUART, false},
		{KindTCP, KindTCP, true},
		{KindUART, KindTCP, true},
		{KindTCP, KindUART, true},
	}
	for _, c := range cases {
		if got := p.Allows(c.from, c.to); got != c.want {
			t.Errorf("Allows(%v, %v) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPolicy_AllowsHonorsEachFlagIndependently(t *testing.T) {
	p := Policy{UARTToUART: true, TCPToTCP: false, UARTToTCP: false, TCPToUART: false}
	if !p.Allows(KindUART, KindUART) {
		t.Errorf("expected uart->uart allowed")
	}
	if p.Allows(KindTCP, KindTCP) {
		t.Errorf("expected tcp->tcp disallowed")
	}
	if p.Allows(KindUART, KindTCP) {
		t.Errorf("expected uart->tcp disallowed")
	}
	if p.Allows(KindTCP, KindUART) {
		t.Errorf("expected tcp->uart disallowed")
	}
}

func TestKind_String(t *testing.T) {
	if KindTCP.String() != "tcp" {
		t.Errorf("expected tcp, got %s", KindTCP.String())
	}
	if KindUART.String() != "uart" {
		t.Errorf("expected uart, got %s", KindUART.String())
	}
}
