package filter

import (
	"net"
	"testing"
)

func TestAllowAllAllowed(t *testing.T) {
	t.Parallel()
	if AllowAll.Action(net.IPv4(1, 2, 3, 4)) != Allow {
		t.Error("should be allowed")
	}
}

func TestStaticNetRule(t *testing.T) {
	t.Parallel()
	t.Run("OK", func(t *testing.T) {
		rule, err := StaticNetRule(Allow, "127.0.0.1/32")
		if err != nil {
			t.Fatal(err)
		}
		cases := []struct {
			IP     net.IP
			Action Action
		}{
			{net.IPv4(127, 0, 0, 1), Allow},
			{net.IPv4(127, 0, 0, 2), Pass},
		}
		for _, tc := range cases {
			if rule.Action(tc.IP) != tc.Action {
				t.Errorf("%s: got %v, want %v", tc.IP, rule.Action(tc.IP), tc.Action)
			}
		}
	})
	t.Run("ParseError", func(t *testing.T) {
		if _, err := StaticNetRule(Allow, "bad"); err == nil {
			t.Error("should error")
		}
	})
}

func TestAllowNet(t *testing.T) {
	t.Parallel()
	rule, err := AllowNet("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		IP     net.IP
		Action Action
	}{
		{net.IPv4(192, 168, 0, 1), Allow},
		{net.IPv4(127, 0, 0, 2), Pass},
	}
	for _, tc := range cases {
		if rule.Action(tc.IP) != tc.Action {
			t.Errorf("%s: got %v, want %v", tc.IP, rule.Action(tc.IP), tc.Action)
		}
	}
}

func TestForbidNet(t *testing.T) {
	t.Parallel()
	rule, err := ForbidNet("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		IP     net.IP
		Action Action
	}{
		{net.IPv4(192, 168, 0, 1), Deny},
		{net.IPv4(127, 0, 0, 2), Pass},
	}
	for _, tc := range cases {
		if rule.Action(tc.IP) != tc.Action {
			t.Errorf("%s: got %v, want %v", tc.IP, rule.Action(tc.IP), tc.Action)
		}
	}
}

func TestListAction(t *testing.T) {
	t.Parallel()
	allowLoopback, err := AllowNet("127.0.0.1/32")
	if err != nil {
		t.Fatal(err)
	}
	forbidNet, err := ForbidNet("192.168.0.0/24")
	if err != nil {
		t.Fatal(err)
	}

	list := NewFilter(Deny, allowLoopback, forbidNet)
	cases := []struct {
		IP     net.IP
		Action Action
	}{
		{net.IPv4(192, 120, 0, 1), Deny},
		{net.IPv4(192, 168, 0, 1), Deny},
		{net.IPv4(127, 0, 0, 1), Allow},
	}
	for _, tc := range cases {
		if list.Action(tc.IP) != tc.Action {
			t.Errorf("%s: got %v, want %v", tc.IP, list.Action(tc.IP), tc.Action)
		}
	}

	list = NewFilter(Allow, forbidNet)
	cases = []struct {
		IP     net.IP
		Action Action
	}{
		{net.IPv4(192, 120, 0, 1), Allow},
		{net.IPv4(192, 168, 0, 1), Deny},
		{net.IPv4(127, 0, 0, 1), Allow},
	}
	for _, tc := range cases {
		if list.Action(tc.IP) != tc.Action {
			t.Errorf("%s: got %v, want %v", tc.IP, list.Action(tc.IP), tc.Action)
		}
	}
}
