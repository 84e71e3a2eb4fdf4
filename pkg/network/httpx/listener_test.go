package httpx

import (
	"net"
	"strconv"
	"strings"
	"testing"
)

func TestListenerCreation(t *testing.T) {
	tests := []struct {
		addr   string
		port   string
		random bool
		error  bool
	}{
		{addr: ":", random: true},
		{addr: ":0", random: true},
		{addr: "", random: true},
		{addr: "https://garbage.com:99a9a", error: true},
		{addr: "127.0.0.1:0", random: true},
		{addr: "localhost:abc1", error: true},
	}

	for _, test := range tests {
		ls, err := NewListener(test.addr, false)

		if test.error {
			if err == nil {
				t.Errorf("expected error, but got none")
			}
			continue
		}
		if err != nil {
			t.Errorf("unexpected error %v", err)
			continue
		}

		addr := ls.Addr().(*net.TCPAddr)
		port := ls.GetPort()

		if test.random && port <= 0 {
			t.Errorf("expected a random port, got %v", port)
		}
		if !test.random && !strings.HasSuffix(addr.String(), ":"+test.port) {
			t.Errorf("expected the same port %v != %v", test.port, port)
		}
		_ = ls.Close()
	}
}

func TestListenerPortRoll(t *testing.T) {
	a, err := NewListener("127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer a.Close()
	busy := "127.0.0.1:" + strconv.Itoa(a.GetPort())

	if _, err = NewListener(busy, false); err == nil {
		t.Errorf("expected busy port error, but got none")
	}
	b, err := NewListener(busy, true)
	if err != nil {
		t.Fatalf("expected no port error, but got %v", err)
	}
	if b.GetPort() == a.GetPort() {
		t.Errorf("expected a different port")
	}
	_ = b.Close()
}
