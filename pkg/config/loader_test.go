package config

import (
	"os"
	"testing"
	"time"
)

func TestBrokerDefaults(t *testing.T) {
	var out BrokerConfig
	if err := LoadConfig(&out, ""); err != nil {
		t.Fatal(err)
	}
	if out.Broker.Session.TTL != time.Hour {
		t.Errorf("expected 1h ttl, got %v", out.Broker.Session.TTL)
	}
	if out.Broker.Session.ReapInterval != time.Minute {
		t.Errorf("expected 60s reap interval, got %v", out.Broker.Session.ReapInterval)
	}
	if out.Broker.Liveness.Interval != 30*time.Second {
		t.Errorf("expected 30s ping interval, got %v", out.Broker.Liveness.Interval)
	}
	if out.Broker.Server.Address != ":3001" {
		t.Errorf("unexpected address %v", out.Broker.Server.Address)
	}
}

func TestConfigEnv(t *testing.T) {
	var out BrokerConfig

	_ = os.Setenv("ASSIST_BROKER_SESSION_TTL", "5m")
	defer func() { _ = os.Unsetenv("ASSIST_BROKER_SESSION_TTL") }()

	if err := LoadConfig(&out, ""); err != nil {
		t.Fatal(err)
	}
	if out.Broker.Session.TTL != 5*time.Minute {
		t.Errorf("%v is not 5m", out.Broker.Session.TTL)
	}
}

func TestPeerDefaults(t *testing.T) {
	var out PeerConfig
	if err := LoadConfig(&out, ""); err != nil {
		t.Fatal(err)
	}
	if out.Peer.Role != "technician" {
		t.Errorf("unexpected role %v", out.Peer.Role)
	}
	if out.Peer.Resolution.Width != 1920 || out.Peer.Resolution.Height != 1080 {
		t.Errorf("unexpected resolution %+v", out.Peer.Resolution)
	}
	if len(out.Webrtc.IceServers) == 0 {
		t.Errorf("expected some ICE servers")
	}
}

func TestIceServerIsTurn(t *testing.T) {
	tests := []struct {
		urls string
		turn bool
	}{
		{urls: "stun:stun.l.google.com:19302"},
		{urls: "turn:example.com:3478", turn: true},
		{urls: "turns:example.com:5349", turn: true},
	}
	for _, test := range tests {
		if (IceServer{Urls: test.urls}).IsTurn() != test.turn {
			t.Errorf("%v: expected turn=%v", test.urls, test.turn)
		}
	}
}
