package broker

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"
	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/websocket"
)

const readWait = 2 * time.Second

type testBroker struct {
	*httptest.Server
	registry *Registry
	gateway  *Gateway
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	log := logger.Nop()
	reg := NewRegistry(log)
	g := NewGateway(reg, nil, websocket.Options{}, log)
	b := &Broker{registry: reg, gateway: g, log: log}
	srv := httptest.NewServer(cors(nil, b.routes(NewRest(reg, g, "test", log))))
	t.Cleanup(srv.Close)
	return &testBroker{Server: srv, registry: reg, gateway: g}
}

type party struct {
	t    *testing.T
	conn *gws.Conn
}

// dial connects to the gateway and consumes the welcome message.
func (tb *testBroker) dial(t *testing.T) *party {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tb.URL, "http") + "/"
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	p := &party{t: t, conn: conn}
	p.expect(api.Welcome)
	return p
}

func (p *party) send(message string) {
	p.t.Helper()
	if err := p.conn.WriteMessage(gws.TextMessage, []byte(message)); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *party) read() []byte {
	p.t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	return data
}

// expect reads the next message and checks its type.
func (p *party) expect(t api.Type) []byte {
	p.t.Helper()
	data := p.read()
	m, err := api.Decode(data)
	if err != nil {
		p.t.Fatalf("bad message %s: %v", data, err)
	}
	if m.Type != t {
		p.t.Fatalf("expected %v, got %s", t, data)
	}
	return data
}

func (p *party) expectError(text string) {
	p.t.Helper()
	var n api.Notice
	if err := json.Unmarshal(p.expect(api.Error), &n); err != nil {
		p.t.Fatal(err)
	}
	if n.Message != text {
		p.t.Errorf("expected error %q, got %q", text, n.Message)
	}
}

func (p *party) join(code string, role api.Role) {
	p.t.Helper()
	p.send(fmt.Sprintf(`{"type":"join","code":%q,"role":%q}`, code, role))
	var rs api.JoinedResponse
	if err := json.Unmarshal(p.expect(api.Joined), &rs); err != nil {
		p.t.Fatal(err)
	}
	if !rs.Success || rs.Role != role {
		p.t.Fatalf("unexpected joined %+v", rs)
	}
}

func (p *party) expectPeer(t api.Type, role api.Role) {
	p.t.Helper()
	var ev api.PeerEvent
	if err := json.Unmarshal(p.expect(t), &ev); err != nil {
		p.t.Fatal(err)
	}
	if ev.Role != role {
		p.t.Errorf("expected %v of %v, got %v", t, role, ev.Role)
	}
}

// expectRelay checks that the message arrived with its original bytes.
func (p *party) expectRelay(sent string, from api.Role) {
	p.t.Helper()
	data := p.read()
	prefix := strings.TrimSuffix(sent, "}")
	if !bytes.HasPrefix(data, []byte(prefix)) {
		p.t.Fatalf("relayed message changed:\n sent: %s\n  got: %s", sent, data)
	}
	var n api.Negotiation
	if err := json.Unmarshal(data, &n); err != nil {
		p.t.Fatal(err)
	}
	if n.From != from || n.Timestamp == 0 {
		p.t.Errorf("bad stamp from=%v ts=%v", n.From, n.Timestamp)
	}
}

func TestGatewaySession(t *testing.T) {
	tb := newTestBroker(t)
	agent, tech := tb.dial(t), tb.dial(t)

	agent.join("785-234-991", api.Agent)
	tech.join("785 234 991", api.Technician)
	tech.expectPeer(api.PeerJoined, api.Agent)
	agent.expectPeer(api.PeerJoined, api.Technician)

	offer := `{"type":"offer","code":"785-234-991","offer":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\n"}}`
	tech.send(offer)
	agent.expectRelay(offer, api.Technician)

	answer := `{"type":"answer","code":"785-234-991","answer":{"type":"answer","sdp":"v=0\r\n"}}`
	agent.send(answer)
	tech.expectRelay(answer, api.Agent)

	for i := 0; i < 3; i++ {
		c1 := fmt.Sprintf(`{"type":"ice-candidate","candidate":{"candidate":"candidate:%d 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`, i)
		c2 := fmt.Sprintf(`{"type":"ice-candidate","candidate":{"candidate":"candidate:%d 1 udp 1 10.0.0.2 6000 typ host","sdpMid":"0"}}`, i)
		tech.send(c1)
		agent.send(c2)
		agent.expectRelay(c1, api.Technician)
		tech.expectRelay(c2, api.Agent)
	}

	_ = tech.conn.Close()
	agent.expectPeer(api.PeerDisconnected, api.Technician)

	agent.send(offer)
	agent.expectError("technician not connected")
}

func TestGatewayProtocolErrors(t *testing.T) {
	tb := newTestBroker(t)
	p := tb.dial(t)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "not joined", in: `{"type":"offer","offer":{}}`, want: "not joined"},
		{name: "pong before join", in: `{"type":"pong"}`, want: "not joined"},
		{name: "server message", in: `{"type":"joined"}`, want: "not joined"},
		{name: "unknown type", in: `{"type":"teleport"}`, want: `unknown message type: "teleport"`},
		{name: "no type", in: `{"code":"785-234-991"}`, want: "message type required"},
		{name: "malformed", in: `{"type":`, want: "invalid JSON"},
		{name: "no role", in: `{"type":"join","code":"785-234-991"}`, want: "code and role required"},
		{name: "bad role", in: `{"type":"join","code":"785-234-991","role":"admin"}`, want: "role must be agent or technician"},
		{name: "bad code", in: `{"type":"join","code":"78-23","role":"agent"}`, want: "invalid session code"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p.t = t
			p.send(test.in)
			p.expectError(test.want)
		})
	}

	p.t = t
	p.send(`{"type":"ping"}`)
	p.expect(api.Pong)
	if s := tb.registry.Stats(); s.Sessions != 0 {
		t.Errorf("failed joins must not create sessions, got %v", s.Sessions)
	}
}

func TestGatewaySessionIsolation(t *testing.T) {
	tb := newTestBroker(t)
	a1, t1 := tb.dial(t), tb.dial(t)
	a2, t2 := tb.dial(t), tb.dial(t)

	a1.join("111-111-111", api.Agent)
	t1.join("111-111-111", api.Technician)
	a2.join("222-222-222", api.Agent)
	t2.join("222-222-222", api.Technician)
	t1.expectPeer(api.PeerJoined, api.Agent)
	a1.expectPeer(api.PeerJoined, api.Technician)
	t2.expectPeer(api.PeerJoined, api.Agent)
	a2.expectPeer(api.PeerJoined, api.Technician)

	offer := `{"type":"offer","offer":{"sdp":"one"}}`
	t1.send(offer)
	a1.expectRelay(offer, api.Technician)

	// nothing from the first session is queued before the pong
	a2.send(`{"type":"ping"}`)
	a2.expect(api.Pong)
	t2.send(`{"type":"ping"}`)
	t2.expect(api.Pong)
}

func TestGatewayRelayManySessions(t *testing.T) {
	tb := newTestBroker(t)
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		agent, tech := tb.dial(t), tb.dial(t)
		code := fmt.Sprintf("%03d-%03d-%03d", i, i, i)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent.join(code, api.Agent)
			tech.join(code, api.Technician)
			tech.expectPeer(api.PeerJoined, api.Agent)
			agent.expectPeer(api.PeerJoined, api.Technician)
			for k := 0; k < 5; k++ {
				msg := fmt.Sprintf(`{"type":"ice-candidate","candidate":{"candidate":"s%d-%d"}}`, i, k)
				tech.send(msg)
				agent.expectRelay(msg, api.Technician)
			}
		}(i)
	}
	wg.Wait()

	if s := tb.registry.Stats(); s.Sessions != n || s.Connections != 2*n {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestGatewaySupersede(t *testing.T) {
	tb := newTestBroker(t)
	old, tech := tb.dial(t), tb.dial(t)
	old.join("785-234-991", api.Agent)
	tech.join("785-234-991", api.Technician)
	tech.expectPeer(api.PeerJoined, api.Agent)
	old.expectPeer(api.PeerJoined, api.Technician)

	fresh := tb.dial(t)
	fresh.join("785-234-991", api.Agent)
	fresh.expectPeer(api.PeerJoined, api.Technician)

	old.expect(api.Superseded)
	_ = old.conn.SetReadDeadline(time.Now().Add(readWait))
	_, _, err := old.conn.ReadMessage()
	if !gws.IsCloseError(err, CloseSuperseded) {
		t.Errorf("expected close %v, got %v", CloseSuperseded, err)
	}

	tech.expectPeer(api.PeerDisconnected, api.Agent)
	tech.expectPeer(api.PeerJoined, api.Agent)

	offer := `{"type":"offer","offer":{"sdp":"again"}}`
	tech.send(offer)
	fresh.expectRelay(offer, api.Technician)
}

func TestGatewayLiveness(t *testing.T) {
	tb := newTestBroker(t)

	silent := tb.dial(t)
	responsive := tb.dial(t)
	go func() {
		// reading makes gorilla answer the pings
		for {
			if _, _, err := responsive.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	_ = silent

	if n := tb.gateway.sweepLiveness(); n != 0 {
		t.Fatalf("fresh connections are alive, dropped %v", n)
	}

	deadline := time.Now().Add(readWait)
	for {
		alive := 0
		for _, c := range tb.gateway.clients.Values() {
			if c.alive.Load() {
				alive++
			}
		}
		if alive == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no pong from the responsive client")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := tb.gateway.sweepLiveness(); n != 1 {
		t.Errorf("expected the silent client dropped, got %v", n)
	}

	deadline = time.Now().Add(readWait)
	for tb.gateway.Connections() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 connection, got %v", tb.gateway.Connections())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
