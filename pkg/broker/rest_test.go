package broker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/grapeassist/assist/pkg/api"
)

func post(t *testing.T, url, body string) (int, restResponse) {
	t.Helper()
	rs, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rs.Body.Close() }()
	var out restResponse
	if err := json.NewDecoder(rs.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, out
}

func get(t *testing.T, url string, v any) {
	t.Helper()
	rs, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rs.Body.Close() }()
	if rs.StatusCode != http.StatusOK {
		t.Fatalf("%v: status %v", url, rs.StatusCode)
	}
	if err := json.NewDecoder(rs.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestRestLifecycle(t *testing.T) {
	tb := newTestBroker(t)

	status, rs := post(t, tb.URL+"/remote/create", "")
	if status != http.StatusOK || !rs.Ok || rs.Code == "" {
		t.Fatalf("create: %v %+v", status, rs)
	}
	code := rs.Code

	status, rs = post(t, tb.URL+"/remote/connect", `{"code":"`+strings.ReplaceAll(code, "-", "")+`"}`)
	if status != http.StatusOK || !rs.Ok || rs.Code != code {
		t.Errorf("connect: %v %+v", status, rs)
	}

	agent := tb.dial(t)
	agent.join(code, api.Agent)

	status, rs = post(t, tb.URL+"/remote/close", `{"code":"`+code+`"}`)
	if status != http.StatusOK || !rs.Ok {
		t.Errorf("close: %v %+v", status, rs)
	}
	agent.expect(api.SessionClosed)

	status, rs = post(t, tb.URL+"/remote/connect", `{"code":"`+code+`"}`)
	if status != http.StatusNotFound || rs.Ok || rs.Error == "" {
		t.Errorf("connect to closed: %v %+v", status, rs)
	}
}

func TestRestErrors(t *testing.T) {
	tb := newTestBroker(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "bad json", path: "/remote/connect", body: `{"code":`, status: http.StatusBadRequest},
		{name: "bad code", path: "/remote/connect", body: `{"code":"12"}`, status: http.StatusBadRequest},
		{name: "no code", path: "/remote/close", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown", path: "/remote/close", body: `{"code":"999-999-999"}`, status: http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			status, rs := post(t, tb.URL+test.path, test.body)
			if status != test.status || rs.Ok || rs.Error == "" {
				t.Errorf("got %v %+v", status, rs)
			}
		})
	}

	rs, err := http.Get(tb.URL + "/remote/create")
	if err != nil {
		t.Fatal(err)
	}
	_ = rs.Body.Close()
	if rs.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET create: %v", rs.StatusCode)
	}
}

func TestIntrospection(t *testing.T) {
	tb := newTestBroker(t)
	agent, idle := tb.dial(t), tb.dial(t)
	agent.join("785-234-991", api.Agent)
	_ = idle

	var health healthResponse
	get(t, tb.URL+"/health", &health)
	if health.Status != "ok" || health.ActiveSessions != 1 || health.TotalConnections != 2 || health.Timestamp == "" {
		t.Errorf("unexpected health %+v", health)
	}

	var sessions map[string]SessionInfo
	get(t, tb.URL+"/sessions", &sessions)
	s, ok := sessions["785-234-991"]
	if !ok || !s.Agent || s.Technician || s.CreatedAt == 0 {
		t.Errorf("unexpected sessions %+v", sessions)
	}

	var index indexResponse
	get(t, tb.URL+"/", &index)
	if index.Version != "test" || len(index.Endpoints) == 0 {
		t.Errorf("unexpected index %+v", index)
	}
}

func TestCors(t *testing.T) {
	h := cors([]string{"https://support.example.com"}, http.NotFoundHandler())

	tests := []struct {
		origin string
		allow  string
	}{
		{origin: "https://support.example.com", allow: "https://support.example.com"},
		{origin: "https://evil.example.com", allow: ""},
	}
	for _, test := range tests {
		rq, _ := http.NewRequest(http.MethodOptions, "/remote/connect", nil)
		rq.Header.Set("Origin", test.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, rq)
		if w.Code != http.StatusNoContent {
			t.Errorf("%v: preflight status %v", test.origin, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != test.allow {
			t.Errorf("%v: allow origin %q", test.origin, got)
		}
	}
}
