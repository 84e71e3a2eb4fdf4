package broker

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/grapeassist/assist/pkg/code"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/httpx"
)

const maxBodySize = 4 << 10

type (
	restResponse struct {
		Ok    bool   `json:"ok"`
		Code  string `json:"code,omitempty"`
		Error string `json:"error,omitempty"`
	}
	codeRequest struct {
		Code string `json:"code"`
	}
	healthResponse struct {
		Status           string `json:"status"`
		ActiveSessions   int    `json:"activeSessions"`
		TotalConnections int    `json:"totalConnections"`
		Timestamp        string `json:"timestamp"`
	}
	indexResponse struct {
		Message   string   `json:"message"`
		Version   string   `json:"version"`
		Endpoints []string `json:"endpoints"`
	}
)

var errMethod = errors.New("method not allowed")

// Rest serves the session lifecycle calls of the support backend
// and the introspection endpoints.
type Rest struct {
	registry *Registry
	gateway  *Gateway
	version  string
	now      func() time.Time
	log      *logger.Logger
}

func NewRest(registry *Registry, gateway *Gateway, version string, log *logger.Logger) *Rest {
	return &Rest{registry: registry, gateway: gateway, version: version, now: time.Now, log: log}
}

func (h *Rest) Register(mux *httpx.Mux) {
	mux.HandleFunc("/remote/create", h.create)
	mux.HandleFunc("/remote/connect", h.connect)
	mux.HandleFunc("/remote/close", h.close)
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/sessions", h.sessions)
}

func (h *Rest) create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.fail(w, http.StatusMethodNotAllowed, errMethod.Error())
		return
	}
	c, err := h.registry.Reserve()
	if err != nil {
		h.log.Error().Err(err).Msg("session reserve")
		h.fail(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	h.log.Info().Str("code", c.String()).Msg("session reserved")
	h.write(w, http.StatusOK, restResponse{Ok: true, Code: c.String()})
}

func (h *Rest) connect(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readCode(w, r)
	if !ok {
		return
	}
	if !h.registry.Exists(c) {
		h.fail(w, http.StatusNotFound, ErrNoSession.Error())
		return
	}
	h.write(w, http.StatusOK, restResponse{Ok: true, Code: c.String()})
}

func (h *Rest) close(w http.ResponseWriter, r *http.Request) {
	c, ok := h.readCode(w, r)
	if !ok {
		return
	}
	if !h.registry.Close(c) {
		h.fail(w, http.StatusNotFound, ErrNoSession.Error())
		return
	}
	h.log.Info().Str("code", c.String()).Msg("session closed")
	h.write(w, http.StatusOK, restResponse{Ok: true, Code: c.String()})
}

func (h *Rest) health(w http.ResponseWriter, _ *http.Request) {
	stats := h.registry.Stats()
	h.write(w, http.StatusOK, healthResponse{
		Status:           "ok",
		ActiveSessions:   stats.Sessions,
		TotalConnections: h.gateway.Connections(),
		Timestamp:        h.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (h *Rest) sessions(w http.ResponseWriter, _ *http.Request) {
	list := h.registry.List()
	out := make(map[string]SessionInfo, len(list))
	for _, s := range list {
		out[s.Code.String()] = s
	}
	h.write(w, http.StatusOK, out)
}

// Index describes the service at the root path.
func (h *Rest) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.write(w, http.StatusOK, indexResponse{
		Message:   "signaling server is running",
		Version:   h.version,
		Endpoints: []string{"/health", "/sessions", "/remote/create", "/remote/connect", "/remote/close"},
	})
}

func (h *Rest) readCode(w http.ResponseWriter, r *http.Request) (code.Code, bool) {
	if r.Method != http.MethodPost {
		h.fail(w, http.StatusMethodNotAllowed, errMethod.Error())
		return "", false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.fail(w, http.StatusRequestEntityTooLarge, err.Error())
		return "", false
	}
	var rq codeRequest
	if err := json.Unmarshal(body, &rq); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	c, err := code.Parse(rq.Code)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return c, true
}

func (h *Rest) fail(w http.ResponseWriter, status int, message string) {
	h.write(w, status, restResponse{Error: message})
}

func (h *Rest) write(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// cors allows cross-origin calls from the listed origins,
// all origins when there are none.
func cors(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			_, ok := allowed[origin]
			if len(allowed) == 0 || ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
