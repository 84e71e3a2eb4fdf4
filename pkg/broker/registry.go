package broker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/grapeassist/assist/pkg/api"
	"github.com/grapeassist/assist/pkg/code"
	"github.com/grapeassist/assist/pkg/com"
	"github.com/grapeassist/assist/pkg/logger"
	"github.com/grapeassist/assist/pkg/network/websocket"
)

// CloseSuperseded is the websocket close code for a connection
// that lost its role slot to a newer one.
const CloseSuperseded = 4001

const reserveAttempts = 16

var (
	ErrNotJoined       = errors.New("not joined")
	ErrPeerAbsent      = errors.New("not connected")
	ErrNoSession       = errors.New("session not found")
	ErrCodesExhausted  = errors.New("could not find a free session code")
	errNotNegotiation  = errors.New("not a negotiation message")
	errEmptyConnection = errors.New("nil connection")
)

// Conn is a party connection as seen by the registry.
// Implementations must not block in Send or Close.
type Conn interface {
	Id() com.Uid
	Send(data []byte) error
	Close(code int, reason string)
	IsOpen() bool
}

// Session is a single pairing slot for one agent and one technician.
type Session struct {
	Code       code.Code
	CreatedAt  time.Time
	agent      Conn
	technician Conn
}

func (s *Session) slot(role api.Role) *Conn {
	if role == api.Agent {
		return &s.agent
	}
	return &s.technician
}

func (s *Session) empty() bool { return s.agent == nil && s.technician == nil }

// SessionInfo is a snapshot of a session for the introspection endpoints.
type SessionInfo struct {
	Code       code.Code `json:"-"`
	CreatedAt  int64     `json:"createdAt"`
	Agent      bool      `json:"agent"`
	Technician bool      `json:"technician"`
}

type Stats struct {
	Sessions    int
	Connections int
}

// AttachResult describes the session right after a successful attach.
type AttachResult struct {
	Code        code.Code
	Role        api.Role
	PeerPresent bool
	Peer        Conn
	Superseded  Conn
}

type member struct {
	code code.Code
	role api.Role
}

// Registry keeps all the sessions and which connection sits in which slot.
// Every state change happens under the single lock and the notifications
// caused by the change are queued to the connections before it's released,
// so each party sees the events in the order they happened.
type Registry struct {
	mu       sync.Mutex
	sessions map[code.Code]*Session
	members  map[com.Uid]member

	now func() time.Time
	log *logger.Logger
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		sessions: make(map[code.Code]*Session),
		members:  make(map[com.Uid]member),
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the time source, used for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry { r.now = now; return r }

// CreateOrGet returns the session with the code, a new one if there is none.
func (r *Registry) CreateOrGet(c code.Code) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createOrGet(c)
}

func (r *Registry) createOrGet(c code.Code) *Session {
	if s, ok := r.sessions[c]; ok {
		return s
	}
	s := &Session{Code: c, CreatedAt: r.now()}
	r.sessions[c] = s
	sessionsGauge.Inc()
	r.log.Debug().Str("code", c.String()).Msg("session created")
	return s
}

// Reserve makes a new empty session with a random code.
func (r *Registry) Reserve() (code.Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < reserveAttempts; i++ {
		c, err := code.Generate()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[c]; taken {
			continue
		}
		r.createOrGet(c)
		return c, nil
	}
	return "", ErrCodesExhausted
}

func (r *Registry) Exists(c code.Code) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[c]
	return ok
}

// Attach puts the connection into the role slot of the session.
// The session is created when needed. A connection already sitting in the
// slot is superseded, it gets notified and closed. The new connection gets
// joined and, if the other party is there and still open, both get
// peer-joined. A closed peer that has not been detached yet counts as absent.
func (r *Registry) Attach(c code.Code, role api.Role, conn Conn) (AttachResult, error) {
	if conn == nil {
		return AttachResult{}, errEmptyConnection
	}
	if _, err := api.ParseRole(string(role)); err != nil {
		return AttachResult{}, err
	}
	if c.IsEmpty() {
		return AttachResult{}, code.ErrInvalidCode
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.Id()
	if m, ok := r.members[id]; ok {
		if m.code == c && m.role == role {
			s := r.sessions[c]
			res := AttachResult{Code: c, Role: role}
			if peer := *s.slot(role.Other()); peer != nil && peer.IsOpen() {
				res.PeerPresent, res.Peer = true, peer
			}
			_ = conn.Send(api.JoinedPacket(c.String(), role))
			return res, nil
		}
		r.detach(id, m)
	}

	s := r.createOrGet(c)
	slot := s.slot(role)
	peer := *s.slot(role.Other())
	if peer != nil && !peer.IsOpen() {
		peer = nil
	}

	res := AttachResult{Code: c, Role: role}
	if old := *slot; old != nil {
		delete(r.members, old.Id())
		_ = old.Send(api.SupersededPacket())
		old.Close(CloseSuperseded, "superseded")
		supersededTotal.Inc()
		res.Superseded = old
		if peer != nil {
			_ = peer.Send(api.PeerDisconnectedPacket(role))
		}
		r.log.Info().Str("code", c.String()).Str("role", role.String()).Msg("connection superseded")
	}
	*slot = conn
	r.members[id] = member{code: c, role: role}

	_ = conn.Send(api.JoinedPacket(c.String(), role))
	if peer != nil {
		res.PeerPresent, res.Peer = true, peer
		_ = conn.Send(api.PeerJoinedPacket(role.Other()))
		_ = peer.Send(api.PeerJoinedPacket(role))
	}
	return res, nil
}

// Detach removes the connection from its slot.
// The other party, if any, is notified, an empty session is removed.
// Calling it more than once or for never attached connections is fine.
func (r *Registry) Detach(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[conn.Id()]
	if !ok {
		return false
	}
	r.detach(conn.Id(), m)
	return true
}

func (r *Registry) detach(id com.Uid, m member) {
	delete(r.members, id)
	s, ok := r.sessions[m.code]
	if !ok {
		return
	}
	slot := s.slot(m.role)
	if *slot == nil || (*slot).Id() != id {
		return
	}
	*slot = nil
	if s.empty() {
		r.remove(s)
		return
	}
	if peer := *s.slot(m.role.Other()); peer != nil {
		_ = peer.Send(api.PeerDisconnectedPacket(m.role))
	}
}

func (r *Registry) remove(s *Session) {
	delete(r.sessions, s.Code)
	sessionsGauge.Dec()
	r.log.Debug().Str("code", s.Code.String()).Msg("session removed")
}

// Forward stamps a negotiation message and queues it to the other party.
func (r *Registry) Forward(conn Conn, m api.Message) error {
	if !m.Type.IsNegotiation() {
		return errNotNegotiation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.members[conn.Id()]
	if !ok {
		return ErrNotJoined
	}
	s, ok := r.sessions[mem.code]
	if !ok {
		return ErrNotJoined
	}
	to := mem.role.Other()
	peer := *s.slot(to)
	if peer == nil || !peer.IsOpen() {
		return fmt.Errorf("%v %w", to, ErrPeerAbsent)
	}
	out, err := api.Stamp(m.Raw, mem.role, r.now().UnixMilli())
	if err != nil {
		return err
	}
	if err := peer.Send(out); err != nil {
		return fmt.Errorf("%v %w: %v", to, ErrPeerAbsent, err)
	}
	relayedTotal.WithLabelValues(string(m.Type)).Inc()
	return nil
}

// IsJoined tells if the connection sits in some session slot.
func (r *Registry) IsJoined(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[conn.Id()]
	return ok
}

// Sweep removes all the sessions older than ttl no matter what.
// Present parties get session-expired, their connections stay open.
func (r *Registry) Sweep(ttl time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, s := range r.sessions {
		if now.Sub(s.CreatedAt) <= ttl {
			continue
		}
		r.evict(s, api.SessionExpiredPacket())
		n++
	}
	expiredTotal.Add(float64(n))
	return n
}

// Close ends the session on demand.
// Present parties get session-closed and their connections are closed.
func (r *Registry) Close(c code.Code) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[c]
	if !ok {
		return false
	}
	for _, conn := range r.evict(s, api.SessionClosedPacket()) {
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}
	return true
}

func (r *Registry) evict(s *Session, notice []byte) (parties []Conn) {
	for _, conn := range []Conn{s.agent, s.technician} {
		if conn == nil {
			continue
		}
		delete(r.members, conn.Id())
		_ = conn.Send(notice)
		parties = append(parties, conn)
	}
	s.agent, s.technician = nil, nil
	r.remove(s)
	return
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Sessions: len(r.sessions), Connections: len(r.members)}
}

// List returns the snapshot of all the sessions ordered by code.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{
			Code:       s.Code,
			CreatedAt:  s.CreatedAt.UnixMilli(),
			Agent:      s.agent != nil,
			Technician: s.technician != nil,
		})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
