package api

import "github.com/goccy/go-json"

type (
	// JoinRequest is the first thing a party sends after connecting.
	JoinRequest struct {
		Type Type   `json:"type"`
		Code string `json:"code"`
		Role string `json:"role"`
	}
	JoinedResponse struct {
		Type    Type   `json:"type"`
		Code    string `json:"code"`
		Role    Role   `json:"role"`
		Success bool   `json:"success"`
	}
	// PeerEvent is sent for peer-joined and peer-disconnected,
	// the role is always the role of the other party.
	PeerEvent struct {
		Type Type `json:"type"`
		Role Role `json:"role"`
	}
	// Notice is a message with some human-readable text:
	// error, session-expired, session-closed, superseded.
	Notice struct {
		Type    Type   `json:"type"`
		Message string `json:"message"`
	}
	Heartbeat struct {
		Type      Type  `json:"type"`
		Timestamp int64 `json:"timestamp,omitempty"`
	}
	WelcomeMessage struct {
		Type      Type   `json:"type"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}
	// Negotiation is any of offer, answer or ice-candidate.
	// The payloads are kept raw since the broker never looks inside.
	Negotiation struct {
		Type      Type            `json:"type"`
		Code      string          `json:"code,omitempty"`
		Role      Role            `json:"role,omitempty"`
		Offer     json.RawMessage `json:"offer,omitempty"`
		Answer    json.RawMessage `json:"answer,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
		From      Role            `json:"from,omitempty"`
		Timestamp int64           `json:"timestamp,omitempty"`
	}
)

// Payload returns the negotiation data for the message type.
func (n Negotiation) Payload() json.RawMessage {
	switch n.Type {
	case Offer:
		return n.Offer
	case Answer:
		return n.Answer
	case IceCandidate:
		return n.Candidate
	}
	return nil
}

func encode(v any) []byte {
	// these are plain structs that can't fail
	b, _ := json.Marshal(v)
	return b
}

func JoinPacket(code string, role Role) []byte {
	return encode(JoinRequest{Type: Join, Code: code, Role: string(role)})
}

func JoinedPacket(code string, role Role) []byte {
	return encode(JoinedResponse{Type: Joined, Code: code, Role: role, Success: true})
}

func PeerJoinedPacket(role Role) []byte { return encode(PeerEvent{Type: PeerJoined, Role: role}) }

func PeerDisconnectedPacket(role Role) []byte {
	return encode(PeerEvent{Type: PeerDisconnected, Role: role})
}

func ErrorPacket(message string) []byte { return encode(Notice{Type: Error, Message: message}) }

func SessionExpiredPacket() []byte {
	return encode(Notice{Type: SessionExpired, Message: "session expired due to inactivity"})
}

func SessionClosedPacket() []byte {
	return encode(Notice{Type: SessionClosed, Message: "session closed"})
}

func SupersededPacket() []byte {
	return encode(Notice{Type: Superseded, Message: "another connection took this role"})
}

func PingPacket(ts int64) []byte { return encode(Heartbeat{Type: Ping, Timestamp: ts}) }
func PongPacket(ts int64) []byte { return encode(Heartbeat{Type: Pong, Timestamp: ts}) }

func WelcomePacket(ts int64) []byte {
	return encode(WelcomeMessage{Type: Welcome, Message: "connected to the signaling server", Timestamp: ts})
}

func NegotiationPacket(n Negotiation) []byte { return encode(n) }
