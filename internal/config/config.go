// Package config holds the shared configuration types for peers and the
// relay daemon.
package config

// Role identifies which side of the asymmetric handshake a peer plays.
// The initiator creates the SDP offer; the responder answers it. The role
// is fixed for the lifetime of a session object.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

// ICEServer describes a STUN or TURN server handed to every created
// PeerConnection. TURN entries carry credentials; STUN entries leave them
// empty.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// DefaultICEServers returns the STUN-only fallback used when no ICE
// configuration is supplied.
func DefaultICEServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		}},
	}
}

// Peer stores all parameters needed to run one peer endpoint.
type Peer struct {
	SessionID string // opaque session (game) id; empty means inactive
	Role      Role
	RelayURL  string // websocket relay, e.g. wss://relay.example/ws
	WAMPURL   string // alternative WAMP router, e.g. ws://router:8000/ws
	WAMPRealm string
	ICE       []ICEServer
}

// Relay stores the relay daemon parameters.
type Relay struct {
	Addr          string   `mapstructure:"addr"`
	RedisAddr     string   `mapstructure:"redis-addr"` // empty disables the redis registry
	RedisPassword string   `mapstructure:"redis-password"`
	RedisDB       int      `mapstructure:"redis-db"`
	LogLevel      string   `mapstructure:"log-level"`
	AllowedOrigin []string `mapstructure:"allowed-origins"`
}
