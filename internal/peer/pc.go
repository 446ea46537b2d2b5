// Package peer owns the underlying WebRTC connection object: it bridges
// local connection events to the signaling layer and applies received
// signals onto the current connection, guarding against signals that
// arrive after a teardown.
package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/fieldcast/fieldcast/internal/config"
)

// newPeerConnection creates a PeerConnection configured with the static
// ICE server list (STUN, and TURN with credentials when configured).
func newPeerConnection(servers []config.ICEServer) (*webrtc.PeerConnection, error) {
	if len(servers) == 0 {
		servers = config.DefaultICEServers()
	}

	iceServers := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
		}
		iceServers = append(iceServers, ice)
	}

	return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}
