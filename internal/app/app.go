// Package app contains the top-level orchestration for the camera and
// viewer endpoints.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/session"
	"github.com/fieldcast/fieldcast/internal/signal"
	"github.com/fieldcast/fieldcast/internal/util"
)

// Run orchestrates one peer endpoint:
//  1. Build the signaling transport (relay websocket or WAMP)
//  2. Attach outbound media for the camera role
//  3. Start the session and report status transitions
//  4. Block until the context is cancelled, then tear down
func Run(ctx context.Context, cfg config.Peer, debug bool) error {
	level := "info"
	if debug {
		level = "debug"
	}
	logger := util.NewLogger(level).WithFields(logrus.Fields{
		"session": cfg.SessionID,
		"role":    cfg.Role,
	})

	tr, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}

	var local []webrtc.TrackLocal
	if cfg.Role == config.RoleInitiator {
		// The camera side. Real capture lives outside this tool; a
		// synthetic pattern track keeps the link demonstrable without a
		// device.
		track, stop, err := newSyntheticTrack()
		if err != nil {
			return fmt.Errorf("failed to create outbound track: %w", err)
		}
		defer stop()
		local = []webrtc.TrackLocal{track}
	}

	sess := session.New(tr, session.Options{
		SessionID:   cfg.SessionID,
		Role:        cfg.Role,
		LocalTracks: local,
		ICE:         cfg.ICE,
		OnStatusChange: func(s session.Status) {
			switch s {
			case session.Connected:
				util.LogInfo("connected")
			case session.Connecting:
				util.LogInfo("connecting...")
			case session.Disconnected:
				util.LogWarning("peer closed the connection")
			case session.Error:
				util.LogError("connection error")
			case session.Idle:
				util.LogInfo("idle")
			}
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			util.LogInfo("receiving %s", track.Codec().MimeType)
			go drainTrack(track)
		},
	}, logger)

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.Disconnect()

	util.StartStatsReporter(ctx)

	<-ctx.Done()

	if msg := sess.Err(); msg != "" {
		return fmt.Errorf("session ended with error: %s", msg)
	}
	return nil
}

// buildTransport selects the signaling transport from the configuration.
// The relay websocket is the default; a WAMP router URL switches to the
// pub/sub transport.
func buildTransport(cfg config.Peer, logger *logrus.Entry) (signal.Transport, error) {
	switch {
	case cfg.WAMPURL != "":
		return signal.NewWAMPTransport(cfg.WAMPURL, cfg.WAMPRealm, cfg.Role, logger), nil
	case cfg.RelayURL != "":
		return signal.NewWSTransport(cfg.RelayURL, cfg.Role, logger), nil
	default:
		return nil, fmt.Errorf("no signaling endpoint configured")
	}
}

// drainTrack consumes inbound RTP so the jitter buffer does not fill up.
// Rendering is an external collaborator; this binary only proves the
// media path is alive.
func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if err != io.EOF {
				util.LogDebug("remote track read ended: %v", err)
			}
			return
		}
	}
}
