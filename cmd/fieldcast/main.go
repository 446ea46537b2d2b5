// Fieldcast — CLI entry point.
//
// This tool links a camera endpoint and a viewer endpoint for a game
// session over a direct WebRTC connection. A signaling relay (or WAMP
// router) is used only during connection setup; media flows peer to
// peer, and both ends restart the connection cooperatively when it
// fails.
//
// It can be launched interactively (no flags) or non-interactively via
// CLI flags (-mode, -session, -relay, -wamp).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"github.com/fieldcast/fieldcast/internal/app"
	"github.com/fieldcast/fieldcast/internal/config"
	"github.com/fieldcast/fieldcast/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	mode := flag.String("mode", "", "Mode: camera or viewer")
	sessionID := flag.String("session", "", "Session (game) id to join")
	relayURL := flag.String("relay", "", "Relay base URL, e.g. wss://relay.example/ws")
	wampURL := flag.String("wamp", "", "WAMP router URL instead of the relay, e.g. ws://router:8000/ws")
	wampRealm := flag.String("realm", "fieldcast", "WAMP realm (with -wamp)")
	turnURL := flag.String("turn", "", "TURN server URL, e.g. turn:turn.example:3478")
	turnUser := flag.String("turnUser", "", "TURN username")
	turnPass := flag.String("turnPass", "", "TURN credential")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Fieldcast — v%s", version))
	pterm.Println()

	cfg := config.Peer{
		SessionID: *sessionID,
		RelayURL:  *relayURL,
		WAMPURL:   *wampURL,
		WAMPRealm: *wampRealm,
		ICE:       iceServers(*turnURL, *turnUser, *turnPass),
	}

	switch *mode {
	case "":
		// No -mode flag → interactive mode.
		runInteractive(ctx, cfg, *debugMode)

	case "camera":
		cfg.Role = config.RoleInitiator
		runSession(ctx, cfg, *debugMode)

	case "viewer":
		cfg.Role = config.RoleResponder
		runSession(ctx, cfg, *debugMode)

	default:
		util.LogError("invalid -mode: must be 'camera' or 'viewer'")
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runInteractive falls back to interactive prompts when no -mode flag is
// provided.
func runInteractive(ctx context.Context, cfg config.Peer, debug bool) {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Camera — Stream this device's feed", "Viewer — Watch a session"}).
		WithDefaultText("Select your mode").
		Show()

	pterm.Println()

	if strings.HasPrefix(mode, "Camera") {
		cfg.Role = config.RoleInitiator
	} else {
		cfg.Role = config.RoleResponder
	}

	if cfg.SessionID == "" {
		cfg.SessionID = askText("Session id (game id)")
	}
	if cfg.RelayURL == "" && cfg.WAMPURL == "" {
		cfg.RelayURL = askRelayURL()
	}

	runSession(ctx, cfg, debug)
}

// runSession executes the session until interrupted.
func runSession(ctx context.Context, cfg config.Peer, debug bool) {
	if cfg.SessionID == "" {
		util.LogError("missing -session id")
		os.Exit(1)
	}
	if cfg.RelayURL == "" && cfg.WAMPURL == "" {
		util.LogError("missing signaling endpoint: set -relay or -wamp")
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg, debug); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("session closed")
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// iceServers builds the static ICE configuration: the STUN defaults,
// plus a TURN entry when one is supplied.
func iceServers(turnURL, user, pass string) []config.ICEServer {
	servers := config.DefaultICEServers()
	if turnURL != "" {
		servers = append(servers, config.ICEServer{
			URLs:       []string{turnURL},
			Username:   user,
			Credential: pass,
		})
	}
	return servers
}

// normalizeRelayURL validates and normalizes a raw relay URL string.
func normalizeRelayURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// askText prompts the user until a non-empty value is entered.
func askText(prompt string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		if v := strings.TrimSpace(raw); v != "" {
			pterm.Println()
			return v
		}

		util.LogWarning("value must not be empty")
		pterm.Println()
	}
}

// askRelayURL prompts the user for a valid relay URL until one is entered.
func askRelayURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay URL (e.g. wss://relay.example)").
			Show()

		relayURL, err := normalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return relayURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
