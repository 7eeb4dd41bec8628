package session

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/lifecycle"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// runLive drives an authenticated session through Live, attaching the
// log tail and stats sampler, then reading command/power/heartbeat
// frames until the client disconnects. The stats sampler and the read
// loop run under an errgroup: when the read loop ends it returns a
// non-nil error, which cancels the sampler's context so it does not
// outlive the closed session.
func (h *Hub) runLive(s *session) {
	s.setState(StateLive)

	g, ctx := errgroup.WithContext(context.Background())

	h.ensureAttached(s.serverID)
	g.Go(func() error {
		h.sampleStats(ctx, s)
		return nil
	})

	g.Go(func() error {
		return h.readLoop(ctx, s)
	})

	_ = g.Wait()
}

// errSessionClosed signals the read loop's natural exit, giving the
// errgroup something non-nil to cancel sampleStats's context on.
var errSessionClosed = errors.New("session closed")

// sendCommandData is the inbound payload shape for a "send_command"
// frame.
type sendCommandData struct {
	Data string `json:"data"`
}

// powerActionData is the inbound payload shape for a "power_action"
// frame.
type powerActionData struct {
	Data struct {
		Action string `json:"action"`
	} `json:"data"`
}

func (h *Hub) readLoop(ctx context.Context, s *session) error {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("session read error", "server_id", s.serverID, "session", s.id, "error", err)
			}
			return errSessionClosed
		}

		if len(raw) > maxPayloadSize {
			_ = s.writeFrame("error", map[string]string{"message": argonerr.KindPayloadTooLarge.String()})
			continue
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			_ = s.writeFrame("error", map[string]string{"message": "malformed frame"})
			continue
		}

		s.touchHeartbeat()

		switch f.Event {
		case "send_command":
			var cmd sendCommandData
			_ = json.Unmarshal(raw, &cmd)
			s.setState(StateCommand)
			h.handleCommand(ctx, s, cmd.Data)
			s.setState(StateLive)

		case "power_action":
			var pa powerActionData
			if err := json.Unmarshal(raw, &pa); err != nil {
				_ = s.writeFrame("error", map[string]string{"message": "malformed power_action"})
				continue
			}
			s.setState(StatePower)
			h.handlePower(ctx, s, pa.Data.Action)
			s.setState(StateLive)

		case "heartbeat":
			_ = s.writeFrame("heartbeat_ack", nil)

		default:
			_ = s.writeFrame("error", map[string]string{"message": "unknown event"})
		}
	}
}

func (h *Hub) handlePower(ctx context.Context, s *session, action string) {
	h.broadcast(s.serverID, "power_status", map[string]string{
		"status": "processing", "action": action,
	})

	err := h.lifecycle.Power(ctx, s.serverID, lifecycle.PowerAction(action))
	if err != nil {
		var ae *argonerr.Error
		msg := err.Error()
		if errors.As(err, &ae) {
			msg = ae.Kind.String()
		}
		h.broadcast(s.serverID, "power_status", map[string]string{
			"status": "failed", "action": action, "error": msg,
		})
		return
	}

	rec, _ := h.lifecycle.Get(ctx, s.serverID)
	state := ""
	if rec != nil {
		state = string(rec.State)
	}
	h.broadcast(s.serverID, "power_status", map[string]string{
		"status": "ok", "action": action, "state": state,
	})

	// A start/restart just replaced the container's log stream; re-arm
	// the attacher so it picks up the new stdout instead of blocking on
	// the old (now-dead) one. Done after the broadcast so the power
	// response precedes any log output from the new instance.
	if action == string(lifecycle.PowerStart) || action == string(lifecycle.PowerRestart) {
		h.rearmAttacher(s.serverID)
	}
}
