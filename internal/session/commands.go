package session

import (
	"context"
	"strings"
	"time"
)

// handleCommand sanitizes and forwards a console command to the server's
// stdin via a non-signal-proxying attach: printable ASCII
// only, quote characters stripped, trimmed, newline-terminated.
func (h *Hub) handleCommand(ctx context.Context, s *session, raw string) {
	cmd := sanitizeCommand(raw)
	if cmd == "" {
		return
	}

	rec, err := h.lifecycle.Get(ctx, s.serverID)
	if err != nil || rec.ContainerID == nil || *rec.ContainerID == "" {
		_ = s.writeFrame("error", map[string]string{"message": "server has no running container"})
		return
	}

	attached, err := h.docker.Attach(ctx, *rec.ContainerID)
	if err != nil {
		_ = s.writeFrame("error", map[string]string{"message": "failed to attach to container"})
		return
	}
	defer attached.Close()

	if _, err := attached.Conn.Write([]byte(cmd + "\n")); err != nil {
		_ = s.writeFrame("error", map[string]string{"message": "failed to write command"})
		return
	}

	// Give the write a moment to flush before tearing the attach down;
	// the daemon doesn't keep this attach open past one command.
	time.Sleep(100 * time.Millisecond)
	_ = attached.CloseWrite()
}

// sanitizeCommand keeps only printable ASCII, strips every quote character
// (not just a surrounding pair), and trims whitespace.
func sanitizeCommand(raw string) string {
	s := strings.TrimSpace(raw)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '"' || r == '\'' {
			continue
		}
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
