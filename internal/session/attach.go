package session

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/argon-hosting/daemon/internal/dockergw"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/streamframe"
)

const (
	burstWindow  = 100 * time.Millisecond
	burstLineCap = 10
	brandFrom    = "pterodactyl"
	brandTo      = "argon"
)

// ensureAttached starts the single log-attacher goroutine for serverID
// if one isn't already running.
func (h *Hub) ensureAttached(serverID string) {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()
	if _, ok := h.attachers[serverID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.attachers[serverID] = cancel
	go h.attachLogs(ctx, serverID)
}

// rearmAttacher restarts the attacher for serverID — used after a power
// action replaces the underlying container's output stream.
func (h *Hub) rearmAttacher(serverID string) {
	h.stopAttacher(serverID)
	h.ensureAttached(serverID)
}

func (h *Hub) stopAttacher(serverID string) {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()
	if cancel, ok := h.attachers[serverID]; ok {
		cancel()
		delete(h.attachers, serverID)
	}
}

// attachLogs tails the server's runtime container output from the moment
// of attach (no earlier backlog), appends each new line to the per-server
// ring, and broadcasts it to every
// live session as "console_output" frames — rewriting the legacy
// "pterodactyl" brand string to "argon" and dropping excess
// lines within a burst window.
// On error or EOF it restarts after a 5 s delay as long as the attacher
// hasn't been cancelled.
func (h *Hub) attachLogs(ctx context.Context, serverID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		again := h.attachLogsOnce(ctx, serverID)
		if !again {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// attachLogsOnce runs a single attach cycle, returning true if the
// attacher should retry (a stream error/EOF while the session is still
// open) and false if it should stop for good (cancelled, or no
// container).
func (h *Hub) attachLogsOnce(ctx context.Context, serverID string) bool {
	rec, err := h.lifecycle.Get(ctx, serverID)
	if err != nil || rec.ContainerID == nil || *rec.ContainerID == "" {
		return false
	}

	ring := h.logs.Get(serverID)

	logs, err := h.docker.GetLogs(ctx, *rec.ContainerID, true, "0")
	if err != nil {
		h.log.Warn("attach container logs failed", "server_id", serverID, "error", err)
		return ctx.Err() == nil
	}
	defer logs.Close()

	closed := make(chan struct{})
	defer close(closed)
	go func() {
		select {
		case <-ctx.Done():
			logs.Close()
		case <-closed:
		}
	}()

	var dec streamframe.Decoder
	buf := make([]byte, 4096)
	windowStart := time.Now()
	windowCount := 0

	emit := func(raw string) {
		line := strings.TrimSpace(raw)
		if line == "" {
			return
		}
		now := time.Now()
		if now.Sub(windowStart) > burstWindow {
			windowStart = now
			windowCount = 0
		}
		windowCount++
		if windowCount > burstLineCap {
			return
		}

		rewritten := strings.ReplaceAll(line, brandFrom, brandTo)
		formatted := logbuffer.Format(logbuffer.Info, rewritten)
		ring.Append(formatted)
		h.broadcast(serverID, "console_output", map[string]string{"message": formatted})
	}

	for {
		n, rerr := logs.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				emit(line)
			}
		}
		if rerr != nil {
			if rerr != io.EOF && ctx.Err() == nil {
				h.log.Debug("log stream ended", "server_id", serverID, "error", rerr)
			}
			return ctx.Err() == nil
		}
	}
}

// sampleStats pushes a stats snapshot to s every statsInterval until ctx
// is cancelled or the session closes.
func (h *Hub) sampleStats(ctx context.Context, s *session) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	var prev *dockergw.Stats
	var prevAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.getState() == StateClosed {
				return
			}
			rec, err := h.lifecycle.Get(ctx, s.serverID)
			if err != nil {
				continue
			}
			if rec.ContainerID == nil || *rec.ContainerID == "" {
				if err := s.writeFrame("stats", map[string]string{"state": string(rec.State)}); err != nil {
					return
				}
				continue
			}

			status, err := h.docker.Inspect(ctx, *rec.ContainerID)
			if err != nil || !status.Running {
				state := string(rec.State)
				if status != nil {
					state = status.State
				}
				if err := s.writeFrame("stats", map[string]string{"state": state}); err != nil {
					return
				}
				prev = nil
				continue
			}

			stats, err := h.docker.StatsOnce(ctx, *rec.ContainerID)
			if err != nil {
				continue
			}
			now := time.Now()
			data := statsFrame(status.State, stats, prev, now.Sub(prevAt))
			prev, prevAt = stats, now

			if err := s.writeFrame("stats", data); err != nil {
				return
			}
		}
	}
}

// statsFrame builds the "stats" event payload: cpu percent
// clamped to [0,100], memory used/limit/percent, and network rx/tx
// absolute counters plus byte/sec rates relative to prev.
func statsFrame(state string, cur, prev *dockergw.Stats, elapsed time.Duration) map[string]any {
	var cpuPercent float64
	if prev != nil {
		deltaTotal := float64(cur.CPUTotalUsage) - float64(prev.CPUTotalUsage)
		deltaSystem := float64(cur.SystemCPUUsage) - float64(prev.SystemCPUUsage)
		if deltaSystem > 0 && deltaTotal >= 0 {
			onlineCPUs := cur.OnlineCPUs
			if onlineCPUs == 0 {
				onlineCPUs = 1
			}
			cpuPercent = (deltaTotal / deltaSystem) * float64(onlineCPUs) * 100
			if cpuPercent > 100 {
				cpuPercent = 100
			}
			if cpuPercent < 0 {
				cpuPercent = 0
			}
		}
	}

	var memPercent float64
	if cur.MemoryLimit > 0 {
		memPercent = float64(cur.MemoryUsage) / float64(cur.MemoryLimit) * 100
	}

	var rxRate, txRate float64
	if prev != nil && elapsed > 0 {
		secs := elapsed.Seconds()
		if cur.NetworkRxBytes >= prev.NetworkRxBytes {
			rxRate = float64(cur.NetworkRxBytes-prev.NetworkRxBytes) / secs
		}
		if cur.NetworkTxBytes >= prev.NetworkTxBytes {
			txRate = float64(cur.NetworkTxBytes-prev.NetworkTxBytes) / secs
		}
	}

	return map[string]any{
		"state":       state,
		"cpu_percent": cpuPercent,
		"memory": map[string]any{
			"used":    cur.MemoryUsage,
			"limit":   cur.MemoryLimit,
			"percent": memPercent,
		},
		"network": map[string]any{
			"rx_bytes": cur.NetworkRxBytes,
			"tx_bytes": cur.NetworkTxBytes,
			"rx_rate":  rxRate,
			"tx_rate":  txRate,
		},
	}
}
