// Package session implements the live browser session multiplexer: one
// WebSocket per open console tab, carrying log tail, stats, command
// input, and power actions over a single full-duplex connection,
// validated against the panel and gated by a small state machine.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/dockergw"
	"github.com/argon-hosting/daemon/internal/lifecycle"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/panelclient"
)

// State is the per-connection state machine: Opened ->
// Validating -> Authenticated -> Live, with Command/Power as transient
// sub-states entered and left within a single Live session, and Closed
// as the terminal state from any point.
type State string

const (
	StateOpened        State = "Opened"
	StateValidating    State = "Validating"
	StateAuthenticated State = "Authenticated"
	StateLive          State = "Live"
	StateCommand       State = "Command"
	StatePower         State = "Power"
	StateClosed        State = "Closed"
)

const (
	authDeadline   = 5 * time.Second
	maxPayloadSize = 50 * 1024 // 50 KiB
	statsInterval  = 2 * time.Second
)

// Upgrader is shared across all connections; origin checking is left
// permissive since the daemon sits behind the panel's own reverse proxy.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is the wire envelope for both directions: `{event, data}` JSON,
// with data shaped per event.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// session is one live WebSocket connection.
type session struct {
	conn     *websocket.Conn
	serverID string
	id       string // short random id, for log correlation

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time

	writeMu sync.Mutex
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) touchHeartbeat() {
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
}

func (s *session) writeFrame(event string, data any) error {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = encoded
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if len(raw) > maxPayloadSize {
		return nil // oversized payloads are dropped, not sent
	}
	return s.conn.WriteJSON(frame{Event: event, Data: raw})
}

func newSessionID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Hub owns every live session plus the shared dependencies they need:
// panel validation, the lifecycle controller (for power actions and
// container attach), and the per-server log ring registry.
type Hub struct {
	panel      *panelclient.Client
	lifecycle  *lifecycle.Controller
	docker     *dockergw.Client
	logs       *logbuffer.Registry
	log        *slog.Logger
	validation *validationCache

	maxConnsPerIP int

	mu       sync.Mutex
	byServer map[string]map[*session]struct{}

	ipMu       sync.Mutex
	connsPerIP map[string]int

	attachMu  sync.Mutex
	attachers map[string]context.CancelFunc
}

// NewHub creates a Hub. maxConnsPerIP bounds concurrent connections per
// client IP; zero disables the bound.
func NewHub(panel *panelclient.Client, lc *lifecycle.Controller, docker *dockergw.Client, logs *logbuffer.Registry, maxConnsPerIP int, log *slog.Logger) *Hub {
	h := &Hub{
		panel:         panel,
		lifecycle:     lc,
		docker:        docker,
		logs:          logs,
		log:           log,
		maxConnsPerIP: maxConnsPerIP,
		validation:    newValidationCache(),
		byServer:      make(map[string]map[*session]struct{}),
		connsPerIP:    make(map[string]int),
		attachers:     make(map[string]context.CancelFunc),
	}
	return h
}

// RunValidationSweep evicts expired validation cache entries on a fixed
// interval until ctx is cancelled.
func (h *Hub) RunValidationSweep(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.validation.sweep()
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs one session to
// completion. server and token come from the connection URL's query
// parameters; the server id is sanitized before it is ever used in a
// filesystem or Docker lookup.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, rawServerID, token string) {
	ip := clientIP(r)
	if !h.acquireIP(ip) {
		http.Error(w, "too many connections", http.StatusTooManyRequests)
		return
	}
	defer h.releaseIP(ip)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	s := &session{
		conn:          conn,
		serverID:      sanitizeServerID(rawServerID),
		id:            newSessionID(),
		state:         StateOpened,
		lastHeartbeat: time.Now(),
	}
	h.register(s)
	defer h.unregister(s)
	defer conn.Close()

	conn.SetReadLimit(maxPayloadSize + 1024) // allow the envelope overhead past the payload cap
	conn.SetPingHandler(func(appData string) error {
		s.touchHeartbeat()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	if !h.authenticate(s, token) {
		return
	}

	h.runLive(s)
}

// sanitizeServerID strips every character outside [A-Za-z0-9_-] from a
// client-supplied server id.
func sanitizeServerID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// acquireIP counts a connection against ip, refusing it once the
// per-IP bound is reached. A zero bound disables the check.
func (h *Hub) acquireIP(ip string) bool {
	if h.maxConnsPerIP <= 0 {
		return true
	}
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	if h.connsPerIP[ip] >= h.maxConnsPerIP {
		h.log.Warn("connection refused, per-ip bound reached", "ip", ip)
		return false
	}
	h.connsPerIP[ip]++
	return true
}

func (h *Hub) releaseIP(ip string) {
	if h.maxConnsPerIP <= 0 {
		return
	}
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	if h.connsPerIP[ip] <= 1 {
		delete(h.connsPerIP, ip)
	} else {
		h.connsPerIP[ip]--
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byServer[s.serverID]
	if !ok {
		set = make(map[*session]struct{})
		h.byServer[s.serverID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unregister(s *session) {
	s.setState(StateClosed)
	h.mu.Lock()
	empty := false
	if set, ok := h.byServer[s.serverID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byServer, s.serverID)
			empty = true
		}
	}
	h.mu.Unlock()

	if empty {
		h.stopAttacher(s.serverID)
	}
}

// broadcast fans a frame out to every live session for serverID, capped
// at 10 recipients per invocation.
func (h *Hub) broadcast(serverID, event string, data any) {
	h.mu.Lock()
	set := h.byServer[serverID]
	targets := make([]*session, 0, len(set))
	skipped := 0
	for s := range set {
		st := s.getState()
		if st != StateLive && st != StateCommand && st != StatePower {
			continue
		}
		if len(targets) >= 10 {
			skipped++
			continue
		}
		targets = append(targets, s)
	}
	h.mu.Unlock()

	if skipped > 0 {
		h.log.Warn("broadcast recipients skipped over cap", "server_id", serverID, "skipped", skipped)
	}
	for _, s := range targets {
		_ = s.writeFrame(event, data)
	}
}

// authenticate validates token against the panel (with the validation
// cache) within authDeadline and closes the connection on failure.
// Panel and transport validation failures close 1008; exceeding the
// deadline closes 1013.
func (h *Hub) authenticate(s *session, token string) bool {
	s.setState(StateValidating)

	done := make(chan *panelclient.ValidationResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), authDeadline)
		defer cancel()
		done <- h.validation.validate(ctx, h.panel, s.serverID, token)
	}()

	var result *panelclient.ValidationResult
	select {
	case result = <-done:
	case <-time.After(authDeadline):
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(1013, argonerr.KindAuthTimeout.String()))
		return false
	}

	if result == nil || !result.Validated {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(1008, argonerr.KindInvalidToken.String()))
		return false
	}

	rec, err := h.lifecycle.Get(context.Background(), s.serverID)
	if err != nil || rec.ContainerID == nil || *rec.ContainerID == "" {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(1011, "no container"))
		return false
	}

	s.setState(StateAuthenticated)

	ring := h.logs.Get(s.serverID)
	for _, line := range ring.Tail(10) {
		_ = s.writeFrame("console_output", map[string]string{"message": line})
	}

	if stats, err := h.docker.StatsOnce(context.Background(), *rec.ContainerID); err == nil {
		_ = s.writeFrame("stats", statsFrame(string(rec.State), stats, nil, 0))
	} else {
		_ = s.writeFrame("stats", map[string]string{"state": string(rec.State)})
	}

	_ = s.writeFrame("auth_success", map[string]string{"state": string(rec.State)})
	return true
}
