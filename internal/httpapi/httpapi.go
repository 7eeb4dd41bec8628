// Package httpapi implements the daemon's panel-facing HTTP surface and
// the live-session upgrade endpoint, using the standard library's
// method+pattern ServeMux.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/lifecycle"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/session"
)

// Server wires the lifecycle controller and session hub to their HTTP
// and WebSocket surfaces.
type Server struct {
	lifecycle *lifecycle.Controller
	hub       *session.Hub
	apiKey    string
	log       *slog.Logger
}

// New creates a Server. An empty apiKey disables the X-API-Key check
// (local development only).
func New(lc *lifecycle.Controller, hub *session.Hub, apiKey string, log *slog.Logger) *Server {
	return &Server{lifecycle: lc, hub: hub, apiKey: apiKey, log: log}
}

// Routes builds the daemon's mux: the /api/v1/servers surface plus the
// live-socket upgrade at the root.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/servers", s.requireAPIKey(s.handleCreate))
	mux.HandleFunc("GET /api/v1/servers", s.requireAPIKey(s.handleList))
	mux.HandleFunc("GET /api/v1/servers/{id}", s.requireAPIKey(s.handleGet))
	mux.HandleFunc("PATCH /api/v1/servers/{id}", s.requireAPIKey(s.handleUpdate))
	mux.HandleFunc("DELETE /api/v1/servers/{id}", s.requireAPIKey(s.handleDelete))
	mux.HandleFunc("POST /api/v1/servers/{id}/reinstall", s.requireAPIKey(s.handleReinstall))
	mux.HandleFunc("POST /api/v1/servers/{id}/cargo/ship", s.requireAPIKey(s.handleCargoShip))
	mux.HandleFunc("POST /api/v1/servers/{id}/power/{action}", s.requireAPIKey(s.handlePower))

	mux.HandleFunc("GET /", s.handleLiveSocket)

	return mux
}

func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.hub.ServeHTTP(w, r, q.Get("server"), q.Get("token"))
}

type createRequest struct {
	ServerID         string  `json:"serverId"`
	ValidationToken  string  `json:"validationToken"`
	Name             string  `json:"name"`
	MemoryLimit      int64   `json:"memoryLimit"`
	CPULimit         float64 `json:"cpuLimit"`
	Allocation       struct {
		BindAddress string `json:"bindAddress"`
		Port        int    `json:"port"`
	} `json:"allocation"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.lifecycle.Create(r.Context(), lifecycle.CreateRequest{
		ServerID:         req.ServerID,
		Name:             req.Name,
		AllocationBind:   req.Allocation.BindAddress,
		AllocationPort:   req.Allocation.Port,
		MemoryLimitBytes: req.MemoryLimit,
		CPULimitCores:    req.CPULimit,
	})
	if err != nil {
		writeKindError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              rec.ID,
		"name":            rec.Name,
		"state":           "installing",
		"validationToken": req.ValidationToken,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.lifecycle.List(r.Context())
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}

	type augmented struct {
		*record.ServerRecord
		Status any `json:"status,omitempty"`
	}
	out := augmented{ServerRecord: rec}
	if rec.ContainerID != nil && *rec.ContainerID != "" {
		if status, err := s.lifecycle.Status(r.Context(), id); err == nil {
			out.Status = status
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type updateRequest struct {
	ID               string  `json:"id"`
	RefetchConfig    bool    `json:"unitChanged"`
	Name             string  `json:"name"`
	MemoryLimit      int64   `json:"memoryLimit"`
	CPULimit         float64 `json:"cpuLimit"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID != "" && req.ID != id {
		writeError(w, http.StatusBadRequest, "id mismatch")
		return
	}

	if err := s.lifecycle.Update(r.Context(), id, lifecycle.UpdateRequest{
		RefetchConfig:    req.RefetchConfig,
		Name:             req.Name,
		MemoryLimitBytes: req.MemoryLimit,
		CPULimitCores:    req.CPULimit,
	}); err != nil {
		writeKindError(w, err)
		return
	}

	rec, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "server updated", "server": rec})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.lifecycle.Get(r.Context(), id); err != nil {
		writeKindError(w, err)
		return
	}
	if err := s.lifecycle.Delete(r.Context(), id); err != nil {
		writeKindError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReinstall(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.lifecycle.Reinstall(r.Context(), id); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "reinstall started"})
}

type cargoShipRequest struct {
	Cargo []record.CargoFile `json:"cargo"`
}

func (s *Server) handleCargoShip(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req cargoShipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cargo == nil {
		writeError(w, http.StatusBadRequest, "invalid cargo payload")
		return
	}

	if err := s.lifecycle.ShipCargo(r.Context(), id, req.Cargo); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "cargo shipped"})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := lifecycle.PowerAction(r.PathValue("action"))

	switch action {
	case lifecycle.PowerStart, lifecycle.PowerStop, lifecycle.PowerRestart, lifecycle.PowerKill:
	default:
		writeError(w, http.StatusBadRequest, "unknown power action")
		return
	}

	if err := s.lifecycle.Power(r.Context(), id, action); err != nil {
		writeKindError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "power action applied"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeKindError maps an argonerr.Kind to its HTTP status code.
func writeKindError(w http.ResponseWriter, err error) {
	var ae *argonerr.Error
	if errors.As(err, &ae) {
		switch ae.Kind {
		case argonerr.KindRecordNotFound:
			writeError(w, http.StatusNotFound, err.Error())
			return
		case argonerr.KindInvalidTransition, argonerr.KindVariableRuleViolation, argonerr.KindUnknownCargo:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
