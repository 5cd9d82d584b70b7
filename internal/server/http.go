package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

// envelope is the uniform {code, message, data} wrapper spec §6 requires
// of every admin HTTP response.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Code: http.StatusOK, Message: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Code: status, Message: message})
}

// withCORS is permissive by design: the admin surface has no browser-facing
// session state to protect, and the reference dashboard is served from an
// arbitrary origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		log.Printf("admin: %s %s", r.Method, r.URL.Path)
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// routes builds the admin HTTP mux, using Go 1.22's method+wildcard
// ServeMux patterns rather than a router dependency (see DESIGN.md).
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /api/clients", s.handleListClients)
	mux.HandleFunc("DELETE /api/clients/{id}", s.handleDeleteClient)
	mux.HandleFunc("POST /api/clients/{id}/tunnels", s.handleAddTunnel)
	mux.HandleFunc("GET /api/tunnels", s.handleListTunnels)
	mux.HandleFunc("DELETE /api/tunnels/{id}", s.handleDeleteTunnel)
	mux.HandleFunc("GET /tunnel", s.handleTunnelUpgrade)

	return withLogging(withCORS(mux))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("revtun server\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"clients": len(s.reg.ListClients()),
		"tunnels": len(s.reg.ListTunnels()),
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.reg.ListClients())
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.reg.Client(id); !ok {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}
	s.reg.RemoveClient(id)
	writeOK(w, nil)
}

func (s *Server) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.reg.ListTunnels())
}

func (s *Server) handleDeleteTunnel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.reg.Tunnel(id); !ok {
		writeError(w, http.StatusNotFound, "tunnel not found")
		return
	}
	s.reg.CloseTunnel(id)
	writeOK(w, nil)
}

// addTunnelRequest is the POST /api/clients/{id}/tunnels body.
type addTunnelRequest struct {
	TunnelType protocol.TunnelType `json:"tunnel_type,omitempty"`
	LocalAddr  string              `json:"local_addr,omitempty"`
	LocalPort  uint16              `json:"local_port"`
	ServerPort uint16              `json:"server_port,omitempty"`
	Name       string              `json:"name,omitempty"`
}

func (s *Server) handleAddTunnel(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("id")
	outbox, ok := s.reg.ClientOutbox(clientID)
	if !ok {
		writeError(w, http.StatusNotFound, "client not found")
		return
	}

	var req addTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TunnelType == "" {
		req.TunnelType = protocol.TunnelTCP
	}
	if req.LocalAddr == "" {
		req.LocalAddr = "127.0.0.1"
	}

	cfg := protocol.TunnelConfig{
		TunnelType: req.TunnelType,
		LocalAddr:  req.LocalAddr,
		LocalPort:  req.LocalPort,
		RemotePort: req.ServerPort,
		Name:       req.Name,
	}

	info, err := s.reg.AddTunnelToClient(clientID, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Push the new tunnel to the client so it starts accepting NewConnection
	// frames for it; no AddTunnelResponse ack is required (spec §9).
	outbox.Send(&protocol.AddTunnelMessage{
		Type:      "add_tunnel",
		RequestID: info.ID,
		Tunnel:    cfg,
	})

	writeOK(w, info)
}

func (s *Server) handleTunnelUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	go s.handleSession(ws)
}
