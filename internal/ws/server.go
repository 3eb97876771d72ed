package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/experiment-monitor/backend/internal/config"
	"github.com/experiment-monitor/backend/internal/health"
	"github.com/experiment-monitor/backend/internal/session"
	"github.com/gorilla/websocket"
)

type Server struct {
	cfg            *config.Config
	store          *session.Store
	hub            *Hub
	router         *Router
	probe          *health.Probe
	staticHandler  http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, store *session.Store, hub *Hub, router *Router, probe *health.Probe, staticHandler http.Handler) *Server {
	s := &Server{
		cfg:            cfg,
		store:          store,
		hub:            hub,
		router:         router,
		probe:          probe,
		staticHandler:  staticHandler,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/api/session", s.basicAuth(http.HandlerFunc(s.handleSession)))
	mux.Handle("/api/health", s.basicAuth(http.HandlerFunc(s.handleHealth)))

	if s.staticHandler != nil {
		mux.Handle("/", s.basicAuth(s.staticHandler))
	}
}

// handleWS is the connection gateway: it classifies each connection by
// the `type` query parameter (anything but "dashboard" is the
// experiment), enforces the shared-secret token for dashboards, and
// sends late-joining dashboards a session_state snapshot before any
// routed traffic.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	role := RoleExperiment
	if r.URL.Query().Get("type") == "dashboard" {
		role = RoleDashboard
	}
	token := r.URL.Query().Get("token")

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	if role == RoleDashboard && token != s.cfg.Password {
		log.Printf("dashboard connection rejected - invalid token (%s)", r.RemoteAddr)
		msg := websocket.FormatCloseMessage(CloseInvalidToken, "Invalid token")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	var c *client
	if role == RoleDashboard {
		c, err = s.router.RegisterDashboard(conn)
		if err != nil {
			log.Printf("dashboard connection rejected: %v", err)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
			_ = conn.WriteMessage(websocket.CloseMessage, msg)
			conn.Close()
			return
		}
	} else {
		c = s.hub.AddExperiment(conn)
	}

	log.Printf("%s connected: %s (%s)", role, r.RemoteAddr, c.id)

	defer func() {
		s.hub.Unregister(c)
		log.Printf("%s disconnected: %s (%s)", role, r.RemoteAddr, c.id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.router.route(c, data)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.store.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.probe.Report()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Status              string  `json:"status"`
		UptimeSeconds       float64 `json:"uptime_seconds"`
		RSSBytes            uint64  `json:"rss_bytes"`
		CPUPercent          float64 `json:"cpu_percent"`
		Goroutines          int     `json:"goroutines"`
		Dashboards          int     `json:"dashboards"`
		ExperimentConnected bool    `json:"experiment_connected"`
		SessionActive       bool    `json:"session_active"`
	}{
		Status:              "ok",
		UptimeSeconds:       report.UptimeSeconds,
		RSSBytes:            report.RSSBytes,
		CPUPercent:          report.CPUPercent,
		Goroutines:          report.Goroutines,
		Dashboards:          s.hub.DashboardCount(),
		ExperimentConnected: s.hub.ExperimentConnected(),
		SessionActive:       s.store.Active(),
	})
}

// basicAuth gates HTTP routes with the shared secret. Any username is
// accepted; only the password is checked.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || pass != s.cfg.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Experiment Monitor"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, securityHeaders(mux))
}
